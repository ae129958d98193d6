package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spinel-coop/rv/internal/config"
	"github.com/spinel-coop/rv/internal/installer"
	"github.com/spinel-coop/rv/internal/lockfile"
	"github.com/spinel-coop/rv/internal/logger"
)

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Minute}
}

func runCI(args []string) error {
	flags := flag.NewFlagSet("ci", flag.ContinueOnError)
	lockPath := flags.String("lockfile", "Gemfile.lock", "lockfile to install from")
	prefix := flags.String("prefix", "", "install prefix (default vendor/bundle)")
	force := flags.Bool("force", false, "reinstall gems that are already present")
	verbose := flags.Bool("verbose", false, "enable debug logging")
	if err := flags.Parse(args); err != nil {
		return err
	}
	logger.Setup(*verbose)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Verbose = *verbose

	lock, err := lockfile.ParseFile(*lockPath)
	if err != nil {
		return err
	}

	installPrefix := *prefix
	if installPrefix == "" {
		installPrefix = filepath.Join("vendor", "bundle")
	}

	inst := installer.New(cfg, defaultHTTPClient())
	inst.Force = *force

	start := time.Now()
	report, err := inst.CI(context.Background(), lock, installPrefix)
	if err != nil {
		return err
	}

	fmt.Printf("%s %d installed, %d already present (%s)\n",
		successStyle.Render("Done:"),
		report.Installed, report.Skipped,
		time.Since(start).Round(time.Millisecond))
	if report.ExtensionsFailed > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d gem(s) failed to build native extensions\n", report.ExtensionsFailed)
	}
	return nil
}
