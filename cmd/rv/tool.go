package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spinel-coop/rv/internal/config"
	"github.com/spinel-coop/rv/internal/installer"
)

func runTool(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: rv tool <install|uninstall|list> [gem[@version]]")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch args[0] {
	case "install":
		if len(args) < 2 {
			return fmt.Errorf("usage: rv tool install <gem>[@version]")
		}
		inst := installer.New(cfg, defaultHTTPClient())
		installed, err := inst.ToolInstall(context.Background(), args[1])
		if err != nil {
			return err
		}
		if installed.AlreadyInstalled {
			fmt.Printf("%s %s@%s already installed at %s\n",
				subtleStyle.Render("Skipped:"), installed.Gem, installed.Version, installed.Dir)
			return nil
		}
		fmt.Printf("%s %s@%s to %s (ruby %s)\n",
			successStyle.Render("Installed:"), installed.Gem, installed.Version, installed.Dir, installed.Ruby)
		return nil

	case "uninstall":
		if len(args) < 2 {
			return fmt.Errorf("usage: rv tool uninstall <gem>[@version]")
		}
		inst := installer.New(cfg, defaultHTTPClient())
		removed, err := inst.ToolUninstall(args[1])
		if err != nil {
			return err
		}
		for _, dir := range removed {
			fmt.Printf("%s %s\n", successStyle.Render("Removed:"), dir)
		}
		return nil

	case "list":
		entries, err := os.ReadDir(cfg.ToolsDir())
		if os.IsNotExist(err) || (err == nil && len(entries) == 0) {
			fmt.Println("No tools installed.")
			return nil
		}
		if err != nil {
			return err
		}
		var names []string
		for _, entry := range entries {
			if entry.IsDir() && strings.Contains(entry.Name(), "@") {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}

	return fmt.Errorf("unknown tool subcommand %q", args[0])
}
