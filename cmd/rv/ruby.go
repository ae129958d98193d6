package main

import (
	"fmt"
	"os"

	"github.com/spinel-coop/rv/internal/config"
	"github.com/spinel-coop/rv/internal/ruby"
)

func runRuby(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: rv ruby <pin|list> [version]")
	}

	switch args[0] {
	case "pin":
		if len(args) < 2 {
			if pinned, ok := ruby.ReadPin("."); ok {
				fmt.Println(pinned)
				return nil
			}
			return fmt.Errorf("no .ruby-version in this directory; usage: rv ruby pin <version>")
		}
		requested := ruby.ParseRequest(args[1])
		if err := ruby.WritePin(".", requested); err != nil {
			return err
		}
		fmt.Printf("%s pinned to %s\n", successStyle.Render("Pinned:"), requested)
		return nil

	case "list":
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		installed, err := ruby.FindInstalled(cfg.RubiesDir())
		if err != nil {
			return err
		}
		if len(installed) == 0 {
			fmt.Fprintln(os.Stderr, "No rubies installed.")
			return nil
		}
		for _, r := range installed {
			fmt.Printf("%s\t%s\n", r, subtleStyle.Render(r.Path))
		}
		return nil
	}

	return fmt.Errorf("unknown ruby subcommand %q", args[0])
}
