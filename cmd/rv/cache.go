package main

import (
	"fmt"

	"github.com/spinel-coop/rv/internal/cache"
	"github.com/spinel-coop/rv/internal/config"
)

func runCache(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: rv cache <clean|stats|dir>")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch args[0] {
	case "dir":
		fmt.Println(cfg.CacheDir)
		return nil
	case "stats":
		stats, err := cache.New(cfg.CacheDir).Stats()
		if err != nil {
			return err
		}
		fmt.Println(stats)
		return nil
	case "clean":
		removal, err := cache.RmRf(cfg.CacheDir)
		if err != nil {
			return err
		}
		fmt.Println(removal)
		return nil
	}

	return fmt.Errorf("unknown cache subcommand %q", args[0])
}
