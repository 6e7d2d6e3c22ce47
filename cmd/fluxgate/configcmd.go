package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fluxgate/internal/config"
	"fluxgate/internal/config/file"
)

func newConfigCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate declarative configuration",
	}
	root.AddCommand(newConfigValidateCmd())
	return root
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Parse a configuration file and report errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := file.New(args[0])
			cfg, err := store.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			if cfg == nil {
				cfg = &config.Config{}
			}
			rt, err := config.NewRuntime(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d ingester(s), %d user(s)\n", len(rt.Ingesters()), len(cfg.Users))
			return nil
		},
	}
}
