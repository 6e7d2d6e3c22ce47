package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fluxgate/internal/instance"
)

func newInstanceCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "instance",
		Short: "Inspect this process's instance identity",
	}
	root.AddCommand(newInstanceInfoCmd())
	return root
}

func newInstanceInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print this instance's persisted UID",
		RunE: func(cmd *cobra.Command, args []string) error {
			workdir := getenv("WORKDIR", ".")
			uid, err := instance.LoadOrCreateUID(workdir)
			if err != nil {
				return err
			}
			fmt.Printf("uid: %s\nworkdir: %s\n", uid, workdir)
			return nil
		},
	}
}
