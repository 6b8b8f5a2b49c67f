package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trybeacon/bridge/internal/backend"
)

func newPlatformCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platform",
		Short: "Print the backend binary name for this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := backend.CurrentPlatform()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.BinaryName())
			return nil
		},
	}
}
