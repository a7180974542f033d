package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <ref> <rootfs>",
		Short: "Register a rootfs directory as an importable stage base",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.Import(cmd.Context(), args[0], args[1])
		},
	}
}
