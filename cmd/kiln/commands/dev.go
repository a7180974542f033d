package commands

import (
	"github.com/blazinghq/kiln/internal/app"
	"github.com/spf13/cobra"
)

func (c *CLI) newDevCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Build the dev stage and serve it with source reload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			noCache, _ := cmd.Flags().GetBool("no-cache")

			return c.app.Dev(cmd.Context(), app.DevOptions{
				NoCache: noCache,
			})
		},
	}
	cmd.Flags().BoolP("no-cache", "n", false, "Bypass the snapshot cache and rebuild every stage")
	return cmd
}
