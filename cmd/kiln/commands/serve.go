package commands

import (
	"github.com/blazinghq/kiln/internal/app"
	"github.com/spf13/cobra"
)

func (c *CLI) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Build the prod stage and run its worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			noCache, _ := cmd.Flags().GetBool("no-cache")
			workers, _ := cmd.Flags().GetInt("workers")

			return c.app.Serve(cmd.Context(), app.ServeOptions{
				Workers: workers,
				NoCache: noCache,
			})
		},
	}
	cmd.Flags().BoolP("no-cache", "n", false, "Bypass the snapshot cache and rebuild every stage")
	cmd.Flags().IntP("workers", "w", 1, "Number of worker processes to fork")
	return cmd
}
