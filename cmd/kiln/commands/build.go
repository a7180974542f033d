package commands

import (
	"github.com/blazinghq/kiln/internal/app"
	"github.com/spf13/cobra"
)

func (c *CLI) newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [stages...]",
		Short: "Build the specified stages and everything they depend on",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				// Display command usage help without returning an error
				_ = cmd.Help()
				return nil
			}
			noCache, _ := cmd.Flags().GetBool("no-cache")
			parallelism, _ := cmd.Flags().GetInt("parallelism")

			return c.app.Build(cmd.Context(), args, app.BuildOptions{
				NoCache:     noCache,
				Parallelism: parallelism,
			})
		},
	}
	cmd.Flags().BoolP("no-cache", "n", false, "Bypass the snapshot cache and rebuild every stage")
	cmd.Flags().IntP("parallelism", "p", 0, "Maximum stages built concurrently (0 = number of CPUs)")
	return cmd
}
