package commands

import (
	"github.com/blazinghq/kiln/internal/app"
	"github.com/spf13/cobra"
)

func (c *CLI) newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Clean the snapshot store and caches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, _ := cmd.Flags().GetBool("cache")
			all, _ := cmd.Flags().GetBool("all")

			opts := app.CleanOptions{
				Store: false,
				Cache: false,
			}

			switch {
			case all:
				opts.Store = true
				opts.Cache = true
			case cache:
				opts.Cache = true
			default:
				// Default behavior: clean committed snapshots
				opts.Store = true
			}

			return c.app.Clean(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolP("cache", "c", false, "Clean the installer download cache")
	cmd.Flags().BoolP("all", "a", false, "Clean everything (snapshot store and caches)")

	return cmd
}
