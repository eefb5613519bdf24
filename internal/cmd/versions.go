package cmd

import (
	"github.com/spf13/cobra"

	"github.com/liuxd6825/gcbridge/cmd/state"
)

func getCmdVersions(gs *state.GlobalState) *cobra.Command {
	var versionsPath string
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Show the known script versions and their integrity hashes",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			versions, err := loadVersions(gs, versionsPath)
			if err != nil {
				return err
			}
			return gs.Console.PrintYAML(versions)
		},
	}
	cmd.Flags().StringVar(&versionsPath, "versions", "", "JSON or YAML file with extra version integrity hashes")
	return cmd
}
