package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verdictswarm/director/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(version.Info())
		}
		info := version.Info()
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", info.App, info.Commit, info.GoVersion)
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
