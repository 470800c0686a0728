package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"asic_miner/version"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := version.GetVersionConfig()
		if !versionJSON {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", v.Model, v)
			return nil
		}
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print as JSON")
}
