package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"asic_miner/config"
	"asic_miner/log"
	"asic_miner/version"
)

var (
	verbose bool
	logJSON bool

	// minerCfg holds defaults overlaid with MINER_* variables. Subcommands
	// apply their own flags on top.
	minerCfg = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "miner",
	Short: "Bitcoin miner for BM13xx hash boards",
	Long: `Drives BM13xx ASIC hash boards with work from stratum v1 pools.

Examples:
  miner run --pool stratum+tcp://pool.example.com:3333 --user bc1q.worker
  miner run --board /dev/ttyACM1,/dev/ttyACM0 --pool stratum+tcp://pool.example.com:3333 --user w
  miner run --simulate 2                      # simulated boards and local pool
  miner discover                              # list attached boards`,
	Version:       version.GetVersionConfig().String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(&minerCfg); err != nil {
			return err
		}
		if cmd.Flags().Changed("log-json") {
			minerCfg.Log.JSON = logJSON
		}
		if verbose {
			minerCfg.Log.Level = "debug"
		}
		log.Setup(minerCfg.Log.Level, minerCfg.Log.JSON, os.Stderr)
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON lines")
}
