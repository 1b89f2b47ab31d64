package cmd

import (
	"fmt"
	"os"

	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	debug    bool
	trace    bool
	logLevel int
)

var rootCmd = &cobra.Command{
	Use:   model.AppName,
	Short: "Discover the chassis, modules and ControlNet segments of a plant network",
	Long: `logixinvent walks a plant network from an EtherNet/IP entry address,
scanning every chassis and every ControlNet segment reachable from it, and keeps
a topology snapshot of each configured system.

Examples:
  logixinvent scan --entry 10.0.0.1 --name line1
  logixinvent run --config ~/.logixinvent.yml
  logixinvent get module --serial 00c0ffee
  logixinvent export topology --system line1 --format mermaid`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		switch {
		case trace:
			logLevel = model.LogLevelTrace
		case debug:
			logLevel = model.LogLevelDebug
		default:
			logLevel = model.LogLevelInfo
		}
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file (default is $HOME/.logixinvent.yml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&trace, "trace", "t", false, "enable trace logging, every CIP request is logged")
}
