package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/zxhio/telemetry-int/cmd/telemetryctl/events"
	"github.com/zxhio/telemetry-int/cmd/telemetryctl/evc"
	"github.com/zxhio/telemetry-int/cmd/telemetryctl/topology"
	"github.com/zxhio/telemetry-int/pkg/builder"
	"github.com/zxhio/telemetry-int/pkg/utils"
)

var (
	verbose bool
	version bool
)

const logoAscii = `  _       _
 | |_ ___| |___ _ __  ___| |_ _ _ _  _
 |  _/ -_) / -_) '  \/ -_)  _| '_| || |
  \__\___|_\___|_|_|_\___|\__|_|  \_, |
                                  |__/`

var rootCmd = &cobra.Command{
	Use:   "telemetryctl",
	Short: "INT telemetry command line tool\n\n" + color.HiBlueString(logoAscii),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.SetVerbose(verbose)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if version {
			fmt.Println(builder.BuildInfo())
			os.Exit(0)
		}
		cmd.Help()
	},
}

func main() {
	cobra.EnableTraverseRunHooks = true
	evc.Export(rootCmd)
	topology.Export(rootCmd)
	events.Export(rootCmd)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.Flags().BoolVarP(&version, "version", "V", false, "Print version")
	rootCmd.Execute()
}
