package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	sw "github.com/filanov/stateswitch"
	"github.com/metal-toolbox/logixinvent/internal/app"
	"github.com/metal-toolbox/logixinvent/internal/discovery"
	"github.com/metal-toolbox/logixinvent/internal/graph"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/spf13/cobra"
)

type exportFlags struct {
	system string
	format string
}

var (
	exportFlagSet = &exportFlags{}
)

var cmdExport = &cobra.Command{
	Use:   "export",
	Short: "export graphs [statemachine|topology]",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var cmdExportStatemachine = &cobra.Command{
	Use:   "statemachine [--format mermaid|dot|json]",
	Short: "Export the chassis frame statemachine",
	Run: func(_ *cobra.Command, _ []string) {
		exportStatemachine()
	},
}

var cmdExportTopology = &cobra.Command{
	Use:   "topology --system NAME [--format mermaid|dot|json]",
	Short: "Export the saved topology of a system as a graph",
	Run: func(cmd *cobra.Command, _ []string) {
		exportTopology(cmd.Context())
	},
}

func exportStatemachine() {
	j, err := discovery.StateMachineJSON()
	if err != nil {
		log.Fatal(err)
	}

	if exportFlagSet.format == "json" {
		fmt.Println(string(j))
		return
	}

	t := &sw.StateMachineJSON{}
	if err := json.Unmarshal(j, t); err != nil {
		log.Fatal(err)
	}

	out, err := graph.Render(graph.StateMachine(t), graph.Format(exportFlagSet.format))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(out)
}

func exportTopology(ctx context.Context) {
	logix, err := app.New(model.AppKindClient, cfgFile, logLevel)
	if err != nil {
		log.Fatal(err)
	}

	repository, err := initStore(logix.Config, logix.Logger)
	if err != nil {
		logix.Logger.Fatal(err)
	}
	defer repository.Close()

	topology, err := repository.TopologyBySystem(ctx, exportFlagSet.system)
	if err != nil {
		logix.Logger.Fatal(err)
	}

	if exportFlagSet.format == "json" {
		b, err := json.MarshalIndent(topology, "", "  ")
		if err != nil {
			logix.Logger.Fatal(err)
		}

		fmt.Println(string(b))

		return
	}

	out, err := graph.Render(graph.Topology(topology), graph.Format(exportFlagSet.format))
	if err != nil {
		logix.Logger.Fatal(err)
	}

	fmt.Println(out)
}

func init() {
	cmdExport.PersistentFlags().StringVarP(&exportFlagSet.format, "format", "f", string(graph.FormatMermaid), "export format - mermaid, dot or json")
	cmdExportTopology.PersistentFlags().StringVar(&exportFlagSet.system, "system", "", "system name")

	if err := cmdExportTopology.MarkPersistentFlagRequired("system"); err != nil {
		log.Fatal(err)
	}

	cmdExport.AddCommand(cmdExportStatemachine)
	cmdExport.AddCommand(cmdExportTopology)
	rootCmd.AddCommand(cmdExport)
}
