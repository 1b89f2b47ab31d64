package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/equinix-labs/otel-init-go/otelinit"
	"github.com/metal-toolbox/logixinvent/internal/app"
	"github.com/metal-toolbox/logixinvent/internal/discovery"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/metal-toolbox/logixinvent/internal/sink"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type scanFlags struct {
	system  string
	entry   string
	name    string
	output  string
	shallow bool
	save    bool
}

var (
	scanFlagSet = &scanFlags{}
)

var cmdScan = &cobra.Command{
	Use:   "scan --system NAME | --entry PATH [--name NAME]",
	Short: "Discover a single system and print its topology",
	Run: func(cmd *cobra.Command, _ []string) {
		runScan(cmd.Context())
	},
}

// scanTarget returns the system to scan from the flags, a configured system is looked up by name.
func scanTarget(config *app.Configuration) (model.System, error) {
	if scanFlagSet.system != "" {
		s, ok := config.System(scanFlagSet.system)
		if !ok {
			return s, fmt.Errorf("system %q is not configured", scanFlagSet.system)
		}

		return s, nil
	}

	if scanFlagSet.entry == "" {
		return model.System{}, fmt.Errorf("expected --system or --entry flag")
	}

	name := scanFlagSet.name
	if name == "" {
		name = scanFlagSet.entry
	}

	return model.System{Name: name, EntryPath: scanFlagSet.entry}, nil
}

func runScan(ctx context.Context) {
	logix, err := app.New(model.AppKindScanner, cfgFile, logLevel)
	if err != nil {
		log.Fatal(err)
	}

	system, err := scanTarget(logix.Config)
	if err != nil {
		logix.Logger.Fatal(err)
	}

	ctx, otelShutdown := otelinit.InitOpenTelemetry(ctx, model.AppName)
	defer otelShutdown(ctx)

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	// routine listens for termination signal and cancels the context
	go func() {
		<-logix.TermCh
		logix.Logger.Info("got TERM signal, exiting...")
		cancelFunc()
	}()

	options := logix.Config.DiscoveryOptions()
	options.System = system.Name

	if system.DeepScan != nil {
		options.DeepScan = *system.DeepScan
	}

	if scanFlagSet.shallow {
		options.DeepScan = false
	}

	collector := sink.NewCollector(system.Name, system.EntryPath)
	sinks := sink.Multi{
		collector,
		sink.NewLogger(logix.Logger, system.Name),
		sink.NewMetrics(system.Name),
	}

	controller := discovery.New(initTransport(logix.Config, logix.Logger), logix.Logger, options)

	result, err := discovery.DiscoverWithRetries(ctx, controller, system.EntryPath, sinks, logix.Config.Scan.Retries)
	if err != nil {
		logix.Logger.Fatal(err)
	}

	if result.Errors != nil {
		logix.Logger.WithField("err", result.Errors.Error()).Warn("some branches could not be scanned")
	}

	topology, err := collector.Topology()
	if err != nil {
		logix.Logger.Fatal(err)
	}

	if scanFlagSet.save {
		saveTopology(ctx, logix, topology)
	}

	if err := printTopology(topology, scanFlagSet.output); err != nil {
		logix.Logger.Fatal(err)
	}
}

func saveTopology(ctx context.Context, logix *app.App, topology *model.Topology) {
	repository, err := initStore(logix.Config, logix.Logger)
	if err != nil {
		logix.Logger.Fatal(err)
	}
	defer repository.Close()

	if err := repository.SaveTopology(ctx, topology); err != nil {
		logix.Logger.Fatal(err)
	}

	logix.Logger.WithFields(logrus.Fields{
		"system":    topology.System,
		"storeKind": logix.Config.StoreKind,
	}).Info("topology saved")
}

func printTopology(topology *model.Topology, format string) error {
	switch format {
	case "none":
		return nil
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(topology)
	case "json", "":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(topology)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func init() {
	cmdScan.Flags().StringVar(&scanFlagSet.system, "system", "", "name of a configured system to scan")
	cmdScan.Flags().StringVar(&scanFlagSet.entry, "entry", "", "entry path to scan from, an EtherNet/IP address optionally followed by route hops")
	cmdScan.Flags().StringVar(&scanFlagSet.name, "name", "", "system name the scan is recorded under, defaults to the entry path")
	cmdScan.Flags().StringVarP(&scanFlagSet.output, "output", "o", "json", "topology output format - json, yaml or none")
	cmdScan.Flags().BoolVar(&scanFlagSet.shallow, "shallow", false, "do not sweep the segments behind uplink modules")
	cmdScan.Flags().BoolVar(&scanFlagSet.save, "save", false, "save the topology to the configured store")

	cmdScan.MarkFlagsMutuallyExclusive("system", "entry")

	rootCmd.AddCommand(cmdScan)
}
