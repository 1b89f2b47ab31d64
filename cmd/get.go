package cmd

import (
	"context"
	"errors"
	"log"

	"github.com/davecgh/go-spew/spew"
	"github.com/metal-toolbox/logixinvent/internal/app"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/metal-toolbox/logixinvent/internal/store"
	"github.com/spf13/cobra"
)

var cmdGet = &cobra.Command{
	Use:   "get",
	Short: "get resources from the topology store [topology|module|systems]",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// command get topology, get module
type getFlags struct {
	system string
	serial string
}

var (
	getFlagSet = &getFlags{}
)

var cmdGetTopology = &cobra.Command{
	Use:   "topology",
	Short: "Get the latest topology snapshot of a system",
	Run: func(cmd *cobra.Command, args []string) {
		getResource(cmd.Context(), func(ctx context.Context, repository store.Repository) (any, error) {
			return repository.TopologyBySystem(ctx, getFlagSet.system)
		})
	},
}

var cmdGetModule = &cobra.Command{
	Use:   "module",
	Short: "Get the most recently seen record of a module by its serial number",
	Run: func(cmd *cobra.Command, args []string) {
		getResource(cmd.Context(), func(ctx context.Context, repository store.Repository) (any, error) {
			return repository.ModuleBySerial(ctx, getFlagSet.serial)
		})
	},
}

var cmdGetSystems = &cobra.Command{
	Use:   "systems",
	Short: "List the systems with a saved topology",
	Run: func(cmd *cobra.Command, args []string) {
		getResource(cmd.Context(), func(ctx context.Context, repository store.Repository) (any, error) {
			return repository.Systems(ctx)
		})
	},
}

func getResource(ctx context.Context, query func(context.Context, store.Repository) (any, error)) {
	logix, err := app.New(model.AppKindClient, cfgFile, logLevel)
	if err != nil {
		log.Fatal(err)
	}

	repository, err := initStore(logix.Config, logix.Logger)
	if err != nil {
		logix.Logger.Fatal(err)
	}
	defer repository.Close()

	resource, err := query(ctx, repository)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logix.Logger.Info(err.Error())
			return
		}

		logix.Logger.Fatal(err)
	}

	spew.Dump(resource)
}

func init() {
	rootCmd.AddCommand(cmdGet)

	cmdGetTopology.PersistentFlags().StringVar(&getFlagSet.system, "system", "", "system name")
	cmdGetModule.PersistentFlags().StringVar(&getFlagSet.serial, "serial", "", "module serial number, 8 hex digits")

	if err := cmdGetTopology.MarkPersistentFlagRequired("system"); err != nil {
		log.Fatal(err)
	}

	if err := cmdGetModule.MarkPersistentFlagRequired("serial"); err != nil {
		log.Fatal(err)
	}

	cmdGet.AddCommand(cmdGetTopology)
	cmdGet.AddCommand(cmdGetModule)
	cmdGet.AddCommand(cmdGetSystems)
}
