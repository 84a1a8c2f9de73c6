package cmd

import (
	"fmt"
	"os"

	"github.com/BiyanKilani/daos/cmd/bench"
	"github.com/BiyanKilani/daos/cmd/dump"
	"github.com/BiyanKilani/daos/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "vos",
		Short: "versioned object store",
		Long: fmt.Sprintf(`vos (v%s)

The DRAM control layer of a versioned object store: object cache,
pool and container indexes, multi-version key trees and iterators.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of vos",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vos v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(dump.DumpCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupEngineFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
