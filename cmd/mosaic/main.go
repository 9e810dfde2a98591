// Command mosaic is a thin Cobra front-end over internal/dataset's
// ingress/egress helpers. It is deliberately small: the core lives in
// internal/graph, internal/document, internal/gather, and internal/task;
// this binary only wires a process-local store to file I/O. Exit codes
// are 0 (success) or 1 (failure), per mosaic's core/CLI boundary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mosaicdb/mosaic/internal/config"
	"github.com/mosaicdb/mosaic/internal/kvstore"
	"github.com/mosaicdb/mosaic/internal/logging"
)

var (
	cfgFile    string
	verboseOut bool
	jsonOut    bool

	db *kvstore.MemDB
)

var rootCmd = &cobra.Command{
	Use:   "mosaic",
	Short: "mosaic - multi-modal key-value storage engine CLI",
	Long:  `mosaic layers binary, document, and graph access over a shared ordered key-value substrate. This CLI drives dataset import/export and basic introspection against a process-local store.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := config.Initialize(cfgFile); err != nil {
			fmt.Fprintln(os.Stderr, "mosaic:", err)
			os.Exit(1)
		}
		logging.SetDebug(verboseOut)
		db = kvstore.NewMemDB()
		logging.Debugf("mosaic: store ready, dispatching %q", cmd.Name())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a mosaic.yaml config file")
	rootCmd.PersistentFlags().BoolVarP(&verboseOut, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "reserved for future structured output")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mosaic:", err)
		os.Exit(1)
	}
}
