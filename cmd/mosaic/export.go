package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mosaicdb/mosaic/internal/dataset"
	"github.com/mosaicdb/mosaic/internal/document"
	"github.com/mosaicdb/mosaic/internal/graph"
	"github.com/mosaicdb/mosaic/internal/kvstore"
	"github.com/mosaicdb/mosaic/internal/logging"
)

var (
	exportKind    string // "graph" or "document"
	exportKeys    []int64
	exportColumns []string
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write documents or graph edges out to NDJSON, CSV, or Parquet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		ctx := cmd.Context()
		ext := strings.ToLower(filepath.Ext(path))

		keys := make([]kvstore.Key, len(exportKeys))
		for i, k := range exportKeys {
			keys[i] = kvstore.Key(k)
		}

		var stats dataset.Stats
		var err error
		switch exportKind {
		case "graph":
			g := graph.New(db, kvstore.MainCollection)
			stats, err = exportGraph(ctx, ext, path, g, keys)
		case "document":
			docs := document.New(db, kvstore.MainCollection)
			stats, err = exportDocuments(ctx, ext, path, docs, keys, exportColumns)
		default:
			return fmt.Errorf("--kind must be \"graph\" or \"document\", got %q", exportKind)
		}
		if err != nil {
			logging.Errorf("mosaic: export failed: %v", err)
			return err
		}
		fmt.Println(stats.String())
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportKind, "kind", "document", "collection kind: graph or document")
	exportCmd.Flags().Int64SliceVar(&exportKeys, "keys", nil, "keys (document ids, or graph vertex ids) to export")
	exportCmd.Flags().StringSliceVar(&exportColumns, "columns", nil, "document CSV export: field names to emit as columns")
}

func exportGraph(ctx context.Context, ext, path string, g *graph.Graph, vertices []kvstore.Key) (dataset.Stats, error) {
	switch ext {
	case ".parquet":
		return dataset.ExportGraphEdgesToParquet(ctx, path, g, vertices)
	case ".csv":
		f, err := os.Create(path)
		if err != nil {
			return dataset.Stats{}, err
		}
		defer f.Close()
		return dataset.ExportGraphEdgesToCSV(ctx, f, g, vertices)
	case ".ndjson", ".jsonl", ".json":
		f, err := os.Create(path)
		if err != nil {
			return dataset.Stats{}, err
		}
		defer f.Close()
		return dataset.ExportGraphEdgesToNDJSON(ctx, f, g, vertices)
	default:
		return dataset.Stats{}, fmt.Errorf("mosaic: unsupported export extension %q", ext)
	}
}

func exportDocuments(ctx context.Context, ext, path string, docs *document.Store, keys []kvstore.Key, columns []string) (dataset.Stats, error) {
	switch ext {
	case ".csv":
		f, err := os.Create(path)
		if err != nil {
			return dataset.Stats{}, err
		}
		defer f.Close()
		return dataset.ExportDocumentsToCSV(ctx, f, docs, keys, columns)
	case ".ndjson", ".jsonl", ".json":
		f, err := os.Create(path)
		if err != nil {
			return dataset.Stats{}, err
		}
		defer f.Close()
		return dataset.ExportDocumentsToNDJSON(ctx, f, docs, keys)
	default:
		return dataset.Stats{}, fmt.Errorf("mosaic: unsupported export extension %q", ext)
	}
}
