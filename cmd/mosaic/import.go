package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/mosaicdb/mosaic/internal/config"
	"github.com/mosaicdb/mosaic/internal/dataset"
	"github.com/mosaicdb/mosaic/internal/document"
	"github.com/mosaicdb/mosaic/internal/graph"
	"github.com/mosaicdb/mosaic/internal/kvstore"
	"github.com/mosaicdb/mosaic/internal/logging"
)

// withConflictRetry retries op a bounded number of times when it fails
// with kvstore.ErrConflict. The core itself never retries (propagation
// policy, spec.md §7); this is purely a CLI convenience for the common
// case of a single-shot import racing some other writer.
func withConflictRetry(op func() (dataset.Stats, error)) (dataset.Stats, error) {
	var stats dataset.Stats
	var err error
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	retry := backoff.WithMaxRetries(b, 3)
	berr := backoff.Retry(func() error {
		stats, err = op()
		if errors.Is(err, kvstore.ErrConflict) {
			logging.Warnf("mosaic: import hit a write conflict, retrying: %v", err)
			return err
		}
		return backoff.Permanent(err)
	}, retry)
	if berr != nil && err == nil {
		err = berr
	}
	if err != nil {
		logging.Errorf("mosaic: import failed: %v", err)
	}
	return stats, err
}

var (
	importKind        string // "graph" or "document"
	importSourceField string
	importTargetField string
	importEdgeField   string
	importIDField     string
	importProjection  []string
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Ingest an NDJSON, CSV, or Parquet file into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		ctx := cmd.Context()
		byteBudget := config.GetInt(config.KeyByteBudget)
		ext := strings.ToLower(filepath.Ext(path))

		var stats dataset.Stats
		var err error

		switch importKind {
		case "graph":
			g := graph.New(db, kvstore.MainCollection)
			mapping := dataset.GraphMapping{Source: importSourceField, Target: importTargetField, Edge: importEdgeField}
			stats, err = withConflictRetry(func() (dataset.Stats, error) {
				return importGraph(ctx, ext, path, g, mapping, byteBudget)
			})
		case "document":
			docs := document.New(db, kvstore.MainCollection)
			mapping := dataset.DocumentMapping{ID: importIDField, Projection: importProjection}
			stats, err = withConflictRetry(func() (dataset.Stats, error) {
				return importDocuments(ctx, ext, path, docs, mapping, byteBudget)
			})
		default:
			return fmt.Errorf("--kind must be \"graph\" or \"document\", got %q", importKind)
		}
		if err != nil {
			return err
		}
		fmt.Println(stats.String())
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importKind, "kind", "document", "collection kind: graph or document")
	importCmd.Flags().StringVar(&importSourceField, "source-field", "source", "graph: field holding the source vertex id")
	importCmd.Flags().StringVar(&importTargetField, "target-field", "target", "graph: field holding the target vertex id")
	importCmd.Flags().StringVar(&importEdgeField, "edge-field", "", "graph: field holding the edge id (optional)")
	importCmd.Flags().StringVar(&importIDField, "id-field", "id", "document: field holding the document key")
	importCmd.Flags().StringSliceVar(&importProjection, "project", nil, "document: field names to keep (default: all)")
}

func importGraph(ctx context.Context, ext, path string, g *graph.Graph, mapping dataset.GraphMapping, byteBudget int) (dataset.Stats, error) {
	switch ext {
	case ".parquet":
		return dataset.IngestParquetToGraph(ctx, path, g, mapping, byteBudget)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return dataset.Stats{}, err
		}
		defer f.Close()
		return dataset.IngestCSVToGraph(ctx, f, g, mapping, byteBudget)
	case ".ndjson", ".jsonl", ".json":
		f, err := os.Open(path)
		if err != nil {
			return dataset.Stats{}, err
		}
		defer f.Close()
		return dataset.IngestNDJSONToGraph(ctx, f, g, mapping, byteBudget)
	default:
		return dataset.Stats{}, fmt.Errorf("mosaic: unsupported import extension %q", ext)
	}
}

func importDocuments(ctx context.Context, ext, path string, docs *document.Store, mapping dataset.DocumentMapping, byteBudget int) (dataset.Stats, error) {
	switch ext {
	case ".parquet":
		return dataset.IngestParquetToDocuments(ctx, path, docs, mapping, byteBudget)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return dataset.Stats{}, err
		}
		defer f.Close()
		return dataset.IngestCSVToDocuments(ctx, f, docs, mapping, byteBudget)
	case ".ndjson", ".jsonl", ".json":
		f, err := os.Open(path)
		if err != nil {
			return dataset.Stats{}, err
		}
		defer f.Close()
		return dataset.IngestNDJSONToDocuments(ctx, f, docs, mapping, byteBudget)
	default:
		return dataset.Stats{}, fmt.Errorf("mosaic: unsupported import extension %q", ext)
	}
}
