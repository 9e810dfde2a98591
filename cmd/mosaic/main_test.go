package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mosaicdb/mosaic/internal/dataset"
	"github.com/mosaicdb/mosaic/internal/document"
	"github.com/mosaicdb/mosaic/internal/graph"
	"github.com/mosaicdb/mosaic/internal/kvstore"
)

func TestParseRole(t *testing.T) {
	if _, err := parseRole("bogus"); err == nil {
		t.Fatal("parseRole(\"bogus\") should error")
	}
	for _, s := range []string{"source", "target", "any"} {
		if _, err := parseRole(s); err != nil {
			t.Fatalf("parseRole(%q) returned error: %v", s, err)
		}
	}
}

func TestImportGraphRejectsUnknownExtension(t *testing.T) {
	mem := kvstore.NewMemDB()
	g := graph.New(mem, kvstore.MainCollection)
	_, err := importGraph(context.Background(), ".bogus", "x.bogus", g, dataset.GraphMapping{Source: "a", Target: "b"}, 1<<20)
	if err == nil {
		t.Fatal("importGraph with unknown extension should error")
	}
}

func TestImportDocumentsNDJSONRoundTrip(t *testing.T) {
	mem := kvstore.NewMemDB()
	docs := document.New(mem, kvstore.MainCollection)

	dir := t.TempDir()
	path := filepath.Join(dir, "rows.ndjson")
	if err := os.WriteFile(path, []byte("{\"id\":1,\"name\":\"ada\"}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	stats, err := importDocuments(context.Background(), ".ndjson", path, docs, dataset.DocumentMapping{ID: "id"}, 1<<20)
	if err != nil {
		t.Fatalf("importDocuments returned error: %v", err)
	}
	if stats.RowsWritten != 1 {
		t.Fatalf("RowsWritten = %d, want 1", stats.RowsWritten)
	}
}

func TestWithConflictRetryStopsOnNonConflictError(t *testing.T) {
	calls := 0
	wantErr := errors.New("boom")
	_, err := withConflictRetry(func() (dataset.Stats, error) {
		calls++
		return dataset.Stats{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Fatalf("op called %d times, want 1 (non-conflict errors must not retry)", calls)
	}
}

func TestWithConflictRetryRetriesConflicts(t *testing.T) {
	calls := 0
	stats, err := withConflictRetry(func() (dataset.Stats, error) {
		calls++
		if calls < 2 {
			return dataset.Stats{}, kvstore.ErrConflict
		}
		return dataset.Stats{RowsWritten: 1}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.RowsWritten != 1 {
		t.Fatalf("RowsWritten = %d, want 1", stats.RowsWritten)
	}
	if calls < 2 {
		t.Fatalf("op called %d times, want retry on ErrConflict", calls)
	}
}
