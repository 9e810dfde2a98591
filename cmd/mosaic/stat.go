package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mosaicdb/mosaic/internal/adjacency"
	"github.com/mosaicdb/mosaic/internal/document"
	"github.com/mosaicdb/mosaic/internal/graph"
	"github.com/mosaicdb/mosaic/internal/kvstore"
	"github.com/mosaicdb/mosaic/internal/task"
)

var (
	statKind string // "contains", "degree", "gist"
	statKeys []int64
	statRole string // "source", "target", "any"
)

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Inspect the store: key presence, vertex degree, or document gist",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		keys := make([]kvstore.Key, len(statKeys))
		for i, k := range statKeys {
			keys[i] = kvstore.Key(k)
		}

		switch statKind {
		case "contains":
			g := graph.New(db, kvstore.MainCollection)
			for _, k := range keys {
				ok, err := g.Contains(ctx, nil, k)
				if err != nil {
					return err
				}
				fmt.Printf("%d\t%t\n", k, ok)
			}
		case "degree":
			role, err := parseRole(statRole)
			if err != nil {
				return err
			}
			g := graph.New(db, kvstore.MainCollection)
			ft := &task.FindEdgesTask{
				Task:       task.Task[kvstore.Key]{DB: db, Items: keys, Stride: 1},
				Roles:      []adjacency.Role{role},
				RoleStride: 0,
			}
			task.RunFindEdges(ctx, g, ft)
			if ft.Err != nil {
				return ft.Err
			}
			for i, k := range keys {
				fmt.Printf("%d\t%d\n", k, ft.Result.Degrees[i])
			}
		case "gist":
			docs := document.New(db, kvstore.MainCollection)
			gt := &task.GistTask{Task: task.Task[kvstore.Key]{DB: db, Items: keys, Stride: 1}}
			task.RunGist(ctx, docs, gt)
			if gt.Err != nil {
				return gt.Err
			}
			for _, p := range gt.Paths {
				fmt.Println(p)
			}
		default:
			return fmt.Errorf("--kind must be \"contains\", \"degree\", or \"gist\", got %q", statKind)
		}
		return nil
	},
}

func init() {
	statCmd.Flags().StringVar(&statKind, "kind", "contains", "contains, degree, or gist")
	statCmd.Flags().Int64SliceVar(&statKeys, "keys", nil, "keys to inspect")
	statCmd.Flags().StringVar(&statRole, "role", "any", "degree: source, target, or any")
}

func parseRole(s string) (adjacency.Role, error) {
	switch s {
	case "source":
		return adjacency.Source, nil
	case "target":
		return adjacency.Target, nil
	case "any":
		return adjacency.Any, nil
	default:
		return 0, fmt.Errorf("mosaic: unknown role %q", s)
	}
}
