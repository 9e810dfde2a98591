// Package document implements the JSON document store layered over the
// same KV substrate as the graph: assign, merge (RFC 7396), patch
// (RFC 6902), read (whole document or JSON-Pointer subtree), and gist
// (leaf-path discovery) — spec.md §4.3.
package document

import (
	"context"
	"fmt"
	"sort"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/go-openapi/jsonpointer"
	gojson "github.com/goccy/go-json"

	"github.com/mosaicdb/mosaic/internal/kvstore"
	"github.com/mosaicdb/mosaic/internal/logging"
)

// nullDocument stands in for an empty stored body: Read returns it for a
// present key with an empty body, and Merge, Patch and AssignAt start from
// it when the key's body is empty or the key is missing.
var nullDocument = []byte("null")

// Store binds the document operations to one KV collection.
type Store struct {
	db  kvstore.DB
	col kvstore.Collection
}

// New binds a Store to col within db.
func New(db kvstore.DB, col kvstore.Collection) *Store {
	return &Store{db: db, col: col}
}

type batchIO interface {
	Read(ctx context.Context, refs []kvstore.Ref, watch bool) ([]kvstore.Entry, error)
	Write(ctx context.Context, items []kvstore.WriteItem, opts kvstore.Options) error
}

type txnIO struct{ txn kvstore.Txn }

func (t txnIO) Read(ctx context.Context, refs []kvstore.Ref, watch bool) ([]kvstore.Entry, error) {
	return t.txn.Read(ctx, refs, watch)
}
func (t txnIO) Write(ctx context.Context, items []kvstore.WriteItem, opts kvstore.Options) error {
	return t.txn.Write(ctx, items, opts)
}

func (s *Store) run(ctx context.Context, ext kvstore.Txn, fn func(exec batchIO) error) error {
	if ext != nil {
		return fn(txnIO{ext})
	}
	txn, err := s.db.BeginTxn(ctx)
	if err != nil {
		logging.Errorf("document: begin autocommit transaction: %v", err)
		return fmt.Errorf("document: begin autocommit transaction: %w", err)
	}
	if err := fn(txnIO{txn}); err != nil {
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		logging.Warnf("document: autocommit transaction failed, retry may resolve a conflict: %v", err)
		return err
	}
	return nil
}

func validateEqualLen(keys []kvstore.Key, bodies [][]byte) error {
	if len(keys) != len(bodies) {
		return fmt.Errorf("%w: keys and bodies must be equal length (%d != %d)", kvstore.ErrInvalidArgument, len(keys), len(bodies))
	}
	return nil
}

func validJSON(b []byte) error {
	var v interface{}
	if err := gojson.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("%w: %s", kvstore.ErrInvalidArgument, err)
	}
	return nil
}

// Assign writes each document verbatim, replacing whatever (if anything)
// was previously stored at that key.
func (s *Store) Assign(ctx context.Context, ext kvstore.Txn, keys []kvstore.Key, docs [][]byte) error {
	if err := validateEqualLen(keys, docs); err != nil {
		return err
	}
	logging.Debugf("document: assign: %d keys", len(keys))
	writes := make([]kvstore.WriteItem, len(keys))
	for i, k := range keys {
		if err := validJSON(docs[i]); err != nil {
			return fmt.Errorf("document: assign key %d: %w", k, err)
		}
		writes[i] = kvstore.WriteItem{Ref: kvstore.Ref{Collection: s.col, Key: k}, Value: docs[i], Present: true}
	}
	return s.run(ctx, ext, func(exec batchIO) error {
		return exec.Write(ctx, writes, kvstore.OptDefault)
	})
}

// Remove deletes each document.
func (s *Store) Remove(ctx context.Context, ext kvstore.Txn, keys []kvstore.Key) error {
	writes := make([]kvstore.WriteItem, len(keys))
	for i, k := range keys {
		writes[i] = kvstore.WriteItem{Ref: kvstore.Ref{Collection: s.col, Key: k}, Present: false}
	}
	return s.run(ctx, ext, func(exec batchIO) error {
		return exec.Write(ctx, writes, kvstore.OptDefault)
	})
}

func (s *Store) refsFor(keys []kvstore.Key) []kvstore.Ref {
	refs := make([]kvstore.Ref, len(keys))
	for i, k := range keys {
		refs[i] = kvstore.Ref{Collection: s.col, Key: k}
	}
	return refs
}

// fetchExisting reads the current bodies for keys, substituting
// nullDocument for any key that is present-but-empty or absent — a
// missing document merges/patches as if it were JSON null.
func (s *Store) fetchExisting(ctx context.Context, exec batchIO, keys []kvstore.Key) ([][]byte, error) {
	entries, err := exec.Read(ctx, s.refsFor(keys), true)
	if err != nil {
		return nil, fmt.Errorf("document: fetch existing: %w", err)
	}
	out := make([][]byte, len(keys))
	for i, e := range entries {
		if !e.Present || len(e.Value) == 0 {
			out[i] = nullDocument
			continue
		}
		out[i] = e.Value
	}
	return out, nil
}

// Merge applies an RFC 7396 JSON Merge Patch to each key's existing
// document (treated as null if absent) and writes back the result.
func (s *Store) Merge(ctx context.Context, ext kvstore.Txn, keys []kvstore.Key, patches [][]byte) error {
	if err := validateEqualLen(keys, patches); err != nil {
		return err
	}
	return s.run(ctx, ext, func(exec batchIO) error {
		existing, err := s.fetchExisting(ctx, exec, keys)
		if err != nil {
			return err
		}
		writes := make([]kvstore.WriteItem, len(keys))
		for i, k := range keys {
			merged, err := jsonpatch.MergePatch(existing[i], patches[i])
			if err != nil {
				return fmt.Errorf("document: merge key %d: %w", k, err)
			}
			writes[i] = kvstore.WriteItem{Ref: kvstore.Ref{Collection: s.col, Key: k}, Value: merged, Present: true}
		}
		return exec.Write(ctx, writes, kvstore.OptDefault)
	})
}

// Patch applies an RFC 6902 JSON Patch document to each key's existing
// document.
func (s *Store) Patch(ctx context.Context, ext kvstore.Txn, keys []kvstore.Key, patches [][]byte) error {
	if err := validateEqualLen(keys, patches); err != nil {
		return err
	}
	return s.run(ctx, ext, func(exec batchIO) error {
		existing, err := s.fetchExisting(ctx, exec, keys)
		if err != nil {
			return err
		}
		writes := make([]kvstore.WriteItem, len(keys))
		for i, k := range keys {
			decoded, err := jsonpatch.DecodePatch(patches[i])
			if err != nil {
				logging.Warnf("document: decode patch for key %d failed: %v", k, err)
				return fmt.Errorf("%w: document: decode patch for key %d: %s", kvstore.ErrInvalidArgument, k, err)
			}
			patched, err := decoded.Apply(existing[i])
			if err != nil {
				return fmt.Errorf("document: apply patch key %d: %w", k, err)
			}
			writes[i] = kvstore.WriteItem{Ref: kvstore.Ref{Collection: s.col, Key: k}, Value: patched, Present: true}
		}
		return exec.Write(ctx, writes, kvstore.OptDefault)
	})
}

// AssignAt replaces the subtree addressed by pointers[i] within the
// document at keys[i] with fragments[i], materializing any missing
// intermediate objects along the way (spec.md §4.3's
// "assign(key+pointer, fragment)"). An empty pointer replaces the whole
// document, equivalent to Assign.
func (s *Store) AssignAt(ctx context.Context, ext kvstore.Txn, keys []kvstore.Key, pointers []string, fragments [][]byte) error {
	if len(pointers) != len(keys) {
		return fmt.Errorf("%w: pointers must be equal length to keys (%d != %d)", kvstore.ErrInvalidArgument, len(pointers), len(keys))
	}
	if err := validateEqualLen(keys, fragments); err != nil {
		return err
	}
	return s.run(ctx, ext, func(exec batchIO) error {
		existing, err := s.fetchExisting(ctx, exec, keys)
		if err != nil {
			return err
		}
		writes := make([]kvstore.WriteItem, len(keys))
		for i, k := range keys {
			var frag interface{}
			if err := gojson.Unmarshal(fragments[i], &frag); err != nil {
				return fmt.Errorf("%w: document: assign key %d: fragment: %s", kvstore.ErrInvalidArgument, k, err)
			}
			var root interface{}
			if err := gojson.Unmarshal(existing[i], &root); err != nil {
				return fmt.Errorf("document: assign key %d: existing document: %w", k, err)
			}
			updated, err := setAtPointer(root, decodeTokens(pointers[i]), frag)
			if err != nil {
				return fmt.Errorf("document: assign key %d pointer %q: %w", k, pointers[i], err)
			}
			out, err := gojson.Marshal(updated)
			if err != nil {
				return fmt.Errorf("document: assign key %d: %w", k, err)
			}
			writes[i] = kvstore.WriteItem{Ref: kvstore.Ref{Collection: s.col, Key: k}, Value: out, Present: true}
		}
		return exec.Write(ctx, writes, kvstore.OptDefault)
	})
}

// decodeTokens splits a JSON Pointer into its unescaped reference tokens
// (RFC 6901 §3: "~1" -> "/", "~0" -> "~"). An empty pointer yields no
// tokens, meaning "replace the root".
func decodeTokens(ptr string) []string {
	if ptr == "" {
		return nil
	}
	raw := strings.Split(strings.TrimPrefix(ptr, "/"), "/")
	tokens := make([]string, len(raw))
	for i, t := range raw {
		t = strings.ReplaceAll(t, "~1", "/")
		t = strings.ReplaceAll(t, "~0", "~")
		tokens[i] = t
	}
	return tokens
}

// setAtPointer walks tokens into doc, materializing missing intermediate
// objects, and returns doc with value spliced in at the addressed
// subtree. A nil doc (or any nil intermediate) is treated as an empty
// object to be materialized, per spec.md §4.3; an existing non-object
// value along the path is an error since there is no object to descend
// into.
func setAtPointer(doc interface{}, tokens []string, value interface{}) (interface{}, error) {
	if len(tokens) == 0 {
		return value, nil
	}
	m, ok := doc.(map[string]interface{})
	if !ok {
		if doc != nil {
			return nil, fmt.Errorf("%w: path component is not an object", kvstore.ErrInvalidArgument)
		}
		m = make(map[string]interface{})
	}
	child, err := setAtPointer(m[tokens[0]], tokens[1:], value)
	if err != nil {
		return nil, err
	}
	m[tokens[0]] = child
	return m, nil
}

// Read fetches the document at each key. pointers, if non-nil, must be
// equal length to keys; a non-empty pointer[i] extracts the JSON-Pointer
// subtree instead of the whole document. A missing key or an unresolved
// pointer yields (nil, false) rather than an error.
func (s *Store) Read(ctx context.Context, ext kvstore.Txn, keys []kvstore.Key, pointers []string) ([][]byte, []bool, error) {
	if pointers != nil && len(pointers) != len(keys) {
		return nil, nil, fmt.Errorf("%w: pointers must be equal length to keys (%d != %d)", kvstore.ErrInvalidArgument, len(pointers), len(keys))
	}
	var results [][]byte
	var found []bool
	err := s.run(ctx, ext, func(exec batchIO) error {
		entries, err := exec.Read(ctx, s.refsFor(keys), false)
		if err != nil {
			return err
		}
		results = make([][]byte, len(keys))
		found = make([]bool, len(keys))
		for i, e := range entries {
			if !e.Present {
				continue
			}
			body := e.Value
			if len(body) == 0 {
				body = nullDocument
			}
			ptr := ""
			if pointers != nil {
				ptr = pointers[i]
			}
			if ptr == "" {
				results[i] = body
				found[i] = true
				continue
			}
			sub, ok, err := extractPointer(body, ptr)
			if err != nil {
				return fmt.Errorf("document: read key %d pointer %q: %w", keys[i], ptr, err)
			}
			if !ok {
				continue
			}
			results[i] = sub
			found[i] = true
		}
		return nil
	})
	return results, found, err
}

func extractPointer(body []byte, ptr string) (value []byte, ok bool, err error) {
	var doc interface{}
	if err := gojson.Unmarshal(body, &doc); err != nil {
		return nil, false, err
	}
	p, err := jsonpointer.New(ptr)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s", kvstore.ErrInvalidArgument, err)
	}
	found, _, err := p.Get(doc)
	if err != nil {
		return nil, false, nil
	}
	out, err := gojson.Marshal(found)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Gist reports the sorted, deduplicated set of JSON-Pointer paths to every
// leaf value reachable from the documents at keys — spec.md §4.3's field
// discovery operation, used by gather to learn a schema before
// materializing columns.
func (s *Store) Gist(ctx context.Context, ext kvstore.Txn, keys []kvstore.Key) ([]string, error) {
	var paths []string
	err := s.run(ctx, ext, func(exec batchIO) error {
		entries, err := exec.Read(ctx, s.refsFor(keys), false)
		if err != nil {
			return err
		}
		seen := make(map[string]struct{})
		for _, e := range entries {
			if !e.Present || len(e.Value) == 0 {
				continue
			}
			var doc interface{}
			if err := gojson.Unmarshal(e.Value, &doc); err != nil {
				return fmt.Errorf("document: gist: %w", err)
			}
			for _, p := range leafPaths("", doc) {
				seen[p] = struct{}{}
			}
		}
		paths = make([]string, 0, len(seen))
		for p := range seen {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		return nil
	})
	return paths, err
}

// leafPaths walks doc depth-first, emitting a JSON-Pointer path for every
// scalar (or empty container) it reaches.
func leafPaths(prefix string, doc interface{}) []string {
	switch v := doc.(type) {
	case map[string]interface{}:
		if len(v) == 0 {
			return []string{prefix}
		}
		var out []string
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, leafPaths(prefix+"/"+escapeToken(k), v[k])...)
		}
		return out
	case []interface{}:
		if len(v) == 0 {
			return []string{prefix}
		}
		var out []string
		for i, elem := range v {
			out = append(out, leafPaths(fmt.Sprintf("%s/%d", prefix, i), elem)...)
		}
		return out
	default:
		if prefix == "" {
			return []string{""}
		}
		return []string{prefix}
	}
}

// escapeToken applies RFC 6901's ~1 / ~0 escaping to one reference token.
func escapeToken(tok string) string {
	out := make([]rune, 0, len(tok))
	for _, r := range tok {
		switch r {
		case '~':
			out = append(out, '~', '0')
		case '/':
			out = append(out, '~', '1')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
