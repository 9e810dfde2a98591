package kvstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// keyHistory is an append-only, version-ordered log of every value a key
// has held. Versions are the MemDB-global monotonic counter bumped once
// per committed batch, which is what lets a snapshot answer "what did this
// key look like as of version V" with a binary search instead of keeping a
// separate copy-on-write page per snapshot.
type keyHistory struct {
	versions []uint64
	values   [][]byte
	present  []bool
}

func (h *keyHistory) valueAt(version uint64) (value []byte, present bool) {
	lo, hi := 0, len(h.versions)
	for lo < hi {
		mid := (lo + hi) / 2
		if h.versions[mid] <= version {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return nil, false
	}
	i := lo - 1
	return h.values[i], h.present[i]
}

func (h *keyHistory) append(version uint64, value []byte, present bool) {
	h.versions = append(h.versions, version)
	h.values = append(h.values, value)
	h.present = append(h.present, present)
}

func (h *keyHistory) latestVersion() (uint64, bool) {
	if len(h.versions) == 0 {
		return 0, false
	}
	return h.versions[len(h.versions)-1], true
}

// MemDB is an in-memory implementation of the DB contract. It exists to
// give the core a concrete collaborator to run against; it is not a
// production KV engine and makes no durability or replication claims.
type MemDB struct {
	mu          sync.RWMutex
	collections map[Collection]map[Key]*keyHistory
	names       map[string]Collection
	idsToNames  map[Collection]string
	nextCol     uint32
	version     uint64
	snapshots   map[SnapshotID]uint64
	nextSnap    uint64
	namedOnly   bool // when true, CreateCollection always fails with ErrNotSupported
}

// NewMemDB constructs an empty engine with the main collection pre-created.
func NewMemDB() *MemDB {
	db := &MemDB{
		collections: map[Collection]map[Key]*keyHistory{MainCollection: {}},
		names:       map[string]Collection{"": MainCollection},
		idsToNames:  map[Collection]string{MainCollection: ""},
		snapshots:   map[SnapshotID]uint64{},
	}
	return db
}

// NewMainOnlyMemDB constructs an engine that rejects named collections,
// for exercising the NOT_SUPPORTED path of deployments that only expose
// the main collection.
func NewMainOnlyMemDB() *MemDB {
	db := NewMemDB()
	db.namedOnly = true
	return db
}

func (db *MemDB) CreateCollection(ctx context.Context, name string) (Collection, error) {
	if db.namedOnly {
		return 0, fmt.Errorf("%w: named collections are not supported by this engine", ErrNotSupported)
	}
	if name == "" {
		return 0, fmt.Errorf("%w: collection name must not be empty", ErrInvalidArgument)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if id, ok := db.names[name]; ok {
		return id, nil
	}
	db.nextCol++
	id := Collection(db.nextCol)
	db.names[name] = id
	db.idsToNames[id] = name
	db.collections[id] = map[Key]*keyHistory{}
	return id, nil
}

func (db *MemDB) DropCollection(ctx context.Context, col Collection) error {
	if col == MainCollection {
		return fmt.Errorf("%w: the main collection cannot be dropped", ErrInvalidArgument)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	name, ok := db.idsToNames[col]
	if !ok {
		return fmt.Errorf("%w: unknown collection", ErrInvalidArgument)
	}
	delete(db.collections, col)
	delete(db.idsToNames, col)
	delete(db.names, name)
	return nil
}

func (db *MemDB) ListCollections(ctx context.Context) ([]string, []Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.names))
	ids := make([]Collection, 0, len(db.names))
	for n, id := range db.names {
		names = append(names, n)
		ids = append(ids, id)
	}
	return names, ids, nil
}

func (db *MemDB) ContainsCollection(ctx context.Context, name string) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.names[name]
	return ok, nil
}

func (db *MemDB) snapshotVersion(snap *SnapshotID) (uint64, error) {
	if snap == nil {
		return db.version, nil
	}
	v, ok := db.snapshots[*snap]
	if !ok {
		return 0, fmt.Errorf("%w: unknown snapshot", ErrInvalidArgument)
	}
	return v, nil
}

func (db *MemDB) Read(ctx context.Context, refs []Ref, snap *SnapshotID, opts Options) ([]Entry, error) {
	if err := opts.Validate(false, false); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	asOf, err := db.snapshotVersion(snap)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(refs))
	for i, ref := range refs {
		col, ok := db.collections[ref.Collection]
		if !ok {
			out[i] = Entry{Ref: ref}
			continue
		}
		h, ok := col[ref.Key]
		if !ok {
			out[i] = Entry{Ref: ref}
			continue
		}
		value, present := h.valueAt(asOf)
		out[i] = Entry{Ref: ref, Value: value, Present: present}
	}
	return out, nil
}

func (db *MemDB) Write(ctx context.Context, items []WriteItem, opts Options) error {
	if err := opts.Validate(true, false); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.version++
	for _, it := range items {
		col, ok := db.collections[it.Collection]
		if !ok {
			return fmt.Errorf("%w: unknown collection", ErrInvalidArgument)
		}
		h, ok := col[it.Key]
		if !ok {
			h = &keyHistory{}
			col[it.Key] = h
		}
		h.append(db.version, it.Value, it.Present)
	}
	return nil
}

func (db *MemDB) Scan(ctx context.Context, col Collection, startKeys []Key, limits []int, snap *SnapshotID) ([]int, []Key, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	asOf, err := db.snapshotVersion(snap)
	if err != nil {
		return nil, nil, err
	}
	m, ok := db.collections[col]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown collection", ErrInvalidArgument)
	}
	live := make([]Key, 0, len(m))
	for k, h := range m {
		if _, present := h.valueAt(asOf); present {
			live = append(live, k)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })

	counts := make([]int, len(startKeys))
	var keys []Key
	for i, start := range startKeys {
		limit := 1 << 30
		if i < len(limits) && limits[i] > 0 {
			limit = limits[i]
		} else if i < len(limits) {
			limit = 0
		}
		idx := sort.Search(len(live), func(j int) bool { return live[j] >= start })
		n := 0
		for idx < len(live) && n < limit {
			keys = append(keys, live[idx])
			idx++
			n++
		}
		counts[i] = n
	}
	return counts, keys, nil
}

func (db *MemDB) BeginTxn(ctx context.Context) (Txn, error) {
	db.mu.RLock()
	v := db.version
	db.mu.RUnlock()
	return &memTxn{db: db, snapVersion: v, watch: map[Ref]uint64{}, pending: map[Ref]WriteItem{}}, nil
}

func (db *MemDB) CreateSnapshot(ctx context.Context) (SnapshotID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextSnap++
	id := SnapshotID(db.nextSnap)
	db.snapshots[id] = db.version
	return id, nil
}

// ExportSnapshot materializes a standalone MemDB frozen at the snapshot's
// version: every key's current-as-of-snapshot value becomes that key's
// sole history entry in the new engine.
func (db *MemDB) ExportSnapshot(ctx context.Context, id SnapshotID) (DB, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	asOf, ok := db.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown snapshot", ErrInvalidArgument)
	}
	out := NewMemDB()
	for col, m := range db.collections {
		if _, ok := out.collections[col]; !ok {
			out.collections[col] = map[Key]*keyHistory{}
		}
		for k, h := range m {
			value, present := h.valueAt(asOf)
			if !present {
				continue
			}
			nh := &keyHistory{}
			nh.append(0, value, true)
			out.collections[col][k] = nh
		}
	}
	for name, colID := range db.names {
		out.names[name] = colID
		out.idsToNames[colID] = name
	}
	return out, nil
}

func (db *MemDB) DropSnapshot(ctx context.Context, id SnapshotID) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.snapshots[id]; !ok {
		return fmt.Errorf("%w: unknown snapshot", ErrInvalidArgument)
	}
	delete(db.snapshots, id)
	return nil
}

func (db *MemDB) ListSnapshots(ctx context.Context) ([]SnapshotID, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]SnapshotID, 0, len(db.snapshots))
	for id := range db.snapshots {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (db *MemDB) Close(ctx context.Context) error {
	return nil
}

// memTxn is MemDB's Txn implementation. Conflict detection is optimistic:
// every watched ref records the history version it saw at read time, and
// Commit fails with ErrConflict if any watched ref has since moved.
type memTxn struct {
	db          *MemDB
	snapVersion uint64
	watch       map[Ref]uint64
	pending     map[Ref]WriteItem
	mu          sync.Mutex
	committed   bool
}

func (t *memTxn) Read(ctx context.Context, refs []Ref, watch bool) ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.db.mu.RLock()
	defer t.db.mu.RUnlock()

	out := make([]Entry, len(refs))
	for i, ref := range refs {
		if w, ok := t.pending[ref]; ok {
			out[i] = Entry{Ref: ref, Value: w.Value, Present: w.Present}
			continue
		}
		col, ok := t.db.collections[ref.Collection]
		if !ok {
			out[i] = Entry{Ref: ref}
			continue
		}
		h, ok := col[ref.Key]
		if !ok {
			out[i] = Entry{Ref: ref}
			if watch {
				t.watch[ref] = 0
			}
			continue
		}
		value, present := h.valueAt(t.snapVersion)
		out[i] = Entry{Ref: ref, Value: value, Present: present}
		if watch {
			if v, ok := h.latestVersionAsOf(t.snapVersion); ok {
				t.watch[ref] = v
			} else {
				t.watch[ref] = 0
			}
		}
	}
	return out, nil
}

// latestVersionAsOf returns the version of the entry valueAt(asOf) would
// return, so the watch set can detect whether a later write landed before
// or after this read's logical time.
func (h *keyHistory) latestVersionAsOf(asOf uint64) (uint64, bool) {
	lo, hi := 0, len(h.versions)
	for lo < hi {
		mid := (lo + hi) / 2
		if h.versions[mid] <= asOf {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0, false
	}
	return h.versions[lo-1], true
}

func (t *memTxn) Write(ctx context.Context, items []WriteItem, opts Options) error {
	if err := opts.Validate(true, true); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, it := range items {
		t.pending[it.Ref] = it
	}
	return nil
}

func (t *memTxn) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	for ref, seenVersion := range t.watch {
		col, ok := t.db.collections[ref.Collection]
		if !ok {
			continue
		}
		h, ok := col[ref.Key]
		if !ok {
			continue
		}
		cur, _ := h.latestVersion()
		if cur != seenVersion {
			return fmt.Errorf("%w: %+v was modified by another transaction", ErrConflict, ref)
		}
	}

	if len(t.pending) == 0 {
		t.committed = true
		return nil
	}

	t.db.version++
	for ref, it := range t.pending {
		col, ok := t.db.collections[ref.Collection]
		if !ok {
			return fmt.Errorf("%w: unknown collection", ErrInvalidArgument)
		}
		h, ok := col[ref.Key]
		if !ok {
			h = &keyHistory{}
			col[ref.Key] = h
		}
		h.append(t.db.version, it.Value, it.Present)
	}
	t.committed = true
	return nil
}

func (t *memTxn) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.db.mu.RLock()
	t.snapVersion = t.db.version
	t.db.mu.RUnlock()
	t.watch = map[Ref]uint64{}
	t.pending = map[Ref]WriteItem{}
	t.committed = false
	return nil
}
