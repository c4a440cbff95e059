// Package index persists file metadata as a single JSON document.
//
// The whole collection is kept in memory and re-serialized on every
// mutation. The durable form is a pretty-printed JSON array so the index
// stays human-diffable for operational debugging. O(n) load/persist is
// fine at the target scale of hundreds of records.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pavel-fokin/filekeeper/internal/files"
)

// Index implements files.Index on top of a single JSON file.
type Index struct {
	path string

	mu      sync.Mutex
	records map[string]files.File
}

// New loads the index at path. A missing or unreadable index file is
// treated as a first run and yields an empty collection; it never fails
// the caller.
func New(path string) (*Index, error) {
	idx := &Index{
		path:    path,
		records: make(map[string]files.File),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return idx, nil
	}

	var list []files.File
	if err := json.Unmarshal(data, &list); err != nil {
		return idx, nil
	}

	for _, f := range list {
		idx.records[f.ID] = f
	}

	return idx, nil
}

// Snapshot returns a copy of every record. Callers never receive a live
// reference to internal state.
func (idx *Index) Snapshot() []files.File {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	list := make([]files.File, 0, len(idx.records))
	for _, f := range idx.records {
		list = append(list, f)
	}
	return list
}

// Get returns the record for id, if present.
func (idx *Index) Get(id string) (files.File, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	f, ok := idx.records[id]
	return f, ok
}

// Mutate applies fn to the in-memory collection and persists the result.
// The mutation is committed only once the new document is durably on
// disk; if fn or persistence fails, the in-memory state is rolled back
// to its pre-mutation snapshot. The mutex serializes the whole
// load-mutate-persist cycle so concurrent mutations never interleave.
func (idx *Index) Mutate(fn func(records map[string]files.File) error) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	snapshot := make(map[string]files.File, len(idx.records))
	for id, f := range idx.records {
		snapshot[id] = f
	}

	if err := fn(idx.records); err != nil {
		idx.records = snapshot
		return err
	}

	if err := idx.persist(); err != nil {
		idx.records = snapshot
		return fmt.Errorf("persisting index: %w", err)
	}

	return nil
}

// persist writes the collection to a temp file and renames it over the
// index path, so the on-disk document is always either the old or the
// new version, never a partial write. Caller holds the mutex.
func (idx *Index) persist() error {
	list := make([]files.File, 0, len(idx.records))
	for _, f := range idx.records {
		list = append(list, f)
	}
	// Stable on-disk order keeps diffs readable.
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(idx.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".index-*.json")
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp index file: %w", err)
	}

	if err := os.Rename(tmp.Name(), idx.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing index file: %w", err)
	}

	return nil
}
