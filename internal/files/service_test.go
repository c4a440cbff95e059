package files

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBlobStore is an in-memory files.BlobStore for service tests.
type memBlobStore struct {
	mu         sync.Mutex
	blobs      map[string][]byte
	failDelete map[string]error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{
		blobs:      make(map[string][]byte),
		failDelete: make(map[string]error),
	}
}

func (m *memBlobStore) Write(ref string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[ref] = append([]byte(nil), content...)
	return nil
}

func (m *memBlobStore) Read(ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.blobs[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), content...), nil
}

func (m *memBlobStore) Delete(ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failDelete[ref]; ok {
		return err
	}
	delete(m.blobs, ref)
	return nil
}

func (m *memBlobStore) Exists(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[ref]
	return ok
}

func (m *memBlobStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// memIndex is an in-memory files.Index with optional persistence failure
// injection.
type memIndex struct {
	mu         sync.Mutex
	records    map[string]File
	persistErr error
}

func newMemIndex() *memIndex {
	return &memIndex{records: make(map[string]File)}
}

func (m *memIndex) Snapshot() []File {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]File, 0, len(m.records))
	for _, f := range m.records {
		list = append(list, f)
	}
	return list
}

func (m *memIndex) Get(id string) (File, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.records[id]
	return f, ok
}

func (m *memIndex) Mutate(fn func(records map[string]File) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]File, len(m.records))
	for id, f := range m.records {
		next[id] = f
	}
	if err := fn(next); err != nil {
		return err
	}
	if m.persistErr != nil {
		return m.persistErr
	}
	m.records = next
	return nil
}

func newTestService(cfg Config) (*Service, *memBlobStore, *memIndex) {
	storage := newMemBlobStore()
	idx := newMemIndex()
	return NewService(storage, idx, cfg), storage, idx
}

func seed(idx *memIndex, storage *memBlobStore, f File) {
	if f.ContentRef == "" {
		f.ContentRef = f.ID
	}
	content := make([]byte, f.Size)
	_ = storage.Write(f.ContentRef, content)
	_ = idx.Mutate(func(records map[string]File) error {
		records[f.ID] = f
		return nil
	})
}

func TestStoreAndGetRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(Config{})
	content := []byte("per aspera ad astra")

	stored, err := svc.StoreFile(&StoreRequest{
		Name:     "motto.txt",
		MimeType: "text/plain",
		Category: CategoryOriginal,
		Content:  content,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, int64(len(content)), stored.Size)
	assert.Empty(t, stored.ContentRef)

	got, gotContent, err := svc.GetFile(stored.ID)
	require.NoError(t, err)
	assert.Equal(t, content, gotContent)
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, "text/plain", got.MimeType)
	assert.False(t, got.LastAccessed.Before(got.UploadedAt))
}

func TestStoreDetectsMimeType(t *testing.T) {
	svc, _, _ := newTestService(Config{})

	stored, err := svc.StoreFile(&StoreRequest{
		Name:     "page.html",
		Category: CategoryConverted,
		Content:  []byte("<html><body>hello</body></html>"),
	})
	require.NoError(t, err)
	assert.Contains(t, stored.MimeType, "text/html")
}

func TestStoreInvalidCategory(t *testing.T) {
	svc, storage, idx := newTestService(Config{})

	_, err := svc.StoreFile(&StoreRequest{
		Name:     "x.bin",
		Category: Category("thumbnail"),
		Content:  []byte{1, 2, 3},
	})

	require.ErrorIs(t, err, ErrInvalidCategory)
	// Fail fast: no partial state.
	assert.Zero(t, storage.count())
	assert.Empty(t, idx.Snapshot())
}

func TestGetUnknownID(t *testing.T) {
	svc, _, _ := newTestService(Config{})

	_, _, err := svc.GetFile("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetBumpsLastAccessed(t *testing.T) {
	svc, _, _ := newTestService(Config{})

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return t0 }

	stored, err := svc.StoreFile(&StoreRequest{
		Name:     "doc.pdf",
		Category: CategoryOriginal,
		Content:  []byte("pdf bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, t0, stored.LastAccessed)

	t1 := t0.Add(time.Hour)
	svc.now = func() time.Time { return t1 }

	got, _, err := svc.GetFile(stored.ID)
	require.NoError(t, err)
	assert.Equal(t, t1, got.LastAccessed)
	assert.Equal(t, t0, got.UploadedAt)
}

func TestDeleteFile(t *testing.T) {
	svc, storage, _ := newTestService(Config{})

	stored, err := svc.StoreFile(&StoreRequest{
		Name:     "doomed.bin",
		Category: CategoryCompressed,
		Content:  []byte{0xde, 0xad},
	})
	require.NoError(t, err)

	existed, err := svc.DeleteFile(stored.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	_, _, err = svc.GetFile(stored.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, storage.count())

	// Idempotent: a second delete reports absence, not an error.
	existed, err = svc.DeleteFile(stored.ID)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestGetContentMissing(t *testing.T) {
	svc, storage, idx := newTestService(Config{AutoCleanup: true})

	stored, err := svc.StoreFile(&StoreRequest{
		Name:     "ghost.bin",
		Category: CategoryOriginal,
		Content:  []byte("boo"),
	})
	require.NoError(t, err)

	// Simulate a blob lost out-of-band.
	require.NoError(t, storage.Delete(stored.ID))

	_, _, err = svc.GetFile(stored.ID)
	assert.ErrorIs(t, err, ErrContentMissing)

	// The orphaned record is reclaimed on the next cleanup pass.
	require.NoError(t, svc.Cleanup())
	assert.Empty(t, idx.Snapshot())
}

func TestStoreRollsBackBlobOnPersistFailure(t *testing.T) {
	svc, storage, idx := newTestService(Config{})
	idx.persistErr = errors.New("disk full")

	_, err := svc.StoreFile(&StoreRequest{
		Name:     "unlucky.bin",
		Category: CategoryOriginal,
		Content:  []byte("data"),
	})

	require.Error(t, err)
	assert.Zero(t, storage.count())
	assert.Empty(t, idx.Snapshot())
}

func TestCleanupExpiry(t *testing.T) {
	svc, storage, idx := newTestService(Config{
		AutoCleanup:     true,
		RetentionPeriod: 24 * time.Hour,
	})

	now := time.Now()
	seed(idx, storage, File{
		ID:           "old",
		Size:         10,
		UploadedAt:   now.Add(-48 * time.Hour),
		LastAccessed: now, // recency does not save an expired record
	})
	seed(idx, storage, File{
		ID:           "fresh",
		Size:         10,
		UploadedAt:   now.Add(-time.Hour),
		LastAccessed: now,
	})

	require.NoError(t, svc.Cleanup())

	_, ok := idx.Get("old")
	assert.False(t, ok)
	assert.False(t, storage.Exists("old"))
	_, ok = idx.Get("fresh")
	assert.True(t, ok)
}

func TestCleanupCountCap(t *testing.T) {
	svc, storage, idx := newTestService(Config{
		AutoCleanup: true,
		MaxFiles:    3,
	})

	now := time.Now()
	for i := 0; i < 5; i++ {
		seed(idx, storage, File{
			ID:           fmt.Sprintf("file-%d", i),
			Size:         1,
			UploadedAt:   now.Add(-time.Hour),
			LastAccessed: now.Add(-time.Duration(5-i) * time.Minute),
		})
	}

	require.NoError(t, svc.Cleanup())

	// The three most recently accessed survive.
	require.Len(t, idx.Snapshot(), 3)
	for _, id := range []string{"file-2", "file-3", "file-4"} {
		_, ok := idx.Get(id)
		assert.True(t, ok, id)
	}
}

func TestCleanupSizeCap(t *testing.T) {
	svc, storage, idx := newTestService(Config{
		AutoCleanup:     true,
		MaxStorageBytes: 100,
	})

	now := time.Now()
	for id, size := range map[string]int64{"a": 10, "b": 90, "c": 5} {
		seed(idx, storage, File{
			ID: id, Size: size, UploadedAt: now, LastAccessed: now,
		})
	}

	require.NoError(t, svc.Cleanup())

	_, ok := idx.Get("b")
	assert.False(t, ok, "largest blob is evicted first")
	assert.False(t, storage.Exists("b"))
	for _, id := range []string{"a", "c"} {
		_, ok := idx.Get(id)
		assert.True(t, ok, id)
	}
}

func TestCleanupDisabled(t *testing.T) {
	svc, storage, idx := newTestService(Config{
		AutoCleanup:     false,
		RetentionPeriod: time.Hour,
		MaxFiles:        1,
	})

	now := time.Now()
	seed(idx, storage, File{
		ID: "a", Size: 10, UploadedAt: now.Add(-48 * time.Hour), LastAccessed: now,
	})
	seed(idx, storage, File{
		ID: "b", Size: 10, UploadedAt: now.Add(-48 * time.Hour), LastAccessed: now,
	})

	require.NoError(t, svc.Cleanup())
	assert.Len(t, idx.Snapshot(), 2)
}

func TestCleanupKeepsRecordWhenBlobDeleteFails(t *testing.T) {
	svc, storage, idx := newTestService(Config{
		AutoCleanup:     true,
		RetentionPeriod: time.Hour,
	})

	now := time.Now()
	seed(idx, storage, File{
		ID: "stuck", Size: 10, UploadedAt: now.Add(-2 * time.Hour), LastAccessed: now,
	})
	storage.failDelete["stuck"] = errors.New("permission denied")

	require.NoError(t, svc.Cleanup())

	// Still indexed: the entry may only go once the blob is gone.
	_, ok := idx.Get("stuck")
	assert.True(t, ok)

	// The next pass retries and succeeds.
	delete(storage.failDelete, "stuck")
	require.NoError(t, svc.Cleanup())
	_, ok = idx.Get("stuck")
	assert.False(t, ok)
	assert.False(t, storage.Exists("stuck"))
}

func TestClearAll(t *testing.T) {
	svc, storage, _ := newTestService(Config{})

	for i := 0; i < 4; i++ {
		_, err := svc.StoreFile(&StoreRequest{
			Name:     fmt.Sprintf("f-%d", i),
			Category: CategoryOriginal,
			Content:  []byte("content"),
		})
		require.NoError(t, err)
	}

	require.NoError(t, svc.ClearAll())

	assert.Equal(t, 0, svc.StorageInfo().TotalFiles)
	assert.Zero(t, storage.count())
}

func TestStorageInfo(t *testing.T) {
	svc, _, _ := newTestService(Config{})

	_, err := svc.StoreFile(&StoreRequest{
		Name: "a.pdf", Category: CategoryOriginal, Content: make([]byte, 100),
	})
	require.NoError(t, err)
	_, err = svc.StoreFile(&StoreRequest{
		Name: "b.pdf", Category: CategoryOCR, Content: make([]byte, 50),
	})
	require.NoError(t, err)

	info := svc.StorageInfo()
	assert.Equal(t, 2, info.TotalFiles)
	assert.Equal(t, int64(150), info.TotalSize)
	assert.Equal(t, 1, info.ByCategory[CategoryOriginal])
	assert.Equal(t, 1, info.ByCategory[CategoryOCR])
}

func TestConcurrentStoresLoseNoUpdates(t *testing.T) {
	svc, storage, idx := newTestService(Config{AutoCleanup: true})

	const n = 25
	var wg sync.WaitGroup
	ids := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, err := svc.StoreFile(&StoreRequest{
				Name:     fmt.Sprintf("concurrent-%d", i),
				Category: CategoryOriginal,
				Content:  []byte(fmt.Sprintf("payload %d", i)),
			})
			if !assert.NoError(t, err) {
				return
			}
			ids <- stored.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Len(t, idx.Snapshot(), n)
	assert.Equal(t, n, storage.count())
}
