package files

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Service provides application-level file operations: storing, fetching,
// deleting, listing, aggregate stats, and retention-based cleanup.
//
// A Service is constructed once at process start and shared by all
// request handlers. It is safe for concurrent use: the index serializes
// its own mutations, and a service-level mutex keeps cleanup passes from
// interleaving with stores.
type Service struct {
	storage BlobStore
	index   Index
	cfg     Config

	mu  sync.Mutex
	now func() time.Time
}

// NewService creates a new file service.
func NewService(storage BlobStore, index Index, cfg Config) *Service {
	return &Service{
		storage: storage,
		index:   index,
		cfg:     cfg,
		now:     time.Now,
	}
}

// StoreRequest represents a request to store one file.
type StoreRequest struct {
	Name              string
	MimeType          string
	Category          Category
	ProcessingDetails json.RawMessage
	Content           []byte
}

// StoreFile persists content with its metadata and returns the new
// record. Cleanup runs first so the new content is measured against the
// limits after reclaimable space has been freed.
func (s *Service) StoreFile(req *StoreRequest) (*File, error) {
	if !req.Category.Valid() {
		return nil, fmt.Errorf("category %q: %w", req.Category, ErrInvalidCategory)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cleanupLocked(); err != nil {
		slog.Warn("Pre-store cleanup failed", "error", err)
	}

	now := s.now()
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(req.Content)
	}

	file := File{
		ID:                newFileID(),
		Name:              req.Name,
		Size:              int64(len(req.Content)),
		MimeType:          mimeType,
		Category:          req.Category,
		ProcessingDetails: req.ProcessingDetails,
		UploadedAt:        now,
		LastAccessed:      now,
	}
	file.ContentRef = file.ID

	if err := s.storage.Write(file.ContentRef, req.Content); err != nil {
		return nil, fmt.Errorf("failed to save file content: %w", err)
	}

	err := s.index.Mutate(func(records map[string]File) error {
		records[file.ID] = file
		return nil
	})
	if err != nil {
		// Roll the blob back so the store never holds content the
		// index does not know about.
		s.storage.Delete(file.ContentRef)
		return nil, fmt.Errorf("failed to save file metadata: %w", err)
	}

	return redact(file), nil
}

// GetFile returns the record and content for id, bumping lastAccessed.
// A record whose blob has gone missing is reported as ErrContentMissing
// and left for the next cleanup pass to reclaim.
func (s *Service) GetFile(id string) (*File, []byte, error) {
	file, ok := s.index.Get(id)
	if !ok {
		return nil, nil, fmt.Errorf("file %q: %w", id, ErrNotFound)
	}

	content, err := s.storage.Read(file.ContentRef)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			slog.Error("Index entry has no content blob", "file_id", id, "content_ref", file.ContentRef)
			return nil, nil, fmt.Errorf("file %q: %w", id, ErrContentMissing)
		}
		return nil, nil, fmt.Errorf("failed to read file content: %w", err)
	}

	accessed := s.now()
	err = s.index.Mutate(func(records map[string]File) error {
		f, ok := records[id]
		if !ok {
			return nil
		}
		f.LastAccessed = accessed
		records[id] = f
		return nil
	})
	if err != nil {
		// The read itself succeeded; a failed recency bump must not
		// fail the caller.
		slog.Warn("Failed to persist access time", "file_id", id, "error", err)
	} else {
		file.LastAccessed = accessed
	}

	return redact(file), content, nil
}

// DeleteFile removes the record and blob for id. It reports whether the
// file existed; a missing id is not an error. The index entry is dropped
// only after the blob is gone, so a failed delete can always be retried.
func (s *Service) DeleteFile(id string) (bool, error) {
	file, ok := s.index.Get(id)
	if !ok {
		return false, nil
	}

	if err := s.storage.Delete(file.ContentRef); err != nil {
		return true, fmt.Errorf("failed to delete file content: %w", err)
	}

	err := s.index.Mutate(func(records map[string]File) error {
		delete(records, id)
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("failed to delete file metadata: %w", err)
	}

	return true, nil
}

// ListFiles returns the records matching opts as a fresh slice, without
// content.
func (s *Service) ListFiles(opts ListOptions) []File {
	result := filterSort(s.index.Snapshot(), opts)
	for i := range result {
		result[i].ContentRef = ""
	}
	return result
}

// StorageInfo returns aggregate statistics over the whole index.
func (s *Service) StorageInfo() StorageInfo {
	return aggregate(s.index.Snapshot())
}

// ClearAll removes every record and every blob.
func (s *Service) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	removed := make([]string, 0)
	for _, f := range s.index.Snapshot() {
		if err := s.storage.Delete(f.ContentRef); err != nil {
			slog.Warn("Failed to delete blob during clear", "file_id", f.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed = append(removed, f.ID)
	}

	err := s.index.Mutate(func(records map[string]File) error {
		for _, id := range removed {
			delete(records, id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear file metadata: %w", err)
	}

	return firstErr
}

// Cleanup applies the eviction passes: expiry, count cap, size cap.
// Idempotent; safe to call from an external scheduler at any time.
func (s *Service) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked()
}

func (s *Service) cleanupLocked() error {
	if !s.cfg.AutoCleanup {
		return nil
	}

	victims := evictionPlan(s.index.Snapshot(), s.cfg, s.now(), func(ref string) bool {
		return !s.storage.Exists(ref)
	})
	if len(victims) == 0 {
		return nil
	}

	// Blob first, index second: a record stays indexed until its blob
	// is gone, so a failed delete is retried on the next pass.
	removed := make([]string, 0, len(victims))
	var reclaimed int64
	for _, v := range victims {
		if err := s.storage.Delete(v.File.ContentRef); err != nil {
			slog.Warn("Failed to delete blob during cleanup",
				"file_id", v.File.ID, "reason", v.Reason, "error", err)
			continue
		}
		removed = append(removed, v.File.ID)
		reclaimed += v.File.Size
		slog.Info("Evicted file",
			"file_id", v.File.ID,
			"reason", v.Reason,
			"size", humanize.Bytes(uint64(v.File.Size)),
		)
	}

	if len(removed) == 0 {
		return nil
	}

	err := s.index.Mutate(func(records map[string]File) error {
		for _, id := range removed {
			delete(records, id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove evicted records: %w", err)
	}

	slog.Info("Cleanup finished",
		"evicted", len(removed),
		"reclaimed", humanize.Bytes(uint64(reclaimed)),
	)
	return nil
}

// redact strips internal fields from a record before it leaves the
// service.
func redact(f File) *File {
	f.ContentRef = ""
	return &f
}
