package files

import (
	"encoding/json"
	"errors"
	"time"
)

// Category classifies how a stored artifact was produced.
type Category string

const (
	CategoryOriginal    Category = "original"
	CategoryCompressed  Category = "compressed"
	CategoryConverted   Category = "converted"
	CategoryOCR         Category = "ocr"
	CategoryAIProcessed Category = "ai-processed"
)

// Categories lists every valid category value.
var Categories = []Category{
	CategoryOriginal,
	CategoryCompressed,
	CategoryConverted,
	CategoryOCR,
	CategoryAIProcessed,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryOriginal, CategoryCompressed, CategoryConverted, CategoryOCR, CategoryAIProcessed:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when no record exists for the requested id.
	ErrNotFound = errors.New("file not found")

	// ErrContentMissing is returned when a record exists but its content
	// blob is gone. The record is reclaimed on the next cleanup pass.
	ErrContentMissing = errors.New("file content missing")

	// ErrInvalidCategory is returned before any write happens when the
	// caller supplies a category outside the known set.
	ErrInvalidCategory = errors.New("invalid file category")
)

// File represents the metadata of one stored artifact. Content lives in
// the blob store and is addressed by ContentRef.
type File struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Size              int64           `json:"size"`
	MimeType          string          `json:"mime_type"`
	Category          Category        `json:"category"`
	ProcessingDetails json.RawMessage `json:"processing_details,omitempty"`
	UploadedAt        time.Time       `json:"uploaded_at"`
	LastAccessed      time.Time       `json:"last_accessed"`

	// ContentRef points at the blob inside the blob store. Internal,
	// never exposed to callers.
	ContentRef string `json:"content_ref,omitempty"`
}

// Config holds the store limits, read once at startup.
type Config struct {
	MaxFiles        int
	MaxStorageBytes int64
	AutoCleanup     bool
	RetentionPeriod time.Duration
}

// BlobStore defines the physical content storage. Writes are one-shot per
// ref, deletes are idempotent.
type BlobStore interface {
	Write(ref string, content []byte) error
	Read(ref string) ([]byte, error)
	Delete(ref string) error
	Exists(ref string) bool
}

// Index defines the durable record collection. Mutate must serialize
// concurrent mutations and roll back the in-memory state when
// persistence fails.
type Index interface {
	Snapshot() []File
	Get(id string) (File, bool)
	Mutate(fn func(records map[string]File) error) error
}
