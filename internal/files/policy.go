package files

import (
	"sort"
	"time"
)

// victim is a record selected for removal and the pass that selected it.
type victim struct {
	File   File
	Reason string
}

const (
	reasonContentMissing = "content-missing"
	reasonExpired        = "expired"
	reasonCountCap       = "count-cap"
	reasonSizeCap        = "size-cap"
)

// evictionPlan computes which records must be removed to satisfy cfg.
// Passes run in order against the current surviving set, so they are
// cumulative: a record expired in pass one no longer counts against the
// count or size caps.
//
// An integrity sweep runs first: records whose blob has gone missing
// serve nothing and are reclaimed before any policy pass.
//
// The size-cap pass removes the largest blobs first rather than the
// least recently used, trading recency fidelity for faster reclamation.
// This is intentional; do not change it to LRU without a product call.
func evictionPlan(records []File, cfg Config, now time.Time, blobMissing func(ref string) bool) []victim {
	var victims []victim
	survivors := make([]File, 0, len(records))

	for _, f := range records {
		if blobMissing != nil && blobMissing(f.ContentRef) {
			victims = append(victims, victim{File: f, Reason: reasonContentMissing})
			continue
		}
		survivors = append(survivors, f)
	}

	// Pass 1: expiry. Order-independent, every qualifying record goes.
	if cfg.RetentionPeriod > 0 {
		kept := survivors[:0]
		for _, f := range survivors {
			if now.Sub(f.UploadedAt) > cfg.RetentionPeriod {
				victims = append(victims, victim{File: f, Reason: reasonExpired})
				continue
			}
			kept = append(kept, f)
		}
		survivors = kept
	}

	// Pass 2: count cap. Evict least-recently-accessed first, oldest
	// upload first on equal access times.
	if cfg.MaxFiles > 0 && len(survivors) > cfg.MaxFiles {
		sort.SliceStable(survivors, func(i, j int) bool {
			a, b := survivors[i], survivors[j]
			if !a.LastAccessed.Equal(b.LastAccessed) {
				return a.LastAccessed.Before(b.LastAccessed)
			}
			return a.UploadedAt.Before(b.UploadedAt)
		})
		excess := len(survivors) - cfg.MaxFiles
		for _, f := range survivors[:excess] {
			victims = append(victims, victim{File: f, Reason: reasonCountCap})
		}
		survivors = survivors[excess:]
	}

	// Pass 3: size cap. Evict the largest blobs first, lowest
	// lastAccessed first on equal size.
	if cfg.MaxStorageBytes > 0 {
		var total int64
		for _, f := range survivors {
			total += f.Size
		}
		if total > cfg.MaxStorageBytes {
			sort.SliceStable(survivors, func(i, j int) bool {
				a, b := survivors[i], survivors[j]
				if a.Size != b.Size {
					return a.Size > b.Size
				}
				return a.LastAccessed.Before(b.LastAccessed)
			})
			for _, f := range survivors {
				if total <= cfg.MaxStorageBytes {
					break
				}
				victims = append(victims, victim{File: f, Reason: reasonSizeCap})
				total -= f.Size
			}
		}
	}

	return victims
}
