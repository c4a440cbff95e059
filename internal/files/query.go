package files

import (
	"sort"
	"strings"
	"time"
)

// SortKey selects the field list results are ordered by.
type SortKey string

const (
	SortByName         SortKey = "name"
	SortBySize         SortKey = "size"
	SortByUploadedAt   SortKey = "uploaded_at"
	SortByLastAccessed SortKey = "last_accessed"
)

// SortOrder selects the direction of a sort.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ListOptions narrows and orders a listing. The zero value lists every
// record, newest upload first.
type ListOptions struct {
	Category Category
	Search   string
	SortBy   SortKey
	Order    SortOrder
}

// StorageInfo aggregates the index: totals, per-category counts, and the
// upload-time range. The range pointers are nil for an empty store.
type StorageInfo struct {
	TotalFiles   int              `json:"total_files"`
	TotalSize    int64            `json:"total_size"`
	ByCategory   map[Category]int `json:"by_category"`
	OldestUpload *time.Time       `json:"oldest_upload,omitempty"`
	NewestUpload *time.Time       `json:"newest_upload,omitempty"`
}

// filterSort returns a fresh ordered slice of the records matching opts.
func filterSort(records []File, opts ListOptions) []File {
	result := make([]File, 0, len(records))
	search := strings.ToLower(opts.Search)

	for _, f := range records {
		if opts.Category != "" && f.Category != opts.Category {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(f.Name), search) {
			continue
		}
		result = append(result, f)
	}

	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = SortByUploadedAt
	}
	order := opts.Order
	if order == "" {
		if opts.SortBy == "" {
			order = OrderDesc
		} else {
			order = OrderAsc
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if order == OrderDesc {
			a, b = b, a
		}
		switch sortBy {
		case SortByName:
			return a.Name < b.Name
		case SortBySize:
			return a.Size < b.Size
		case SortByLastAccessed:
			return a.LastAccessed.Before(b.LastAccessed)
		default:
			return a.UploadedAt.Before(b.UploadedAt)
		}
	})

	return result
}

// aggregate computes StorageInfo over a records snapshot.
func aggregate(records []File) StorageInfo {
	info := StorageInfo{
		ByCategory: make(map[Category]int),
	}

	for _, f := range records {
		info.TotalFiles++
		info.TotalSize += f.Size
		info.ByCategory[f.Category]++

		if info.OldestUpload == nil || f.UploadedAt.Before(*info.OldestUpload) {
			t := f.UploadedAt
			info.OldestUpload = &t
		}
		if info.NewestUpload == nil || f.UploadedAt.After(*info.NewestUpload) {
			t := f.UploadedAt
			info.NewestUpload = &t
		}
	}

	return info
}
