package files

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// newFileID creates a unique file identifier: a millisecond timestamp
// prefix keeps ids roughly sortable by creation time, the random suffix
// guarantees uniqueness without coordination.
func newFileID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}
