package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewFileID returns an id of the form file_<unix-ms>_<9 char suffix>.
// Collisions are possible in principle but negligible in practice.
func NewFileID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("file_%d_%s", now.UnixMilli(), suffix)
}
