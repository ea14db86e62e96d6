package queue

import (
	"fmt"
	"path/filepath"
	"strings"

	"montage/internal/textutil"
)

// WorkspaceRoot returns the per-storyboard working directory rooted at base.
// The stable storyboard identifier is used when available; otherwise it falls
// back to queue-{ID} to avoid collisions.
func (b Storyboard) WorkspaceRoot(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	segment := strings.TrimSpace(b.StoryboardID)
	if segment == "" {
		segment = fmt.Sprintf("queue-%d", b.ID)
	}
	segment = sanitizeSegment(segment)
	return filepath.Join(base, segment)
}

func sanitizeSegment(value string) string {
	value = textutil.SanitizeFileName(value)
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, " ", "-")
	value = strings.Trim(value, "-_")
	if value == "" {
		return "queue"
	}
	return value
}
