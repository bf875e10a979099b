package storage

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateObjectKey builds a unique storage key for an uploaded file.
// Keys are date-sharded so bucket listings stay navigable, and carry a UUID
// so concurrent uploads of the same filename never collide:
//
//	uploads/2026/09/01/9f2c...-report.pdf
func GenerateObjectKey(filename string) string {
	now := time.Now().UTC()
	return path.Join(
		"uploads",
		fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()),
		uuid.NewString()+"-"+SanitizeFilename(filename),
	)
}

// SanitizeFilename strips path separators and control characters from a
// client-supplied filename so it is safe to embed in an object key.
func SanitizeFilename(filename string) string {
	// Drop any directory components the client sent.
	filename = path.Base(strings.ReplaceAll(filename, "\\", "/"))

	var b strings.Builder
	b.Grow(len(filename))
	for _, r := range filename {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "file"
	}
	return out
}
