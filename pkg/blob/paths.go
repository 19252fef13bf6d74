package blob

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxFilenameLen caps a sanitized filename, extension included.
const maxFilenameLen = 100

var (
	unsafeChar    = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	underscoreRun = regexp.MustCompile(`_{2,}`)
)

// SanitizeFilename reduces an uploaded filename to the storage-safe
// alphabet [A-Za-z0-9._-]: path components are stripped, anything else
// becomes an underscore, underscore runs collapse, and the result is
// capped at 100 characters with the extension preserved. A name with
// nothing left becomes "file".
func SanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "/" || base == "." {
		base = ""
	}
	ext := sanitizePart(path.Ext(base))
	stem := sanitizePart(strings.TrimSuffix(base, path.Ext(base)))
	if stem == "" {
		stem = "file"
	}

	room := maxFilenameLen - len(ext)
	if room < 1 {
		// Degenerate extension; keep the name, drop the extension.
		ext = ""
		room = maxFilenameLen
	}
	if len(stem) > room {
		stem = strings.TrimRight(stem[:room], "_.")
		if stem == "" {
			stem = "file"
		}
	}
	return stem + ext
}

func sanitizePart(s string) string {
	s = unsafeChar.ReplaceAllString(s, "_")
	s = underscoreRun.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// CanonicalPath places one upload under its owner and month:
// receipts/{user}/{YYYY}/{MM}/{uuid}_{safe_name}. The UUID keeps two
// uploads of the same filename from colliding.
func CanonicalPath(userID, originalFilename string) string {
	now := time.Now().UTC()
	return fmt.Sprintf("receipts/%s/%04d/%02d/%s_%s",
		userID, now.Year(), int(now.Month()), uuid.NewString(), SanitizeFilename(originalFilename))
}
