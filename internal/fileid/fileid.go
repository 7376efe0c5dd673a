// Package fileid derives stable post ids from Markdown file paths.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"unicode"
)

const hashPrefix = "post-"

// PostID returns the slug for a post file: the base name without extension,
// lowercased, with runs of other characters collapsed to "-". A name with no
// letters or digits falls back to a hash of the cleaned path.
// Same path always yields the same ID.
func PostID(path string) string {
	clean := filepath.Clean(path)
	base := strings.TrimSuffix(filepath.Base(clean), filepath.Ext(clean))
	if slug := Slugify(base); slug != "" {
		return slug
	}
	hash := sha256.Sum256([]byte(clean))
	return hashPrefix + hex.EncodeToString(hash[:8])
}

// Slugify lowercases s and joins its letter and digit runs with "-".
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

// IsPostFile reports whether path names a Markdown post.
func IsPostFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return !strings.HasPrefix(filepath.Base(path), ".")
	}
	return false
}
