package util

import (
	"crypto/sha256"
	"fmt"
)

const maxSegmentLen = 64

// Segment returns a storage-safe representation of s for use as a file name
// or composed key segment. Safe inputs pass through unchanged so stored
// layouts stay human-readable; anything else collapses to a short content
// hash. Deterministic: equal inputs always map to equal segments.
func Segment(s string) string {
	if safe(s) {
		return s
	}
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("h%x", sum)[:1+16] // "h" + first 16 hex chars
}

func safe(s string) bool {
	if s == "" || s == "." || s == ".." || len(s) > maxSegmentLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}
