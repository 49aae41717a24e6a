// Package checksum computes the digests recorded for archives and their files.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ETag formats a digest as a strong HTTP entity tag.
func ETag(sum string) string {
	return `"` + sum + `"`
}

// Match reports whether an If-None-Match header value names the entity tag
// of sum. Weak tags compare equal to strong ones.
func Match(header, sum string) bool {
	if header == "" {
		return false
	}
	tag := ETag(sum)
	for _, part := range strings.Split(header, ",") {
		p := strings.TrimPrefix(strings.TrimSpace(part), "W/")
		if p == "*" || p == tag {
			return true
		}
	}
	return false
}
