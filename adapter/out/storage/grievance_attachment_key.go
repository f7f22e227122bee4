package storage

import (
	"encoding/hex"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"
)

const keyHashPrefix = 8

// AttachmentKey derives the content-addressed object key for an attachment
// together with the full hex digest. Keys look like
// "<first 8 hex chars of blake3>_<sanitized file name>".
func AttachmentKey(name string, data []byte) (key, hash string) {
	sum := blake3.Sum256(data)
	hash = hex.EncodeToString(sum[:])
	return hash[:keyHashPrefix] + "_" + SanitizeName(name), hash
}

// SanitizeName reduces a client-supplied file name to a single safe path
// element.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == ' ', r == '/', r == ':':
			return '_'
		case r < 0x20, r == 0x7f:
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "attachment"
	}
	return name
}

// ValidKey reports whether key can be served without escaping the store.
func ValidKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, `/\`)
}
