// Package pointid derives deterministic point ids for records loaded from files without one.
package pointid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
)

const prefix = "pt:"

// FromSource returns a stable id for the record on the given line of path.
// Re-loading the same file yields the same ids, so already indexed records
// are recognized.
func FromSource(path string, line int) string {
	key := filepath.Clean(path) + ":" + strconv.Itoa(line)
	hash := sha256.Sum256([]byte(key))
	return prefix + hex.EncodeToString(hash[:])[:32]
}
