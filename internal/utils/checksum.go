package utils

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Checksum fingerprints uploaded file content for duplicate detection.
func Checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}
