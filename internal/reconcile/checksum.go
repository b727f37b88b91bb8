package reconcile

import (
	"hash/crc32"

	"golang.org/x/text/encoding/unicode"
)

// Checksum returns the CRC32 (IEEE) of key encoded as UTF-8. Ill-formed
// input is replaced with U+FFFD before hashing so the result does not
// depend on how the key was produced.
func Checksum(key string) int64 {
	encoded, err := unicode.UTF8.NewEncoder().Bytes([]byte(key))
	if err != nil {
		// the UTF-8 encoder replaces rather than fails
		encoded = []byte(key)
	}
	return int64(crc32.ChecksumIEEE(encoded))
}
