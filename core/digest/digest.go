// Package digest computes SHA-256 content digests in bounded chunks.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const chunkSize = 64 * 1024

// HexLen is the length of every digest string produced by this package.
const HexLen = sha256.Size * 2

func Bytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// File hashes the content of path. A file whose size differs from what was
// read, before or after the scan, is reported as an error.
func File(path string) (string, error) {
	// #nosec G304 -- caller controls the path being hashed.
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	before, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !before.Mode().IsRegular() {
		return "", fmt.Errorf("hash %s: not a regular file", path)
	}

	hasher := sha256.New()
	buffer := make([]byte, chunkSize)
	read, err := io.CopyBuffer(hasher, file, buffer)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	after, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if read != before.Size() || after.Size() != before.Size() {
		return "", fmt.Errorf("hash %s: file changed while reading (expected %d bytes, read %d)", path, before.Size(), read)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Valid reports whether value has the shape of a digest produced here.
func Valid(value string) bool {
	if len(value) != HexLen {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
