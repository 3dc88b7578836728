package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// A named file produced by a successful run, registered with its content
// fingerprint as part of the run's durable output set
type Artifact struct {
	Name   string `json:"name"` // path relative to the run working directory
	Path   string `json:"-"`    // absolute source path at collection time
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Computes the sha256 content fingerprint of a file
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %v", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file [%v]: %v", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
