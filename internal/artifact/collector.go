package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Resolves glob patterns against the run's working directory and fingerprints
// every matched file. A pattern matching nothing is not an error, there is
// simply nothing to collect for it.
type Collector struct {
	WorkingDir string
}

func NewCollector(workingDir string) *Collector {
	return &Collector{WorkingDir: workingDir}
}

func (c *Collector) Collect(patterns []string) ([]Artifact, error) {
	var artifacts []Artifact
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(c.WorkingDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid artifact pattern [%v]: %v", pattern, err)
		}

		for _, match := range matches {
			if seen[match] {
				continue
			}
			seen[match] = true

			info, err := os.Stat(match)
			if err != nil {
				return nil, fmt.Errorf("failed to stat artifact [%v]: %v", match, err)
			}
			if info.IsDir() {
				continue
			}

			sum, err := Fingerprint(match)
			if err != nil {
				return nil, err
			}

			rel, err := filepath.Rel(c.WorkingDir, match)
			if err != nil {
				return nil, fmt.Errorf("failed to relativize artifact path [%v]: %v", match, err)
			}

			artifacts = append(artifacts, Artifact{
				Name:   rel,
				Path:   match,
				Size:   info.Size(),
				SHA256: sum,
			})
		}
	}

	// Stable ordering for the manifest
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Name < artifacts[j].Name
	})

	return artifacts, nil
}
