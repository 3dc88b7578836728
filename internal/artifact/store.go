package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Persists the durable outputs of a run: the collected artifact files and the
// full textual log
type Store interface {
	SaveArtifacts(runID int64, artifacts []Artifact) error
	SaveLog(runID int64, log string) (string, error)
}

// Archives run outputs on the local filesystem under
// <dir>/run-<id>/{log.txt, manifest.json, artifacts/...}
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) SaveArtifacts(runID int64, artifacts []Artifact) error {
	dest := filepath.Join(s.runDir(runID), "artifacts")

	for _, a := range artifacts {
		target := filepath.Join(dest, filepath.FromSlash(a.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create artifact directory: %v", err)
		}
		if err := copyFile(a.Path, target); err != nil {
			return fmt.Errorf("failed to archive artifact [%v]: %v", a.Name, err)
		}
	}

	manifest, err := json.MarshalIndent(artifacts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact manifest: %v", err)
	}

	if err := os.WriteFile(filepath.Join(s.runDir(runID), "manifest.json"), manifest, 0644); err != nil {
		return fmt.Errorf("failed to write artifact manifest: %v", err)
	}

	return nil
}

func (s *FileStore) SaveLog(runID int64, log string) (string, error) {
	dir := s.runDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run archive directory: %v", err)
	}

	path := filepath.Join(dir, "log.txt")
	if err := os.WriteFile(path, []byte(log), 0644); err != nil {
		return "", fmt.Errorf("failed to write run log: %v", err)
	}

	return path, nil
}

func (s *FileStore) runDir(runID int64) string {
	return filepath.Join(s.Dir, fmt.Sprintf("run-%d", runID))
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
