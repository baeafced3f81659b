package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Snapshot holds the pristine bytes of the files a trial is allowed to
// mutate, keyed by path, with a content hash for verification.
type Snapshot struct {
	files map[string]snapshotFile
}

type snapshotFile struct {
	content []byte
	sum     string
	mode    fs.FileMode
}

// MismatchError reports files whose on-disk bytes do not match the snapshot.
type MismatchError struct {
	Paths []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("content mismatch: %s", strings.Join(e.Paths, ", "))
}

// Capture reads and hashes the given files.
func Capture(paths ...string) (*Snapshot, error) {
	snap := &Snapshot{files: make(map[string]snapshotFile, len(paths))}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		snap.files[path] = snapshotFile{content: data, sum: hashBytes(data), mode: info.Mode().Perm()}
	}
	return snap, nil
}

// Restore writes the captured bytes back and re-reads each file to confirm
// the write landed. It is idempotent; restoring an already-pristine file is
// a no-op write.
func (s *Snapshot) Restore() error {
	var mismatched []string
	for _, path := range sortedPaths(s.files) {
		file := s.files[path]
		if current, err := os.ReadFile(path); err == nil && hashBytes(current) == file.sum {
			continue
		}
		if err := atomicWrite(path, file.content, file.mode); err != nil {
			return fmt.Errorf("restore %s: %w", path, err)
		}
		restored, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("restore %s: %w", path, err)
		}
		if hashBytes(restored) != file.sum {
			mismatched = append(mismatched, path)
		}
	}
	if len(mismatched) > 0 {
		return &MismatchError{Paths: mismatched}
	}
	return nil
}

// Verify reports files that drifted from the snapshot, as a MismatchError.
func (s *Snapshot) Verify() error {
	var mismatched []string
	for _, path := range sortedPaths(s.files) {
		current, err := os.ReadFile(path)
		if err != nil || hashBytes(current) != s.files[path].sum {
			mismatched = append(mismatched, path)
		}
	}
	if len(mismatched) > 0 {
		return &MismatchError{Paths: mismatched}
	}
	return nil
}

func sortedPaths(files map[string]snapshotFile) []string {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func atomicWrite(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".restore")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(name, mode); err != nil {
		return err
	}
	return os.Rename(name, path)
}
