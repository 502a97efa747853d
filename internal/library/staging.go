package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"friday/internal/domain"
)

// Staging is a job-private directory for intermediate artifacts. Nothing in
// it is visible through the Store until Create moves it into place.
type Staging struct {
	dir      string
	consumed bool
}

// NewStaging creates the work area for jobID.
func (s *Store) NewStaging(jobID string) (*Staging, error) {
	if strings.TrimSpace(jobID) == "" || strings.ContainsAny(jobID, `/\`) {
		return nil, domain.InternalError(nil, "invalid staging name %q", jobID)
	}
	dir := filepath.Join(s.root, stagingDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.IOError(err, "create staging area")
	}
	return &Staging{dir: dir}, nil
}

// Dir returns the staging root.
func (st *Staging) Dir() string {
	return st.dir
}

// Path joins name under the staging root, creating parent directories.
func (st *Staging) Path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", domain.InternalError(nil, "invalid staging path %q", name)
	}
	path := filepath.Join(st.dir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", domain.IOError(err, "prepare staging path %s", name)
	}
	return path, nil
}

// Subdir creates and returns a directory under the staging root.
func (st *Staging) Subdir(name string) (string, error) {
	path, err := st.Path(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", domain.IOError(err, "create staging dir %s", name)
	}
	return path, nil
}

// Consumed reports whether the staging area was moved into the library.
func (st *Staging) Consumed() bool {
	return st.consumed
}

// Discard removes the staging directory unless it was moved into the library.
func (st *Staging) Discard() error {
	if st == nil || st.consumed {
		return nil
	}
	if err := os.RemoveAll(st.dir); err != nil {
		return fmt.Errorf("discard staging %s: %w", st.dir, err)
	}
	return nil
}
