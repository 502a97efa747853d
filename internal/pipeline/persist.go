package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"friday/internal/domain"
)

// persistStage is the only stage allowed to create a Resource.
func persistStage() Stage {
	return NewStage(StagePersist, func(sc *StageContext, w Work) (Work, error) {
		if err := sc.Checkpoint(); err != nil {
			return w, err
		}
		sc.Emit(10, "saving to library")

		res := domain.Resource{
			ID:              w.ResourceID,
			Kind:            domain.ResourceKindFor(w.Kind),
			Title:           titleOr(w.Title, w.Input),
			Source:          sourceOr(w.Source, w.Input),
			PrimaryArtifact: w.Primary,
			Assets:          w.Assets,
		}
		created, err := sc.Commit(res)
		if err != nil {
			return w, err
		}
		w.Primary = created.PrimaryArtifact
		w.Assets = created.Assets
		sc.Emit(100, "saved "+created.Title)
		return w, nil
	})
}

func titleOr(title, input string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	base := filepath.Base(strings.TrimSpace(input))
	if t := strings.TrimSuffix(base, filepath.Ext(base)); t != "" && t != "." {
		return t
	}
	return strings.TrimSpace(input)
}

func sourceOr(source, input string) string {
	if s := strings.TrimSpace(source); s != "" {
		return s
	}
	return strings.TrimSpace(input)
}

// writeArtifact writes content to name inside the job's staging area.
func writeArtifact(sc *StageContext, name, content string) (string, error) {
	if sc.Staging() == nil {
		return "", domain.InternalError(nil, "job %s has no staging area", sc.JobID())
	}
	path, err := sc.Staging().Path(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", domain.IOError(err, "write %s", name)
	}
	return path, nil
}

func missingCapability(what string) error {
	return domain.DependencyError(nil, "%s is not configured", what)
}

// checkLocalFile verifies the input is a readable regular file and returns
// its absolute path.
func checkLocalFile(input string) (string, os.FileInfo, error) {
	path, err := filepath.Abs(strings.TrimSpace(input))
	if err != nil {
		return "", nil, domain.InputError(err, "cannot resolve path %s", input)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, domain.InputError(err, "file not found: %s", path)
		}
		return "", nil, domain.InputError(err, "cannot access %s", path)
	}
	if !info.Mode().IsRegular() {
		return "", nil, domain.InputError(nil, "not a regular file: %s", path)
	}
	if info.Size() == 0 {
		return "", nil, domain.InputError(nil, "file is empty: %s", path)
	}
	return path, info, nil
}
