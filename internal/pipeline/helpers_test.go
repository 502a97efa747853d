package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"friday/internal/domain"
	"friday/internal/library"
)

type emitted struct {
	stage    string
	progress int
	message  string
}

type harness struct {
	store    *library.Store
	staging  *library.Staging
	settings domain.Settings

	mu      sync.Mutex
	events  []emitted
	retries int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := library.Open(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	staging, err := store.NewStaging("job_test")
	require.NoError(t, err)
	return &harness{
		store:    store,
		staging:  staging,
		settings: domain.Settings{APIKeys: map[string]string{}, LibraryPath: store.Root(), LogLevel: domain.LogLevelInfo},
	}
}

func (h *harness) hooks() Hooks {
	return Hooks{
		Emit: func(stage string, progress int, message string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, emitted{stage: stage, progress: progress, message: message})
		},
		Settings: func() domain.Settings { return h.settings.Clone() },
		Commit: func(ctx context.Context, res domain.Resource, staging *library.Staging) (domain.Resource, error) {
			return h.store.Create(ctx, res, staging)
		},
		OnRetry: func(string, int, error) {
			h.mu.Lock()
			h.retries++
			h.mu.Unlock()
		},
	}
}

func (h *harness) context(ctx context.Context, kind domain.RequestKind, stage string) *StageContext {
	return NewStageContext(ctx, "job_test", kind, stage, 0, 1, h.staging, nil, h.hooks())
}

// run executes stages in order the way the scheduler does.
func (h *harness) run(ctx context.Context, kind domain.RequestKind, input string, stages []Stage) (Work, error) {
	w := Work{Kind: kind, Input: input, ResourceID: "res-test"}
	for i, st := range stages {
		sc := NewStageContext(ctx, "job_test", kind, st.Name(), i, len(stages), h.staging, nil, h.hooks())
		var err error
		w, err = st.Execute(sc, w)
		if err != nil {
			return w, domain.WithStage(err, st.Name())
		}
	}
	return w, nil
}

func (h *harness) resources(t *testing.T) []domain.Resource {
	t.Helper()
	list, err := h.store.List(context.Background())
	require.NoError(t, err)
	return list
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func fastRetry() Options {
	return Options{Retry: RetryPolicy{Attempts: 3, BaseDelay: 0}}
}
