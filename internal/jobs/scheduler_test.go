package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"friday/internal/domain"
	"friday/internal/library"
	"friday/internal/pipeline"
)

type fakeRegistry map[domain.RequestKind][]pipeline.Stage

func (r fakeRegistry) Resolve(kind domain.RequestKind) ([]pipeline.Stage, error) {
	stages, ok := r[kind]
	if !ok {
		return nil, &domain.Error{Kind: domain.KindUnknownKind, Message: "no pipeline"}
	}
	return stages, nil
}

type staticSettings struct{}

func (staticSettings) Get() domain.Settings {
	return domain.Settings{APIKeys: map[string]string{}, LibraryPath: "/lib", LogLevel: domain.LogLevelInfo}
}

type fixture struct {
	sched *Scheduler
	store *library.Store
}

func newFixture(t *testing.T, reg fakeRegistry, opts Options) *fixture {
	t.Helper()
	store, err := library.Open(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sched := NewScheduler(reg, store, staticSettings{}, NewBus(256), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})
	return &fixture{sched: sched, store: store}
}

// drain collects events until the terminal one.
func drain(t *testing.T, sub *Subscription) []domain.ProgressEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []domain.ProgressEvent
	for {
		ev, err := sub.Next(ctx)
		require.NoError(t, err)
		out = append(out, ev)
		if ev.Terminal {
			return out
		}
	}
}

func (f *fixture) await(t *testing.T, jobID string) []domain.ProgressEvent {
	t.Helper()
	sub, err := f.sched.Subscribe(jobID)
	require.NoError(t, err)
	return drain(t, sub)
}

func (f *fixture) stagingEntries(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.store.Root(), ".staging"))
	require.NoError(t, err)
	return entries
}

func persistStage(title string) pipeline.Stage {
	return pipeline.NewStage("persist", func(sc *pipeline.StageContext, w pipeline.Work) (pipeline.Work, error) {
		path, err := sc.Staging().Path("document.md")
		if err != nil {
			return w, err
		}
		if err := os.WriteFile(path, []byte("# "+title), 0o644); err != nil {
			return w, err
		}
		res, err := sc.Commit(domain.Resource{
			ID:              w.ResourceID,
			Kind:            domain.ResourceKindFor(w.Kind),
			Title:           title,
			Source:          w.Input,
			PrimaryArtifact: path,
		})
		if err != nil {
			return w, err
		}
		w.Primary = res.PrimaryArtifact
		return w, nil
	})
}

func gatedStage(name string, gate <-chan struct{}) pipeline.Stage {
	return pipeline.NewStage(name, func(sc *pipeline.StageContext, w pipeline.Work) (pipeline.Work, error) {
		sc.Emit(50, "waiting")
		select {
		case <-gate:
			return w, nil
		case <-sc.Context().Done():
			return w, sc.Checkpoint()
		}
	})
}

func TestSubmitReturnsBeforeCompletion(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, fakeRegistry{
		domain.RequestKindPDF: {gatedStage("extract-text", gate), persistStage("paper")},
	}, Options{})

	jobID, err := f.sched.Submit(domain.RequestKindPDF, "/tmp/paper.pdf")
	require.NoError(t, err)
	assert.Regexp(t, `^job_[0-9a-z]{26}$`, jobID)

	job, err := f.sched.Get(jobID)
	require.NoError(t, err)
	assert.Contains(t, []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning}, job.Status)

	sub, err := f.sched.Subscribe(jobID)
	require.NoError(t, err)
	close(gate)
	events := drain(t, sub)

	terminals := 0
	for i, ev := range events {
		if ev.Terminal {
			terminals++
		}
		if i > 0 {
			assert.GreaterOrEqual(t, ev.Progress, events[i-1].Progress)
			assert.Greater(t, ev.Seq, events[i-1].Seq)
		}
	}
	assert.Equal(t, 1, terminals)

	last := events[len(events)-1]
	assert.Equal(t, domain.StageDone, last.Stage)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, domain.JobStatusSucceeded, last.Status)
	require.NotEmpty(t, last.ResourceID)

	job, err = f.sched.Get(jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	assert.Equal(t, last.ResourceID, job.ResourceID)
	assert.NotNil(t, job.FinishedAt)

	res, err := f.store.Get(context.Background(), job.ResourceID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResourceKindPDF, res.Kind)
	assert.Equal(t, "paper", res.Title)
	assert.Empty(t, f.stagingEntries(t))
}

func TestSubmitRejectsBeforeCreatingJob(t *testing.T) {
	f := newFixture(t, fakeRegistry{
		domain.RequestKindCommand: {persistStage("cmd")},
	}, Options{})

	_, err := f.sched.Submit(domain.RequestKindCommand, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.sched.Submit("spreadsheet", "x.xls")
	assert.ErrorIs(t, err, domain.ErrUnknownKind)

	assert.Empty(t, f.sched.List())
}

func TestFailedStageLeavesNoResource(t *testing.T) {
	f := newFixture(t, fakeRegistry{
		domain.RequestKindPDF: {
			pipeline.NewStage("validate", func(sc *pipeline.StageContext, w pipeline.Work) (pipeline.Work, error) {
				if _, err := sc.Staging().Path("partial.md"); err != nil {
					return w, err
				}
				return w, domain.InputError(nil, "file not found: %s", w.Input)
			}),
			persistStage("never"),
		},
	}, Options{})

	jobID, err := f.sched.Submit(domain.RequestKindPDF, "/tmp/missing.pdf")
	require.NoError(t, err)
	events := f.await(t, jobID)

	last := events[len(events)-1]
	assert.Equal(t, domain.StageFailed, last.Stage)
	assert.Equal(t, domain.KindInput, last.ErrorKind)
	assert.False(t, last.Retryable)

	job, err := f.sched.Get(jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "validate", job.Error.Stage)
	assert.Empty(t, job.ResourceID)

	list, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.stagingEntries(t))
}

func TestIOFailureIsRetryable(t *testing.T) {
	f := newFixture(t, fakeRegistry{
		domain.RequestKindVideo: {
			pipeline.NewStage("resolve-metadata", func(sc *pipeline.StageContext, w pipeline.Work) (pipeline.Work, error) {
				return w, domain.IOError(nil, "connection reset")
			}),
		},
	}, Options{})

	jobID, err := f.sched.Submit(domain.RequestKindVideo, "https://example.com/v")
	require.NoError(t, err)
	events := f.await(t, jobID)

	last := events[len(events)-1]
	assert.Equal(t, domain.KindIO, last.ErrorKind)
	assert.True(t, last.Retryable)
}

func TestCancelRunningJob(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	f := newFixture(t, fakeRegistry{
		domain.RequestKindAudio: {gatedStage("transcribe", gate), persistStage("never")},
	}, Options{})

	jobID, err := f.sched.Submit(domain.RequestKindAudio, "/tmp/talk.mp3")
	require.NoError(t, err)
	sub, err := f.sched.Subscribe(jobID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := f.sched.Get(jobID)
		return err == nil && job.CurrentStage == "transcribe"
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.sched.Cancel(jobID))
	require.NoError(t, f.sched.Cancel(jobID))
	events := drain(t, sub)

	last := events[len(events)-1]
	assert.Equal(t, domain.StageFailed, last.Stage)
	assert.Equal(t, domain.KindCancelled, last.ErrorKind)
	assert.Equal(t, domain.JobStatusCancelled, last.Status)

	list, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.stagingEntries(t))

	err = f.sched.Cancel(jobID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelQueuedJob(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, fakeRegistry{
		domain.RequestKindPDF: {gatedStage("extract-text", gate), persistStage("doc")},
	}, Options{MaxConcurrent: 1})

	first, err := f.sched.Submit(domain.RequestKindPDF, "/tmp/a.pdf")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		job, _ := f.sched.Get(first)
		return job.Status == domain.JobStatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	second, err := f.sched.Submit(domain.RequestKindPDF, "/tmp/b.pdf")
	require.NoError(t, err)
	job, err := f.sched.Get(second)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)

	require.NoError(t, f.sched.Cancel(second))
	events := f.await(t, second)
	assert.Equal(t, domain.KindCancelled, events[len(events)-1].ErrorKind)

	close(gate)
	events = f.await(t, first)
	assert.Equal(t, domain.StageDone, events[len(events)-1].Stage)
}

func TestCommitRefusedAfterCancel(t *testing.T) {
	var f *fixture
	f = newFixture(t, fakeRegistry{
		domain.RequestKindCommand: {
			pipeline.NewStage("dispatch", func(sc *pipeline.StageContext, w pipeline.Work) (pipeline.Work, error) {
				assert.NoError(t, f.sched.Cancel(sc.JobID()))
				return w, nil
			}),
			persistStage("cmd"),
		},
	}, Options{})

	jobID, err := f.sched.Submit(domain.RequestKindCommand, "do something")
	require.NoError(t, err)
	events := f.await(t, jobID)

	assert.Equal(t, domain.KindCancelled, events[len(events)-1].ErrorKind)
	list, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCancelAfterCommitKeepsResource(t *testing.T) {
	var f *fixture
	var cancelErr error
	f = newFixture(t, fakeRegistry{
		domain.RequestKindPDF: {
			persistStage("kept"),
			pipeline.NewStage("after-persist", func(sc *pipeline.StageContext, w pipeline.Work) (pipeline.Work, error) {
				cancelErr = f.sched.Cancel(sc.JobID())
				return w, nil
			}),
		},
	}, Options{})

	jobID, err := f.sched.Submit(domain.RequestKindPDF, "/tmp/kept.pdf")
	require.NoError(t, err)
	events := f.await(t, jobID)

	require.Error(t, cancelErr)
	assert.ErrorIs(t, cancelErr, domain.ErrNotFound)
	assert.Contains(t, cancelErr.Error(), "already persisted")

	last := events[len(events)-1]
	assert.Equal(t, domain.StageDone, last.Stage)
	assert.Equal(t, domain.JobStatusSucceeded, last.Status)

	list, err := f.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, last.ResourceID, list[0].ID)
}

func TestPipelineWithoutPersistFails(t *testing.T) {
	f := newFixture(t, fakeRegistry{
		domain.RequestKindPDF: {
			pipeline.NewStage("convert-to-markdown", func(sc *pipeline.StageContext, w pipeline.Work) (pipeline.Work, error) {
				path, err := sc.Staging().Path("document.md")
				if err != nil {
					return w, err
				}
				return w, os.WriteFile(path, []byte("# orphan"), 0o644)
			}),
		},
	}, Options{})

	jobID, err := f.sched.Submit(domain.RequestKindPDF, "/tmp/orphan.pdf")
	require.NoError(t, err)
	events := f.await(t, jobID)

	last := events[len(events)-1]
	assert.Equal(t, domain.StageFailed, last.Stage)
	assert.Equal(t, domain.KindInternal, last.ErrorKind)
	assert.Equal(t, domain.JobStatusFailed, last.Status)
	assert.Empty(t, f.stagingEntries(t))
}

func TestPanicBecomesInternalError(t *testing.T) {
	f := newFixture(t, fakeRegistry{
		domain.RequestKindPDF: {
			pipeline.NewStage("convert-to-markdown", func(*pipeline.StageContext, pipeline.Work) (pipeline.Work, error) {
				panic("boom")
			}),
		},
	}, Options{})

	jobID, err := f.sched.Submit(domain.RequestKindPDF, "/tmp/a.pdf")
	require.NoError(t, err)
	events := f.await(t, jobID)

	last := events[len(events)-1]
	assert.Equal(t, domain.KindInternal, last.ErrorKind)
	job, err := f.sched.Get(jobID)
	require.NoError(t, err)
	assert.Equal(t, "convert-to-markdown", job.Error.Stage)
}

func TestFinishedJobsAreEvicted(t *testing.T) {
	f := newFixture(t, fakeRegistry{
		domain.RequestKindPDF: {persistStage("doc")},
	}, Options{Retention: 20 * time.Millisecond})

	jobID, err := f.sched.Submit(domain.RequestKindPDF, "/tmp/a.pdf")
	require.NoError(t, err)
	f.await(t, jobID)

	require.Eventually(t, func() bool {
		_, err := f.sched.Get(jobID)
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)

	_, err = f.sched.Subscribe(jobID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.sched.List())
}

func TestLateSubscriberAfterCompletion(t *testing.T) {
	f := newFixture(t, fakeRegistry{
		domain.RequestKindPDF: {persistStage("doc")},
	}, Options{})

	jobID, err := f.sched.Submit(domain.RequestKindPDF, "/tmp/a.pdf")
	require.NoError(t, err)
	f.await(t, jobID)

	sub, err := f.sched.Subscribe(jobID)
	require.NoError(t, err)
	events := drain(t, sub)
	require.Len(t, events, 1)
	assert.True(t, events[0].Terminal)
}

func TestListIsOrderedAndGetUnknown(t *testing.T) {
	f := newFixture(t, fakeRegistry{
		domain.RequestKindPDF: {persistStage("doc")},
	}, Options{})

	var ids []string
	for _, in := range []string{"/tmp/a.pdf", "/tmp/b.pdf", "/tmp/c.pdf"} {
		id, err := f.sched.Submit(domain.RequestKindPDF, in)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		f.await(t, id)
	}

	list := f.sched.List()
	require.Len(t, list, 3)
	for i, job := range list {
		assert.Equal(t, ids[i], job.ID)
	}

	_, err := f.sched.Get("job_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIsValidTransition(t *testing.T) {
	assert.True(t, isValidTransition(domain.JobStatusQueued, domain.JobStatusRunning))
	assert.True(t, isValidTransition(domain.JobStatusRunning, domain.JobStatusSucceeded))
	assert.False(t, isValidTransition(domain.JobStatusSucceeded, domain.JobStatusRunning))
	assert.False(t, isValidTransition(domain.JobStatusQueued, domain.JobStatusSucceeded))
}
