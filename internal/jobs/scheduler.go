// Package jobs runs pipelines as background jobs and streams their progress.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"friday/internal/domain"
	"friday/internal/library"
	"friday/internal/logging"
	"friday/internal/metrics"
	"friday/internal/pipeline"
)

// Resolver looks up the stage list for a request kind.
type Resolver interface {
	Resolve(kind domain.RequestKind) ([]pipeline.Stage, error)
}

// Library is the part of the library store jobs write through.
type Library interface {
	NewStaging(jobID string) (*library.Staging, error)
	Create(ctx context.Context, res domain.Resource, staging *library.Staging) (domain.Resource, error)
}

// SettingsSource supplies the settings snapshot stages read.
type SettingsSource interface {
	Get() domain.Settings
}

// Options configure a Scheduler.
type Options struct {
	MaxConcurrent int
	Retention     time.Duration
	Logger        *logging.Logger
}

// Scheduler owns job lifecycles: one goroutine per job, stages in order,
// bounded concurrency, and retirement a while after the job finishes.
type Scheduler struct {
	registry  Resolver
	library   Library
	settings  SettingsSource
	bus       *Bus
	logger    *logging.Logger
	sem       *semaphore.Weighted
	retention time.Duration

	newJobID      func() string
	newResourceID func() string
	now           func() time.Time

	mu     sync.RWMutex
	jobs   map[string]*tracked
	closed bool
	wg     sync.WaitGroup
}

// tracked is the scheduler's private record of one job.
type tracked struct {
	// mu guards job and serializes Commit against Cancel.
	mu              sync.Mutex
	job             domain.Job
	resourceID      string
	cancel          context.CancelFunc
	cancelRequested bool
	committed       bool
}

// NewScheduler wires a scheduler. bus receives every job's events.
func NewScheduler(registry Resolver, lib Library, settings SettingsSource, bus *Bus, opts Options) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.Retention <= 0 {
		opts.Retention = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Scheduler{
		registry:      registry,
		library:       lib,
		settings:      settings,
		bus:           bus,
		logger:        opts.Logger.With("component", "scheduler"),
		sem:           semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		retention:     opts.Retention,
		newJobID:      func() string { return "job_" + strings.ToLower(ulid.Make().String()) },
		newResourceID: uuid.NewString,
		now:           time.Now,
		jobs:          make(map[string]*tracked),
	}
}

// Submit validates the request, allocates a job and starts it in the
// background. It returns while the job is still queued.
func (s *Scheduler) Submit(kind domain.RequestKind, input string) (string, error) {
	if _, err := s.registry.Resolve(kind); err != nil {
		return "", err
	}
	if err := pipeline.Validate(kind, input); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", domain.InternalError(nil, "scheduler is shutting down")
	}
	now := s.now().UTC()
	ctx, cancel := context.WithCancel(context.Background())
	t := &tracked{
		job: domain.Job{
			ID:           s.newJobID(),
			Kind:         kind,
			Input:        input,
			Status:       domain.JobStatusQueued,
			CurrentStage: domain.StageQueued,
			Message:      "waiting for a free slot",
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		resourceID: s.newResourceID(),
		cancel:     cancel,
	}
	s.jobs[t.job.ID] = t
	s.bus.Open(t.job.ID)
	s.wg.Add(1)
	s.mu.Unlock()

	jobID := t.job.ID
	t.mu.Lock()
	s.publishLocked(t, domain.ProgressEvent{
		Stage:   domain.StageQueued,
		Message: t.job.Message,
	})
	t.mu.Unlock()

	metrics.JobSubmitted(string(kind))
	s.logger.Info("job submitted", "job_id", jobID, "kind", kind)

	go s.run(ctx, t)
	return jobID, nil
}

// Get returns a snapshot of a tracked job.
func (s *Scheduler) Get(jobID string) (domain.Job, error) {
	t, err := s.lookup(jobID)
	if err != nil {
		return domain.Job{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return snapshot(t.job), nil
}

// List returns every tracked job, oldest first.
func (s *Scheduler) List() []domain.Job {
	s.mu.RLock()
	all := make([]*tracked, 0, len(s.jobs))
	for _, t := range s.jobs {
		all = append(all, t)
	}
	s.mu.RUnlock()

	out := make([]domain.Job, 0, len(all))
	for _, t := range all {
		t.mu.Lock()
		out = append(out, snapshot(t.job))
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Cancel requests cooperative cancellation. Unknown, finished and already
// persisting jobs are NotFound.
func (s *Scheduler) Cancel(jobID string) error {
	t, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job.Status.IsTerminal() {
		return domain.NotFoundf("job %s is not active", jobID)
	}
	// The resource is already in the library; the outcome is fixed even
	// though the terminal event has not been published yet.
	if t.committed {
		return domain.NotFoundf("job %s has already persisted resource %s", jobID, t.resourceID)
	}
	if !t.cancelRequested {
		t.cancelRequested = true
		t.cancel()
		s.logger.Info("job cancel requested", "job_id", jobID)
	}
	return nil
}

// Subscribe opens a progress stream for a tracked job.
func (s *Scheduler) Subscribe(jobID string) (*Subscription, error) {
	if _, err := s.lookup(jobID); err != nil {
		return nil, err
	}
	return s.bus.Subscribe(jobID)
}

// Shutdown stops accepting jobs, cancels the active ones and waits for
// their goroutines to clean up.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	active := make([]*tracked, 0, len(s.jobs))
	for _, t := range s.jobs {
		active = append(active, t)
	}
	s.mu.Unlock()

	for _, t := range active {
		t.mu.Lock()
		if !t.job.Status.IsTerminal() && !t.committed && !t.cancelRequested {
			t.cancelRequested = true
			t.cancel()
		}
		t.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for jobs: %w", ctx.Err())
	}
}

func (s *Scheduler) lookup(jobID string) (*tracked, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.NotFoundf("job %s not found", jobID)
	}
	return t, nil
}

func (s *Scheduler) run(ctx context.Context, t *tracked) {
	defer s.wg.Done()
	defer t.cancel()

	jobID, kind := t.job.ID, t.job.Kind
	logger := s.logger.With("job_id", jobID, "kind", kind)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.finish(t, domain.Cancelled(err), logger)
		return
	}
	defer s.sem.Release(1)
	metrics.JobStarted()
	defer metrics.JobStopped()

	if err := s.transition(t, domain.JobStatusRunning); err != nil {
		s.finish(t, err, logger)
		return
	}

	stages, err := s.registry.Resolve(kind)
	if err != nil {
		s.finish(t, err, logger)
		return
	}
	staging, err := s.library.NewStaging(jobID)
	if err != nil {
		s.finish(t, err, logger)
		return
	}

	hooks := pipeline.Hooks{
		Emit:     func(stage string, progress int, message string) { s.emit(t, stage, progress, message) },
		Settings: s.settings.Get,
		Commit: func(ctx context.Context, res domain.Resource, st *library.Staging) (domain.Resource, error) {
			return s.commit(ctx, t, res, st)
		},
		OnRetry: func(stage string, _ int, _ error) { metrics.StageRetried(stage) },
	}

	w := pipeline.Work{Kind: kind, Input: t.job.Input, ResourceID: t.resourceID}
	for i, stage := range stages {
		if ctx.Err() != nil {
			err = domain.WithStage(domain.Cancelled(ctx.Err()), stage.Name())
			break
		}
		sc := pipeline.NewStageContext(ctx, jobID, kind, stage.Name(), i, len(stages), staging, logger, hooks)
		sc.Emit(0, "starting "+stage.Name())

		started := s.now()
		w, err = executeStage(stage, sc, w)
		metrics.ObserveStage(string(kind), stage.Name(), s.now().Sub(started))
		if err != nil {
			err = domain.WithStage(err, stage.Name())
			break
		}
	}
	if err == nil && !staging.Consumed() {
		err = domain.InternalError(nil, "pipeline %s finished without persisting a resource", kind)
	}

	if err != nil {
		if derr := staging.Discard(); derr != nil {
			logger.Warn("discard staging", "error", derr)
		}
		s.finish(t, err, logger)
		return
	}
	s.finish(t, nil, logger)
}

// executeStage runs one stage, converting a panic into an internal error.
func executeStage(stage pipeline.Stage, sc *pipeline.StageContext, w pipeline.Work) (out pipeline.Work, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = w, domain.InternalError(nil, "stage %s panicked: %v", stage.Name(), r)
		}
	}()
	return stage.Execute(sc, w)
}

func (s *Scheduler) commit(ctx context.Context, t *tracked, res domain.Resource, st *library.Staging) (domain.Resource, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelRequested {
		return domain.Resource{}, domain.Cancelled(context.Canceled)
	}
	// The library write must not be torn by a late cancel, so it runs on a
	// context that only carries values.
	created, err := s.library.Create(context.WithoutCancel(ctx), res, st)
	if err != nil {
		return domain.Resource{}, err
	}
	t.committed = true
	return created, nil
}

func (s *Scheduler) emit(t *tracked, stage string, progress int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job.Status != domain.JobStatusRunning {
		return
	}
	progress = min(max(progress, t.job.Progress), 100)
	t.job.Progress = progress
	t.job.CurrentStage = stage
	t.job.Message = message
	t.job.UpdatedAt = s.now().UTC()
	s.publishLocked(t, domain.ProgressEvent{
		Stage:    stage,
		Progress: progress,
		Message:  message,
	})
}

func (s *Scheduler) transition(t *tracked, status domain.JobStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelRequested {
		return domain.Cancelled(context.Canceled)
	}
	if !isValidTransition(t.job.Status, status) {
		return domain.InternalError(nil, "invalid transition: %s -> %s", t.job.Status, status)
	}
	t.job.Status = status
	t.job.UpdatedAt = s.now().UTC()
	return nil
}

// finish moves the job to its terminal status and publishes the single
// terminal event.
func (s *Scheduler) finish(t *tracked, err error, logger *logging.Logger) {
	t.mu.Lock()
	now := s.now().UTC()
	ev := domain.ProgressEvent{Terminal: true}

	switch {
	case err == nil:
		t.job.Status = domain.JobStatusSucceeded
		t.job.Progress = 100
		t.job.CurrentStage = domain.StageDone
		t.job.ResourceID = t.resourceID
		t.job.Message = "completed"
		ev.Stage = domain.StageDone
		ev.ResourceID = t.resourceID
	default:
		var de *domain.Error
		if !errors.As(err, &de) {
			de = domain.WithStage(err, t.job.CurrentStage)
		}
		kind := de.Kind
		status := domain.JobStatusFailed
		// A requested cancel wins over whatever error the interrupted stage
		// surfaced, such as a killed subprocess.
		if t.cancelRequested || kind == domain.KindCancelled {
			kind = domain.KindCancelled
			status = domain.JobStatusCancelled
		}
		t.job.Status = status
		t.job.CurrentStage = domain.StageFailed
		t.job.Error = &domain.JobError{
			Kind:      kind,
			Stage:     de.Stage,
			Message:   de.Error(),
			Retryable: kind == domain.KindIO,
		}
		t.job.Message = t.job.Error.Message
		if kind == domain.KindCancelled {
			t.job.Message = "job cancelled"
		}
		ev.Stage = domain.StageFailed
		ev.ErrorKind = kind
		ev.Retryable = t.job.Error.Retryable
	}
	t.job.UpdatedAt = now
	t.job.FinishedAt = &now
	ev.Progress = t.job.Progress
	ev.Message = t.job.Message
	s.publishLocked(t, ev)
	job := snapshot(t.job)
	t.mu.Unlock()

	metrics.JobFinished(string(job.Kind), string(job.Status))
	if job.Error != nil {
		logger.Warn("job finished", "status", job.Status, "error_kind", job.Error.Kind, "stage", job.Error.Stage, "error", job.Error.Message)
	} else {
		logger.Info("job finished", "status", job.Status, "resource_id", job.ResourceID)
	}

	time.AfterFunc(s.retention, func() { s.evict(job.ID) })
}

func (s *Scheduler) evict(jobID string) {
	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
	s.bus.Forget(jobID)
}

// publishLocked stamps job state onto ev and publishes it. t.mu must be held
// so events leave in the order the state changed.
func (s *Scheduler) publishLocked(t *tracked, ev domain.ProgressEvent) {
	ev.Status = t.job.Status
	s.bus.Publish(t.job.ID, ev)
}

func snapshot(job domain.Job) domain.Job {
	if job.Error != nil {
		e := *job.Error
		job.Error = &e
	}
	if job.FinishedAt != nil {
		f := *job.FinishedAt
		job.FinishedAt = &f
	}
	return job
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusQueued:
		return to == domain.JobStatusRunning || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusRunning:
		return to == domain.JobStatusSucceeded || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	default:
		return false
	}
}
