// Package pipeline defines the stage lists each request kind runs through
// and the capabilities those stages depend on.
package pipeline

import (
	"context"

	"friday/internal/domain"
	"friday/internal/library"
	"friday/internal/logging"
)

// Stage is one step of a pipeline. Stages run sequentially and hand a Work
// value to their successor.
type Stage interface {
	Name() string
	Execute(sc *StageContext, w Work) (Work, error)
}

type stageFunc struct {
	name string
	fn   func(sc *StageContext, w Work) (Work, error)
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Execute(sc *StageContext, w Work) (Work, error) {
	return s.fn(sc, w)
}

// NewStage adapts a function into a Stage.
func NewStage(name string, fn func(sc *StageContext, w Work) (Work, error)) Stage {
	return stageFunc{name: name, fn: fn}
}

// Work accumulates everything earlier stages produced. Paths point inside
// the job's staging area unless noted otherwise.
type Work struct {
	Kind       domain.RequestKind
	Input      string
	ResourceID string

	Title      string
	Source     string
	SourcePath string // validated local input file

	// pdf
	PageCount int
	Pages     []string

	// video
	Video     *VideoMetadata
	Subtitles []SubtitleFile

	// audio
	Segments   []Segment
	Transcript []TranscriptPart

	// command
	Intent        *Intent
	FollowUpJobID string

	Primary string
	Assets  []string
	Notes   []string
}

// Hooks connect a StageContext to the scheduler that owns the job.
type Hooks struct {
	// Emit reports job-level progress; the scheduler keeps it monotonic.
	Emit func(stage string, progress int, message string)
	// Settings returns the current settings snapshot.
	Settings func() domain.Settings
	// Commit persists the resource unless the job was cancelled.
	Commit func(ctx context.Context, res domain.Resource, staging *library.Staging) (domain.Resource, error)
	// OnRetry observes transient failures retried inside a stage.
	OnRetry func(stage string, attempt int, err error)
}

// StageContext is the only handle a stage gets on its job.
type StageContext struct {
	ctx     context.Context
	jobID   string
	kind    domain.RequestKind
	stage   string
	index   int
	total   int
	staging *library.Staging
	logger  *logging.Logger
	hooks   Hooks
}

// NewStageContext builds the context for stage index (0-based) of total.
func NewStageContext(ctx context.Context, jobID string, kind domain.RequestKind, stage string, index, total int, staging *library.Staging, logger *logging.Logger, hooks Hooks) *StageContext {
	if logger == nil {
		logger = logging.NewNop()
	}
	if total <= 0 {
		total = 1
	}
	return &StageContext{
		ctx:     ctx,
		jobID:   jobID,
		kind:    kind,
		stage:   stage,
		index:   index,
		total:   total,
		staging: staging,
		logger:  logger.With("job_id", jobID, "stage", stage),
		hooks:   hooks,
	}
}

func (sc *StageContext) Context() context.Context { return sc.ctx }
func (sc *StageContext) JobID() string            { return sc.jobID }
func (sc *StageContext) Stage() string            { return sc.stage }
func (sc *StageContext) Logger() *logging.Logger  { return sc.logger }
func (sc *StageContext) Staging() *library.Staging {
	return sc.staging
}

// Emit reports progress within the current stage as 0-100. It is mapped onto
// the stage's slice of the job-wide progress range.
func (sc *StageContext) Emit(percent int, message string) {
	if sc.hooks.Emit == nil {
		return
	}
	percent = min(max(percent, 0), 100)
	overall := (sc.index*100 + percent) / sc.total
	sc.hooks.Emit(sc.stage, overall, message)
}

// Settings returns the settings in effect right now.
func (sc *StageContext) Settings() domain.Settings {
	if sc.hooks.Settings == nil {
		return domain.Settings{}
	}
	return sc.hooks.Settings()
}

// Checkpoint returns a Cancelled error once the job has been cancelled.
// Stages call it between chunked sub-steps.
func (sc *StageContext) Checkpoint() error {
	if err := sc.ctx.Err(); err != nil {
		return domain.Cancelled(err)
	}
	return nil
}

// Commit hands the finished resource to the library.
func (sc *StageContext) Commit(res domain.Resource) (domain.Resource, error) {
	if sc.hooks.Commit == nil {
		return domain.Resource{}, domain.InternalError(nil, "no library attached to job %s", sc.jobID)
	}
	return sc.hooks.Commit(sc.ctx, res, sc.staging)
}

func (sc *StageContext) retried(attempt int, err error) {
	sc.logger.Warn("retrying transient failure", "attempt", attempt, "error", err)
	if sc.hooks.OnRetry != nil {
		sc.hooks.OnRetry(sc.stage, attempt, err)
	}
}
