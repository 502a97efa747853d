// Package orchestrator is the single entry point the desktop shell and the
// HTTP API talk to. It owns the library, the settings mirror, the pipeline
// registry and the job scheduler.
package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"friday/internal/config"
	"friday/internal/diagnostics"
	"friday/internal/domain"
	"friday/internal/jobs"
	"friday/internal/library"
	"friday/internal/logging"
	"friday/internal/media"
	"friday/internal/pipeline"
	"friday/internal/providers/openai"
)

// Capabilities are the external tools the pipelines drive. Nil fields make
// the stages that need them fail with a dependency error.
type Capabilities struct {
	PDF         pipeline.PDFReader
	Video       pipeline.VideoFetcher
	Audio       pipeline.AudioPreparer
	Transcriber pipeline.Transcriber
	Intent      pipeline.IntentParser
}

// DefaultCapabilities wires exec-backed tools and the configured providers.
// It fails only when a custom intent rules file cannot be loaded.
func DefaultCapabilities(cfg config.Config, logger *logging.Logger) (Capabilities, error) {
	caps := Capabilities{
		PDF: media.NewPoppler(media.PopplerPaths{
			PDFInfo:   cfg.PDFInfoPath,
			PDFToText: cfg.PDFToTextPath,
			PDFToPPM:  cfg.PDFToPPMPath,
		}, logger),
		Video: media.NewYTDLP(cfg.YTDLPPath, cfg.FetchTimeout, logger),
		Audio: media.NewFFmpeg(cfg.FFmpegPath, cfg.SegmentSeconds, logger),
	}

	oa := openai.Config{
		BaseURL:    cfg.OpenAIBaseURL,
		ChatModel:  cfg.OpenAIChatModel,
		HTTPClient: &http.Client{Timeout: cfg.FetchTimeout},
	}
	switch cfg.Transcriber {
	case config.ProviderOpenAI:
		caps.Transcriber = openai.NewTranscriber(oa)
	default:
		caps.Transcriber = media.NewWhisper(cfg.WhisperPath, cfg.WhisperModelPath, cfg.WhisperLanguage, logger)
	}
	switch cfg.IntentParser {
	case config.ProviderOpenAI:
		caps.Intent = openai.NewIntentParser(oa)
	default:
		rules, err := pipeline.LoadRuleParser(cfg.IntentRulesPath)
		if err != nil {
			return Capabilities{}, err
		}
		caps.Intent = rules
	}
	return caps, nil
}

// Orchestrator is the facade over every backend component.
type Orchestrator struct {
	cfg       config.Config
	logger    *logging.Logger
	settings  *config.Manager
	library   *library.Store
	registry  *pipeline.Registry
	bus       *jobs.Bus
	scheduler *jobs.Scheduler
	checker   *diagnostics.Checker
}

// New opens the library named by the current settings and starts a
// scheduler over the default capabilities.
func New(ctx context.Context, cfg config.Config, settings *config.Manager, logger *logging.Logger) (*Orchestrator, error) {
	caps, err := DefaultCapabilities(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithCapabilities(ctx, cfg, settings, caps, logger)
}

// NewWithCapabilities is New with explicit tool implementations.
func NewWithCapabilities(ctx context.Context, cfg config.Config, settings *config.Manager, caps Capabilities, logger *logging.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if settings == nil {
		return nil, errors.New("orchestrator: settings manager is required")
	}

	// The library root is read once; a changed library path applies on the
	// next start.
	current := settings.Get()
	lib, err := library.Open(ctx, current.LibraryPath, logger)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
		settings: settings,
		library:  lib,
		bus:      jobs.NewBus(cfg.EventBufferSize),
		checker: diagnostics.NewChecker(diagnostics.Options{
			Tools: diagnostics.Tools{
				PDFInfo:   cfg.PDFInfoPath,
				PDFToText: cfg.PDFToTextPath,
				PDFToPPM:  cfg.PDFToPPMPath,
				FFmpeg:    cfg.FFmpegPath,
				YTDLP:     cfg.YTDLPPath,
				Whisper:   cfg.WhisperPath,
			},
			Transcriber:  cfg.Transcriber,
			IntentParser: cfg.IntentParser,
			ModelPath:    cfg.WhisperModelPath,
		}),
	}
	o.registry = pipeline.NewRegistry(pipeline.Deps{
		PDF:         caps.PDF,
		Video:       caps.Video,
		Audio:       caps.Audio,
		Transcriber: caps.Transcriber,
		Intent:      caps.Intent,
		Dispatcher:  o,
	}, pipeline.Options{
		MaxPDFPages:   cfg.MaxPDFPages,
		SubtitleLangs: cfg.SubtitleLangs,
		Retry: pipeline.RetryPolicy{
			Attempts:  cfg.RetryAttempts,
			BaseDelay: cfg.RetryBaseDelay,
		},
	})
	o.scheduler = jobs.NewScheduler(o.registry, lib, settings, o.bus, jobs.Options{
		MaxConcurrent: cfg.MaxConcurrentJobs,
		Retention:     cfg.JobRetention,
		Logger:        logger,
	})

	settings.OnChange(func(s domain.Settings) {
		logger.SetLevel(s.LogLevel)
		if s.LibraryPath != lib.Root() {
			o.logger.Info("library path changed; restart to switch libraries", "current", lib.Root(), "next", s.LibraryPath)
		}
	})
	logger.SetLevel(current.LogLevel)
	return o, nil
}

// SubmitJob validates the request and starts a background job. The kind is
// the raw string received from the caller.
func (o *Orchestrator) SubmitJob(kind, input string) (string, error) {
	k, err := domain.ParseRequestKind(kind)
	if err != nil {
		return "", err
	}
	return o.scheduler.Submit(k, input)
}

// Submit starts a follow-up job on behalf of a command pipeline.
func (o *Orchestrator) Submit(kind domain.RequestKind, input string) (string, error) {
	return o.scheduler.Submit(kind, input)
}

// SubscribeProgress streams progress for jobID until its terminal event.
func (o *Orchestrator) SubscribeProgress(jobID string) (*jobs.Subscription, error) {
	return o.scheduler.Subscribe(jobID)
}

func (o *Orchestrator) GetJob(jobID string) (domain.Job, error) {
	return o.scheduler.Get(jobID)
}

func (o *Orchestrator) ListJobs() []domain.Job {
	return o.scheduler.List()
}

func (o *Orchestrator) CancelJob(jobID string) error {
	return o.scheduler.Cancel(jobID)
}

// ListResources returns the library in insertion order.
func (o *Orchestrator) ListResources(ctx context.Context) ([]domain.Resource, error) {
	return o.library.List(ctx)
}

func (o *Orchestrator) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	return o.library.Get(ctx, id)
}

func (o *Orchestrator) DeleteResource(ctx context.Context, id string) error {
	if err := o.library.Delete(ctx, id); err != nil {
		return err
	}
	o.logger.Info("resource deleted", "resource_id", id)
	return nil
}

func (o *Orchestrator) GetSettings() domain.Settings {
	return o.settings.Get()
}

// UpdateSettings replaces the whole settings record.
func (o *Orchestrator) UpdateSettings(s domain.Settings) error {
	if err := o.settings.Update(s); err != nil {
		return err
	}
	o.logger.Info("settings updated", "log_level", s.LogLevel)
	return nil
}

// Diagnostics checks the tools and paths each pipeline needs and marks
// which request kinds can run.
func (o *Orchestrator) Diagnostics() domain.DiagnosticReport {
	report := o.checker.Run(o.settings.Get())
	for _, kind := range o.registry.Kinds() {
		report.Pipelines = append(report.Pipelines, domain.PipelineReadiness{
			Kind:   kind,
			Stages: o.registry.StageNames(kind),
			Ready:  diagnostics.Ready(report, kind),
		})
	}
	return report
}

// LibraryRoot is the directory the open library lives in.
func (o *Orchestrator) LibraryRoot() string {
	return o.library.Root()
}

// Close cancels running jobs, waits for them and closes the library.
func (o *Orchestrator) Close(ctx context.Context) error {
	err := o.scheduler.Shutdown(ctx)
	return errors.Join(err, o.library.Close())
}

// SortedForDisplay returns a copy of resources, newest first.
func SortedForDisplay(resources []domain.Resource) []domain.Resource {
	out := make([]domain.Resource, len(resources))
	copy(out, resources)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
