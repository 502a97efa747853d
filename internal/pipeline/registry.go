package pipeline

import (
	"fmt"
	"slices"

	"friday/internal/domain"
)

// Stage names, in pipeline order.
const (
	StageValidate          = "validate"
	StageExtractText       = "extract-text"
	StageConvertMarkdown   = "convert-to-markdown"
	StageExtractAssets     = "extract-assets"
	StageResolveMetadata   = "resolve-metadata"
	StageFetchSubtitles    = "fetch-subtitles"
	StageComposeNotes      = "compose-notes"
	StagePreprocess        = "preprocess"
	StageTranscribe        = "transcribe"
	StageComposeTranscript = "compose-transcript"
	StageParseIntent       = "parse-intent"
	StageDispatch          = "dispatch"
	StagePersist           = "persist"
)

// Deps are the capabilities the built-in pipelines call out to.
type Deps struct {
	PDF         PDFReader
	Video       VideoFetcher
	Audio       AudioPreparer
	Transcriber Transcriber
	Intent      IntentParser
	Dispatcher  Dispatcher
}

// Options tune the built-in pipelines.
type Options struct {
	MaxPDFPages       int
	RenderConcurrency int
	SubtitleLangs     []string
	Retry             RetryPolicy
}

func (o Options) withDefaults() Options {
	if o.MaxPDFPages <= 0 {
		o.MaxPDFPages = 500
	}
	if o.RenderConcurrency <= 0 {
		o.RenderConcurrency = 4
	}
	if len(o.SubtitleLangs) == 0 {
		o.SubtitleLangs = []string{"zh-Hans", "zh", "en"}
	}
	if o.Retry.Attempts <= 0 {
		o.Retry = DefaultRetryPolicy()
	}
	return o
}

// Registry maps each request kind to its static stage list. It is not
// modified after construction.
type Registry struct {
	stages map[domain.RequestKind][]Stage
}

// NewRegistry builds the four built-in pipelines.
func NewRegistry(deps Deps, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{stages: map[domain.RequestKind][]Stage{
		domain.RequestKindPDF:     pdfStages(deps.PDF, opts),
		domain.RequestKindVideo:   videoStages(deps.Video, opts),
		domain.RequestKindAudio:   audioStages(deps.Audio, deps.Transcriber, opts),
		domain.RequestKindCommand: commandStages(deps.Intent, deps.Dispatcher, opts),
	}}
}

// Resolve returns the ordered stages for kind.
func (r *Registry) Resolve(kind domain.RequestKind) ([]Stage, error) {
	stages, ok := r.stages[kind]
	if !ok {
		return nil, &domain.Error{
			Kind:    domain.KindUnknownKind,
			Message: fmt.Sprintf("no pipeline registered for kind %q", kind),
		}
	}
	return slices.Clone(stages), nil
}

// StageNames lists the stage names for kind, or nil if unknown.
func (r *Registry) StageNames(kind domain.RequestKind) []string {
	stages, err := r.Resolve(kind)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(stages))
	for _, s := range stages {
		names = append(names, s.Name())
	}
	return names
}

// Kinds lists the registered kinds in display order.
func (r *Registry) Kinds() []domain.RequestKind {
	out := make([]domain.RequestKind, 0, len(r.stages))
	for _, k := range domain.RequestKinds() {
		if _, ok := r.stages[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
