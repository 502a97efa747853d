package pipeline

import (
	"context"
	"time"

	"friday/internal/domain"
)

// PDFInfo describes a document before extraction.
type PDFInfo struct {
	Pages int
	Title string
}

// PDFReader turns a PDF into per-page text and page images.
type PDFReader interface {
	Info(ctx context.Context, path string) (PDFInfo, error)
	ExtractPage(ctx context.Context, path string, page int) (string, error)
	RenderPage(ctx context.Context, path string, page int, outPath string) error
}

// SubtitleTrack is one downloadable subtitle rendition.
type SubtitleTrack struct {
	Lang      string
	Ext       string
	URL       string
	Automatic bool
}

// VideoMetadata is what the fetcher learned about a remote video.
type VideoMetadata struct {
	ID          string
	Title       string
	Uploader    string
	Description string
	WebpageURL  string
	Duration    time.Duration
	Subtitles   []SubtitleTrack
}

// SubtitleFile is a downloaded track inside staging.
type SubtitleFile struct {
	Lang string
	Path string
}

// VideoFetcher resolves remote video metadata and downloads files.
type VideoFetcher interface {
	Metadata(ctx context.Context, url string) (VideoMetadata, error)
	Download(ctx context.Context, url, dest string) error
}

// Segment is one chunk of normalized audio.
type Segment struct {
	Index    int
	Path     string
	Start    time.Duration
	Duration time.Duration
}

// AudioPreparer normalizes an input file into transcribable segments
// written under outDir.
type AudioPreparer interface {
	Prepare(ctx context.Context, input, outDir string) ([]Segment, error)
}

// Transcriber converts one segment to text.
type Transcriber interface {
	Transcribe(ctx context.Context, seg Segment, settings domain.Settings) (string, error)
}

// TranscriptPart is the text recognized for one segment.
type TranscriptPart struct {
	Segment Segment
	Text    string
}

// Intent is the parsed meaning of a free-text command. Kind is empty when
// nothing matched.
type Intent struct {
	Kind   domain.RequestKind `json:"kind,omitempty"`
	Action string             `json:"action"`
	Target string             `json:"target,omitempty"`
	Source string             `json:"source"`
}

// Known reports whether the command mapped onto a request kind.
func (i Intent) Known() bool {
	return i.Kind != ""
}

// IntentParser interprets commands.
type IntentParser interface {
	Parse(ctx context.Context, command string, settings domain.Settings) (Intent, error)
}

// Dispatcher starts follow-up jobs on behalf of a command.
type Dispatcher interface {
	Submit(kind domain.RequestKind, input string) (string, error)
}
