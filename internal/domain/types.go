package domain

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// RequestKind names the pipeline a submission runs through.
type RequestKind string

const (
	RequestKindPDF     RequestKind = "pdf"
	RequestKindVideo   RequestKind = "video"
	RequestKindAudio   RequestKind = "audio"
	RequestKindCommand RequestKind = "command"
)

// RequestKinds lists every supported request kind in display order.
func RequestKinds() []RequestKind {
	return []RequestKind{RequestKindPDF, RequestKindVideo, RequestKindAudio, RequestKindCommand}
}

// ParseRequestKind converts a bare string from the UI boundary into a kind.
func ParseRequestKind(raw string) (RequestKind, error) {
	kind := RequestKind(strings.ToLower(strings.TrimSpace(raw)))
	if slices.Contains(RequestKinds(), kind) {
		return kind, nil
	}
	return "", &Error{
		Kind:    KindUnknownKind,
		Message: fmt.Sprintf("unsupported request kind %q", raw),
	}
}

// ResourceKind classifies a persisted library entry.
type ResourceKind string

const (
	ResourceKindPDF           ResourceKind = "pdf"
	ResourceKindVideo         ResourceKind = "video"
	ResourceKindAudio         ResourceKind = "audio"
	ResourceKindCommandOutput ResourceKind = "command-output"
)

// ResourceKindFor maps a request kind to the resource kind it produces.
func ResourceKindFor(kind RequestKind) ResourceKind {
	switch kind {
	case RequestKindPDF:
		return ResourceKindPDF
	case RequestKindVideo:
		return ResourceKindVideo
	case RequestKindAudio:
		return ResourceKindAudio
	default:
		return ResourceKindCommandOutput
	}
}

// Valid reports whether k is one of the known resource kinds.
func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceKindPDF, ResourceKindVideo, ResourceKindAudio, ResourceKindCommandOutput:
		return true
	default:
		return false
	}
}

// Resource is the durable outcome of a successful pipeline run.
type Resource struct {
	ID              string       `json:"id"`
	Kind            ResourceKind `json:"kind"`
	Title           string       `json:"title"`
	Source          string       `json:"source"`
	PrimaryArtifact string       `json:"primaryArtifact,omitempty"`
	Assets          []string     `json:"assets"`
	VectorIndex     string       `json:"vectorIndex,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// JobStatus tracks the lifecycle of one pipeline execution.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobError is the classified failure attached to a failed or cancelled job.
type JobError struct {
	Kind      ErrorKind `json:"kind"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// Job is a snapshot of one in-flight or recently finished execution.
type Job struct {
	ID           string      `json:"id"`
	Kind         RequestKind `json:"kind"`
	Input        string      `json:"input"`
	Status       JobStatus   `json:"status"`
	CurrentStage string      `json:"currentStage,omitempty"`
	Progress     int         `json:"progress"`
	Message      string      `json:"message,omitempty"`
	ResourceID   string      `json:"resourceId,omitempty"`
	Error        *JobError   `json:"error,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	FinishedAt   *time.Time  `json:"finishedAt,omitempty"`
}

// Terminal stage names carried by the last event of every job stream.
const (
	StageDone   = "done"
	StageFailed = "failed"
	StageQueued = "queued"
)

// ProgressEvent is one message on a job's progress stream.
type ProgressEvent struct {
	Seq        int64     `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	JobID      string    `json:"jobId"`
	Stage      string    `json:"stage"`
	Progress   int       `json:"progress"`
	Message    string    `json:"message"`
	Status     JobStatus `json:"status"`
	Terminal   bool      `json:"terminal,omitempty"`
	ErrorKind  ErrorKind `json:"errorKind,omitempty"`
	Retryable  bool      `json:"retryable,omitempty"`
	ResourceID string    `json:"resourceId,omitempty"`
}

// LogLevel is the user-selectable verbosity.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// Valid reports whether l is one of the four supported levels.
func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// Settings contains user-editable process-wide configuration.
type Settings struct {
	APIKeys     map[string]string `json:"apiKeys"`
	LibraryPath string            `json:"libraryPath"`
	LogLevel    LogLevel          `json:"logLevel"`
}

// APIKey returns the trimmed secret for provider, or "" when unset.
// Provider names match case-insensitively.
func (s Settings) APIKey(provider string) string {
	provider = strings.TrimSpace(provider)
	if v, ok := s.APIKeys[strings.ToLower(provider)]; ok {
		return strings.TrimSpace(v)
	}
	for name, v := range s.APIKeys {
		if strings.EqualFold(strings.TrimSpace(name), provider) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Clone returns a deep copy so callers never share the key map. A nil map
// stays nil.
func (s Settings) Clone() Settings {
	out := s
	out.APIKeys = maps.Clone(s.APIKeys)
	return out
}

// Equal compares settings field by field, treating nil and empty maps alike.
func (s Settings) Equal(other Settings) bool {
	return s.LibraryPath == other.LibraryPath &&
		s.LogLevel == other.LogLevel &&
		maps.Equal(s.APIKeys, other.APIKeys)
}
