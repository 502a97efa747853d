package domain

import "time"

// DiagnosticStatus indicates whether a single environment check passed.
type DiagnosticStatus string

const (
	DiagnosticStatusPass DiagnosticStatus = "pass"
	DiagnosticStatusFail DiagnosticStatus = "fail"
	DiagnosticStatusSkip DiagnosticStatus = "skip"
)

// DiagnosticItem is one check result with an optional remediation hint.
type DiagnosticItem struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Status   DiagnosticStatus `json:"status"`
	Message  string           `json:"message"`
	Hint     string           `json:"hint,omitempty"`
	Required []RequestKind    `json:"required,omitempty"`
}

// PipelineReadiness tells whether a request kind can currently run.
type PipelineReadiness struct {
	Kind   RequestKind `json:"kind"`
	Stages []string    `json:"stages"`
	Ready  bool        `json:"ready"`
}

// DiagnosticReport aggregates checks for UI and API responses.
type DiagnosticReport struct {
	GeneratedAt time.Time           `json:"generatedAt"`
	HasFailures bool                `json:"hasFailures"`
	Items       []DiagnosticItem    `json:"items"`
	Pipelines   []PipelineReadiness `json:"pipelines,omitempty"`
}
