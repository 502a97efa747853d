// Package httpapi exposes the orchestrator over HTTP for headless use.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"friday/internal/domain"
	"friday/internal/jobs"
	"friday/internal/logging"
	"friday/internal/metrics"
	"friday/internal/orchestrator"
)

// maxBodyBytes bounds request bodies; commands are at most a few KB.
const maxBodyBytes = 1 << 20

// Backend is the subset of the orchestrator the API serves.
type Backend interface {
	SubmitJob(kind, input string) (string, error)
	SubscribeProgress(jobID string) (*jobs.Subscription, error)
	GetJob(jobID string) (domain.Job, error)
	ListJobs() []domain.Job
	CancelJob(jobID string) error
	ListResources(ctx context.Context) ([]domain.Resource, error)
	GetResource(ctx context.Context, id string) (domain.Resource, error)
	DeleteResource(ctx context.Context, id string) error
	GetSettings() domain.Settings
	UpdateSettings(s domain.Settings) error
	Diagnostics() domain.DiagnosticReport
}

// Server holds the handlers.
type Server struct {
	backend   Backend
	logger    *logging.Logger
	keepalive time.Duration
}

// NewServer builds a server over backend.
func NewServer(backend Backend, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{backend: backend, logger: logger.With("component", "httpapi"), keepalive: 15 * time.Second}
}

// Router mounts every route on a fresh chi mux.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Get("/{id}", s.getJob)
			r.Post("/{id}/cancel", s.cancelJob)
			r.Get("/{id}/events", s.streamEvents)
		})
		r.Route("/resources", func(r chi.Router) {
			r.Get("/", s.listResources)
			r.Get("/{id}", s.getResource)
			r.Delete("/{id}", s.deleteResource)
		})
		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.updateSettings)
		r.Get("/diagnostics", s.diagnostics)
	})
	return r
}

type submitRequest struct {
	Kind  string `json:"kind"`
	Input string `json:"input"`
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	jobID, err := s.backend.SubmitJob(req.Kind, req.Input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: jobID})
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.backend.ListJobs()})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.backend.GetJob(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.CancelJob(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// streamEvents relays a job's progress as server-sent events and returns
// after the terminal event.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, domain.InternalError(nil, "streaming not supported"))
		return
	}
	sub, err := s.backend.SubscribeProgress(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Progress streams can outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ctx := r.Context()
	events := sub.Events(ctx)
	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := io.WriteString(w, ":keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			frame, err := formatSSE(ev)
			if err != nil {
				s.logger.Error("encode progress event", "job_id", ev.JobID, "error", err)
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// formatSSE renders one event frame; the id lets clients detect gaps.
func formatSSE(ev domain.ProgressEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("id: %d\nevent: progress\ndata: %s\n\n", ev.Seq, data)), nil
}

func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	list, err := s.backend.ListResources(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("order") == "display" {
		list = orchestrator.SortedForDisplay(list)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.GetResource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) deleteResource(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.DeleteResource(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.GetSettings())
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.Settings
	if err := decodeJSON(r, &settings); err != nil {
		writeError(w, err)
		return
	}
	if err := s.backend.UpdateSettings(settings); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.backend.GetSettings())
}

func (s *Server) diagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Diagnostics())
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type errorBody struct {
	Error     string           `json:"error"`
	Kind      domain.ErrorKind `json:"kind"`
	Retryable bool             `json:"retryable"`
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation, domain.KindUnknownKind:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeJSON(w, statusFor(kind), errorBody{
		Error:     err.Error(),
		Kind:      kind,
		Retryable: domain.Retryable(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		var syntax *json.SyntaxError
		switch {
		case errors.Is(err, io.EOF):
			return domain.Validationf("request body is empty")
		case errors.As(err, &syntax):
			return domain.Validationf("malformed JSON at offset %d", syntax.Offset)
		default:
			return domain.Validationf("invalid request body: %s", strings.TrimPrefix(err.Error(), "json: "))
		}
	}
	return nil
}
