package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"friday/internal/domain"
	"friday/internal/jobs"
)

type fakeBackend struct {
	bus       *jobs.Bus
	submitted []string
	submitErr error
	jobs      map[string]domain.Job
	resources []domain.Resource
	settings  domain.Settings
	deleted   []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		bus:      jobs.NewBus(16),
		jobs:     map[string]domain.Job{},
		settings: domain.Settings{APIKeys: map[string]string{}, LibraryPath: "/lib", LogLevel: domain.LogLevelInfo},
	}
}

func (f *fakeBackend) SubmitJob(kind, input string) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, kind+":"+input)
	return "job_1", nil
}

func (f *fakeBackend) SubscribeProgress(jobID string) (*jobs.Subscription, error) {
	return f.bus.Subscribe(jobID)
}

func (f *fakeBackend) GetJob(jobID string) (domain.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.NotFoundf("job %s not found", jobID)
	}
	return job, nil
}

func (f *fakeBackend) ListJobs() []domain.Job {
	out := []domain.Job{}
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

func (f *fakeBackend) CancelJob(jobID string) error {
	if _, ok := f.jobs[jobID]; !ok {
		return domain.NotFoundf("job %s not found", jobID)
	}
	return nil
}

func (f *fakeBackend) ListResources(context.Context) ([]domain.Resource, error) {
	return f.resources, nil
}

func (f *fakeBackend) GetResource(_ context.Context, id string) (domain.Resource, error) {
	for _, r := range f.resources {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.Resource{}, domain.NotFoundf("resource %s not found", id)
}

func (f *fakeBackend) DeleteResource(_ context.Context, id string) error {
	for i, r := range f.resources {
		if r.ID == id {
			f.resources = append(f.resources[:i], f.resources[i+1:]...)
			f.deleted = append(f.deleted, id)
			return nil
		}
	}
	return domain.NotFoundf("resource %s not found", id)
}

func (f *fakeBackend) GetSettings() domain.Settings { return f.settings.Clone() }

func (f *fakeBackend) UpdateSettings(s domain.Settings) error {
	if !s.LogLevel.Valid() {
		return domain.Validationf("bad log level")
	}
	f.settings = s.Clone()
	return nil
}

func (f *fakeBackend) Diagnostics() domain.DiagnosticReport {
	return domain.DiagnosticReport{Items: []domain.DiagnosticItem{{ID: "tool_ffmpeg", Status: domain.DiagnosticStatusPass}}}
}

func serve(t *testing.T, b Backend, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	NewServer(b, nil).Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestSubmitJob(t *testing.T) {
	b := newFakeBackend()
	rec := serve(t, b, http.MethodPost, "/api/jobs", `{"kind":"pdf","input":"/tmp/a.pdf"}`)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp submitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "job_1", resp.JobID)
	assert.Equal(t, []string{"pdf:/tmp/a.pdf"}, b.submitted)
}

func TestSubmitJobErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
		kind domain.ErrorKind
	}{
		{"validation", domain.Validationf("input is empty"), http.StatusBadRequest, domain.KindValidation},
		{"unknown kind", &domain.Error{Kind: domain.KindUnknownKind, Message: "nope"}, http.StatusBadRequest, domain.KindUnknownKind},
		{"internal", domain.InternalError(nil, "shutting down"), http.StatusInternalServerError, domain.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newFakeBackend()
			b.submitErr = tc.err
			rec := serve(t, b, http.MethodPost, "/api/jobs", `{"kind":"command","input":""}`)

			assert.Equal(t, tc.want, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tc.kind, body.Kind)
			assert.False(t, body.Retryable)
		})
	}
}

func TestSubmitJobRejectsBadBody(t *testing.T) {
	for _, body := range []string{"", "{", `{"kind":"pdf","extra":1}`} {
		rec := serve(t, newFakeBackend(), http.MethodPost, "/api/jobs", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		assert.Equal(t, domain.KindValidation, decodeError(t, rec).Kind)
	}
}

func TestJobLookupAndCancel(t *testing.T) {
	b := newFakeBackend()
	b.jobs["job_1"] = domain.Job{ID: "job_1", Kind: domain.RequestKindPDF, Status: domain.JobStatusRunning}

	rec := serve(t, b, http.MethodGet, "/api/jobs/job_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job domain.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, domain.JobStatusRunning, job.Status)

	rec = serve(t, b, http.MethodGet, "/api/jobs/job_2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.KindNotFound, decodeError(t, rec).Kind)

	assert.Equal(t, http.StatusAccepted, serve(t, b, http.MethodPost, "/api/jobs/job_1/cancel", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, b, http.MethodPost, "/api/jobs/job_9/cancel", "").Code)

	rec = serve(t, b, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"job_1"`)
}

func TestStreamEventsEndsAfterTerminal(t *testing.T) {
	b := newFakeBackend()
	b.bus.Open("job_1")
	b.bus.Publish("job_1", domain.ProgressEvent{Stage: "extract-text", Progress: 40})
	b.bus.Publish("job_1", domain.ProgressEvent{Stage: domain.StageDone, Progress: 100, Terminal: true, ResourceID: "res-1"})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job_1/events", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	defer cancel()
	rec := httptest.NewRecorder()
	NewServer(b, nil).Router().ServeHTTP(rec, req.WithContext(ctx))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	out := rec.Body.String()
	assert.Contains(t, out, "event: progress\n")
	assert.Contains(t, out, `"stage":"done"`)
	assert.Contains(t, out, `"resourceId":"res-1"`)
	assert.Equal(t, 1, strings.Count(out, "data: "))
}

func TestStreamEventsUnknownJob(t *testing.T) {
	rec := serve(t, newFakeBackend(), http.MethodGet, "/api/jobs/missing/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFormatSSE(t *testing.T) {
	frame, err := formatSSE(domain.ProgressEvent{Seq: 7, Stage: "transcribe", Progress: 55})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(frame, []byte("id: 7\nevent: progress\ndata: {")))
	assert.True(t, bytes.HasSuffix(frame, []byte("}\n\n")))
}

func TestResources(t *testing.T) {
	now := time.Now().UTC()
	b := newFakeBackend()
	b.resources = []domain.Resource{
		{ID: "a", Kind: domain.ResourceKindPDF, CreatedAt: now.Add(-time.Hour), Assets: []string{}},
		{ID: "b", Kind: domain.ResourceKindAudio, CreatedAt: now, Assets: []string{}},
	}

	rec := serve(t, b, http.MethodGet, "/api/resources?order=display", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []domain.Resource `json:"items"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Items, 2)
	assert.Equal(t, "b", body.Items[0].ID)

	assert.Equal(t, http.StatusOK, serve(t, b, http.MethodGet, "/api/resources/a", "").Code)
	assert.Equal(t, http.StatusNoContent, serve(t, b, http.MethodDelete, "/api/resources/a", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, b, http.MethodDelete, "/api/resources/a", "").Code)
	assert.Equal(t, []string{"a"}, b.deleted)
}

func TestSettingsEndpoints(t *testing.T) {
	b := newFakeBackend()

	rec := serve(t, b, http.MethodPut, "/api/settings", `{"apiKeys":{"openai":"sk-1"},"libraryPath":"/data","logLevel":"debug"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, b, http.MethodGet, "/api/settings", "")
	var got domain.Settings
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.True(t, got.Equal(domain.Settings{APIKeys: map[string]string{"openai": "sk-1"}, LibraryPath: "/data", LogLevel: domain.LogLevelDebug}))

	rec = serve(t, b, http.MethodPut, "/api/settings", `{"libraryPath":"/data","logLevel":"loud"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthDiagnosticsAndMetrics(t *testing.T) {
	b := newFakeBackend()
	assert.Equal(t, http.StatusOK, serve(t, b, http.MethodGet, "/healthz", "").Code)

	rec := serve(t, b, http.MethodGet, "/api/diagnostics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tool_ffmpeg")

	rec = serve(t, b, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "friday_jobs_active")
}
