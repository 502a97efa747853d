// Package bootstrap builds the backend from configuration and binds it to
// the desktop shell.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"friday/internal/config"
	"friday/internal/domain"
	"friday/internal/jobs"
	"friday/internal/logging"
	"friday/internal/metrics"
	"friday/internal/orchestrator"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// ProgressEventName is the runtime event every job progress update is
// pushed under.
const ProgressEventName = "job:progress"

var dialogFilters = map[domain.RequestKind][]wailsruntime.FileFilter{
	domain.RequestKindPDF: {
		{DisplayName: "PDF documents", Pattern: "*.pdf"},
	},
	domain.RequestKindAudio: {
		{DisplayName: "Audio and video files", Pattern: "*.mp3;*.wav;*.m4a;*.flac;*.ogg;*.opus;*.aac;*.mp4;*.mov;*.mkv;*.webm"},
	},
}

var allFilesFilter = wailsruntime.FileFilter{DisplayName: "All files", Pattern: "*"}

// Backend is what the shell calls into; *orchestrator.Orchestrator is the
// production implementation.
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
	Close(ctx context.Context) error
}

// App wires configuration, the backend and UI runtime callbacks.
type App struct {
	Config  config.Config
	Backend Backend
	logger  *logging.Logger
	assets  fs.FS

	emit func(ctx context.Context, name string, data ...interface{})

	mu         sync.Mutex
	runtimeCtx context.Context
	forwarders sync.WaitGroup
}

// New builds the application with persisted settings.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded
// frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := ensureLocalBinOnPATH(cfg.HomeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	settings, err := config.NewManager(config.NewJSONStore(cfg.SettingsPath))
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogMode, settings.Get().LogLevel)
	if err != nil {
		return nil, err
	}
	metrics.MustRegister()

	backend, err := orchestrator.New(context.Background(), cfg, settings, logger)
	if err != nil {
		return nil, fmt.Errorf("start backend: %w", err)
	}
	app := NewWithBackend(cfg, backend, logger)
	app.assets = assets
	return app, nil
}

// NewWithBackend wraps an already built backend.
func NewWithBackend(cfg config.Config, backend Backend, logger *logging.Logger) *App {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &App{
		Config:  cfg,
		Backend: backend,
		logger:  logger.With("component", "app"),
		emit:    wailsruntime.EventsEmit,
	}
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Friday",
		Width:       1280,
		Height:      820,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(context.Context) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.Shutdown(ctx); err != nil {
				a.logger.Warn("shutdown", "error", err)
			}
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown detaches from the runtime and stops the backend.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()

	err := a.Backend.Close(ctx)
	a.forwarders.Wait()
	a.logger.Sync()
	return err
}

// ParsePDF starts a pdf job for a local file.
func (a *App) ParsePDF(path string) (string, error) {
	return a.SubmitJob(string(domain.RequestKindPDF), path)
}

// ProcessVideo starts a video job for a remote URL.
func (a *App) ProcessVideo(url string) (string, error) {
	return a.SubmitJob(string(domain.RequestKindVideo), url)
}

// ProcessAudio starts an audio job for a local file.
func (a *App) ProcessAudio(path string) (string, error) {
	return a.SubmitJob(string(domain.RequestKindAudio), path)
}

// ExecuteCommand starts a command job for free text.
func (a *App) ExecuteCommand(command string) (string, error) {
	return a.SubmitJob(string(domain.RequestKindCommand), command)
}

// SubmitJob starts a job and forwards its progress to the frontend.
func (a *App) SubmitJob(kind, input string) (string, error) {
	jobID, err := a.Backend.SubmitJob(kind, strings.TrimSpace(input))
	if err != nil {
		return "", err
	}
	sub, err := a.Backend.SubscribeProgress(jobID)
	if err != nil {
		// The job still runs; the UI can poll GetJob.
		a.logger.Warn("subscribe to job progress", "job_id", jobID, "error", err)
		return jobID, nil
	}
	a.forwarders.Add(1)
	go a.forward(sub)
	return jobID, nil
}

// forward relays one job's events until its terminal event.
func (a *App) forward(sub *jobs.Subscription) {
	defer a.forwarders.Done()
	defer sub.Close()
	for ev := range sub.Events(context.Background()) {
		a.mu.Lock()
		ctx := a.runtimeCtx
		a.mu.Unlock()
		if ctx != nil {
			a.emit(ctx, ProgressEventName, ev)
		}
	}
}

func (a *App) CancelJob(jobID string) error {
	return a.Backend.CancelJob(jobID)
}

func (a *App) GetJob(jobID string) (domain.Job, error) {
	return a.Backend.GetJob(jobID)
}

func (a *App) ListJobs() []domain.Job {
	return a.Backend.ListJobs()
}

// GetResources returns the library newest first, the way the UI lists it.
func (a *App) GetResources() ([]domain.Resource, error) {
	list, err := a.Backend.ListResources(context.Background())
	if err != nil {
		return nil, err
	}
	return orchestrator.SortedForDisplay(list), nil
}

func (a *App) GetResourceByID(id string) (domain.Resource, error) {
	return a.Backend.GetResource(context.Background(), id)
}

func (a *App) DeleteResource(id string) error {
	return a.Backend.DeleteResource(context.Background(), id)
}

func (a *App) GetSettings() domain.Settings {
	return a.Backend.GetSettings()
}

// UpdateSettings replaces the settings and returns what was stored.
func (a *App) UpdateSettings(settings domain.Settings) (domain.Settings, error) {
	settings.LibraryPath = strings.TrimSpace(settings.LibraryPath)
	if err := a.Backend.UpdateSettings(settings); err != nil {
		return domain.Settings{}, err
	}
	return a.Backend.GetSettings(), nil
}

// GetDiagnostics reruns the dependency checks.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.Backend.Diagnostics()
}

// PickInputFile opens a native file dialog filtered for kind.
func (a *App) PickInputFile(kind string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}
	k, err := domain.ParseRequestKind(kind)
	if err != nil {
		return "", err
	}
	filters := append(append([]wailsruntime.FileFilter{}, dialogFilters[k]...), allFilesFilter)

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select " + string(k) + " file",
		Filters: filters,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// OpenResourceFolder shows a resource's artifacts in the file manager.
func (a *App) OpenResourceFolder(id string) error {
	res, err := a.Backend.GetResource(context.Background(), id)
	if err != nil {
		return err
	}
	if res.PrimaryArtifact == "" {
		return errors.New("resource has no artifacts")
	}
	dir := filepath.Dir(res.PrimaryArtifact)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("resolve resource folder: %w", err)
	}
	return openInFileManager(dir)
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// ensureLocalBinOnPATH prepends the app's private bin directory so tools
// installed there are found by name.
func ensureLocalBinOnPATH(appHome string) error {
	binDir := filepath.Join(appHome, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}
	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
