// Package diagnostics reports whether the external tools and paths each
// pipeline depends on are available.
package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"friday/internal/domain"
)

// Provider names as configured for transcription and intent parsing.
const (
	providerLocal  = "local"
	providerOpenAI = "openai"
)

// Tools names the binaries the pipelines run.
type Tools struct {
	PDFInfo   string
	PDFToText string
	PDFToPPM  string
	FFmpeg    string
	YTDLP     string
	Whisper   string
}

// Options select which optional checks apply.
type Options struct {
	Tools        Tools
	Transcriber  string
	IntentParser string
	ModelPath    string
}

// Checker validates external tools and required filesystem paths.
type Checker struct {
	opts Options

	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	now        func() time.Time
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker(opts Options) *Checker {
	return &Checker{
		opts:       opts,
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		now:        time.Now,
	}
}

// Run executes every check against the current settings.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	t := c.opts.Tools
	pdf := []domain.RequestKind{domain.RequestKindPDF}
	local := c.opts.Transcriber != providerOpenAI

	items := []domain.DiagnosticItem{
		c.checkTool("pdfinfo", t.PDFInfo, pdf),
		c.checkTool("pdftotext", t.PDFToText, pdf),
		c.checkTool("pdftoppm", t.PDFToPPM, pdf),
		c.checkTool("ffmpeg", t.FFmpeg, []domain.RequestKind{domain.RequestKindAudio}),
		c.checkTool("yt-dlp", t.YTDLP, []domain.RequestKind{domain.RequestKindVideo}),
	}
	if local {
		items = append(items,
			c.checkTool("whisper.cpp", t.Whisper, []domain.RequestKind{domain.RequestKindAudio}),
			c.checkModelPath(c.opts.ModelPath),
		)
	} else {
		items = append(items,
			skipped("tool_whisper.cpp", "whisper.cpp", "Cloud transcription is selected."),
			skipped("model_path", "Model path", "Cloud transcription is selected."),
		)
	}
	items = append(items,
		c.checkLibrary(settings.LibraryPath),
		c.checkOpenAIKey(settings),
	)

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: c.now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

func skipped(id, name, msg string) domain.DiagnosticItem {
	return domain.DiagnosticItem{ID: id, Name: name, Status: domain.DiagnosticStatusSkip, Message: msg}
}

// checkTool verifies a CLI executable resolves, either on PATH or as given.
func (c *Checker) checkTool(name, configured string, required []domain.RequestKind) domain.DiagnosticItem {
	bin := strings.TrimSpace(configured)
	if bin == "" {
		bin = name
	}
	item := domain.DiagnosticItem{ID: "tool_" + name, Name: name, Required: required}

	path, err := c.lookPath(bin)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Tool not found: %s", bin)
		item.Hint = fmt.Sprintf("Install %s and make sure it is on PATH, or set its path in the environment.", name)
		return item
	}
	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkModelPath validates the configured model file or model directory.
func (c *Checker) checkModelPath(modelPath string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:       "model_path",
		Name:     "Model path",
		Required: []domain.RequestKind{domain.RequestKindAudio},
	}

	if strings.TrimSpace(modelPath) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Model path is empty."
		item.Hint = "Set FRIDAY_WHISPER_MODEL to a model file or a directory containing whisper models."
		return item
	}

	info, err := c.stat(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Model path does not exist: %s", modelPath)
		} else {
			item.Message = fmt.Sprintf("Cannot access model path: %s", modelPath)
		}
		item.Hint = "Download a whisper.cpp model and point FRIDAY_WHISPER_MODEL at it."
		return item
	}

	if !info.IsDir() {
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Model file found: %s", modelPath)
		return item
	}

	entries, err := c.readDir(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read model directory: %s", modelPath)
		item.Hint = "Check permissions for the model directory."
		return item
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Model directory is valid: %s", modelPath)
			return item
		}
	}

	item.Status = domain.DiagnosticStatusFail
	item.Message = fmt.Sprintf("No model files found in directory: %s", modelPath)
	item.Hint = "Place a .bin or .gguf model file in this directory or point to a model file directly."
	return item
}

// checkLibrary validates the library root exists and is writable.
func (c *Checker) checkLibrary(root string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "library_path", Name: "Library"}

	if strings.TrimSpace(root) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Library path is empty."
		item.Hint = "Set a library path in settings."
		return item
	}
	if err := c.mkdirAll(root, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create library directory: %s", root)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(root, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Library directory is not writable: %s", root)
		item.Hint = "Choose a writable directory for the library."
		return item
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", root)
	return item
}

// checkOpenAIKey only applies when a cloud provider is selected.
func (c *Checker) checkOpenAIKey(settings domain.Settings) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "openai_key", Name: "OpenAI API key"}

	var required []domain.RequestKind
	if c.opts.Transcriber == providerOpenAI {
		required = append(required, domain.RequestKindAudio)
	}
	if c.opts.IntentParser == providerOpenAI {
		required = append(required, domain.RequestKindCommand)
	}
	if len(required) == 0 {
		item.Status = domain.DiagnosticStatusSkip
		item.Message = "No cloud provider is selected."
		return item
	}
	item.Required = required

	if settings.APIKey(providerOpenAI) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "The openai API key is not set."
		item.Hint = "Add the key under API keys in settings or set OPENAI_API_KEY before first launch."
		return item
	}
	item.Status = domain.DiagnosticStatusPass
	item.Message = "The openai API key is set."
	return item
}

// Ready reports whether every check required by kind passed.
func Ready(report domain.DiagnosticReport, kind domain.RequestKind) bool {
	for _, item := range report.Items {
		if item.Status != domain.DiagnosticStatusFail {
			continue
		}
		for _, k := range item.Required {
			if k == kind {
				return false
			}
		}
	}
	return true
}
