package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"friday/internal/domain"
	"friday/internal/logging"
	"friday/internal/pipeline"
)

// Whisper transcribes segments locally with whisper.cpp.
type Whisper struct {
	whisper   tool
	modelPath string
	language  string
	stat      func(name string) (os.FileInfo, error)
	readDir   func(name string) ([]os.DirEntry, error)
	readFile  func(name string) ([]byte, error)
}

var _ pipeline.Transcriber = (*Whisper)(nil)

// NewWhisper builds the local transcriber. modelPath may be a model file
// or a directory holding .bin/.gguf models.
func NewWhisper(path, modelPath, language string, logger *logging.Logger) *Whisper {
	return newWhisper(path, modelPath, language, &execRunner{}, logger)
}

func newWhisper(path, modelPath, language string, runner commandRunner, logger *logging.Logger) *Whisper {
	return &Whisper{
		whisper:   newTool(path, "whisper.cpp", runner, logger),
		modelPath: modelPath,
		language:  language,
		stat:      os.Stat,
		readDir:   os.ReadDir,
		readFile:  os.ReadFile,
	}
}

// Transcribe runs whisper.cpp on one segment and returns its text.
func (w *Whisper) Transcribe(ctx context.Context, seg pipeline.Segment, _ domain.Settings) (string, error) {
	model, err := w.resolveModelPath(w.modelPath)
	if err != nil {
		return "", domain.DependencyError(err, "%s", err.Error())
	}

	textBase := strings.TrimSuffix(seg.Path, filepath.Ext(seg.Path))
	args := buildWhisperArgs(model, seg.Path, textBase, w.language)
	res, err := w.whisper.run(ctx, domain.KindInternal, "whisper.cpp transcription", args...)
	if err != nil {
		return "", err
	}

	content, err := w.readFile(textBase + ".txt")
	if err != nil {
		return "", &domain.Error{
			Kind:    domain.KindInternal,
			Message: "whisper.cpp completed but transcript .txt file is missing",
			CommandLog: &domain.CommandLog{
				Command: w.whisper.path, Args: args, ExitCode: res.ExitCode,
				Stdout: truncate(res.Stdout, 4096), Stderr: truncate(res.Stderr, 4096),
			},
			Err: err,
		}
	}
	return strings.TrimSpace(string(content)), nil
}

// ModelPath reports the configured model location.
func (w *Whisper) ModelPath() string {
	return w.modelPath
}

// resolveModelPath returns model file path from file or directory input.
func (w *Whisper) resolveModelPath(rawPath string) (string, error) {
	modelPath := strings.TrimSpace(rawPath)
	if modelPath == "" {
		return "", fmt.Errorf("whisper model path is required")
	}

	info, err := w.stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := w.readDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", modelPath)
	}

	modelNames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			modelNames = append(modelNames, entry.Name())
		}
	}
	if len(modelNames) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", modelPath)
	}

	sort.Strings(modelNames)
	return filepath.Join(modelPath, modelNames[0]), nil
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// buildWhisperArgs builds whisper.cpp args for txt transcript export.
func buildWhisperArgs(modelPath, audioPath, textBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
		"-np",
	}
	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}
	return args
}
