// Package config loads runtime configuration from the environment and owns
// the persisted user settings record.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Transcriber and intent parser provider names.
const (
	ProviderLocal  = "local"
	ProviderOpenAI = "openai"
	ProviderRules  = "rules"
)

// Config holds process-level settings that are not user editable.
type Config struct {
	HomeDir      string
	SettingsPath string
	LogMode      string
	HTTPAddr     string

	// Scheduler settings.
	MaxConcurrentJobs int
	JobRetention      time.Duration
	EventBufferSize   int

	// Pipeline settings.
	Transcriber      string
	IntentParser     string
	IntentRulesPath  string
	WhisperModelPath string
	WhisperLanguage  string
	SubtitleLangs    []string
	SegmentSeconds   int
	MaxPDFPages      int
	FetchTimeout     time.Duration
	RetryAttempts    int
	RetryBaseDelay   time.Duration
	OpenAIBaseURL    string
	OpenAIChatModel  string

	// External tool binaries.
	FFmpegPath    string
	WhisperPath   string
	YTDLPPath     string
	PDFInfoPath   string
	PDFToTextPath string
	PDFToPPMPath  string
}

// Load reads .env (if present) and environment variables with defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	appHome := envStr("FRIDAY_HOME", filepath.Join(homeDir, ".friday"))

	cfg := Config{
		HomeDir:           appHome,
		SettingsPath:      envStr("FRIDAY_SETTINGS_PATH", filepath.Join(appHome, "settings.json")),
		LogMode:           envStr("FRIDAY_LOG_MODE", "dev"),
		HTTPAddr:          envStr("FRIDAY_HTTP_ADDR", "127.0.0.1:7420"),
		MaxConcurrentJobs: envInt("FRIDAY_MAX_CONCURRENT_JOBS", max(2, runtime.NumCPU()/2)),
		JobRetention:      envDuration("FRIDAY_JOB_RETENTION", 10*time.Minute),
		EventBufferSize:   envInt("FRIDAY_EVENT_BUFFER", 64),
		Transcriber:       strings.ToLower(envStr("FRIDAY_TRANSCRIBER", ProviderLocal)),
		IntentParser:      strings.ToLower(envStr("FRIDAY_INTENT_PARSER", ProviderRules)),
		IntentRulesPath:   envStr("FRIDAY_INTENT_RULES", ""),
		WhisperModelPath:  envStr("FRIDAY_WHISPER_MODEL", filepath.Join(appHome, "models")),
		WhisperLanguage:   envStr("FRIDAY_WHISPER_LANGUAGE", "auto"),
		SubtitleLangs:     envList("FRIDAY_SUBTITLE_LANGS", []string{"zh-Hans", "zh", "en"}),
		SegmentSeconds:    envInt("FRIDAY_SEGMENT_SECONDS", 300),
		MaxPDFPages:       envInt("FRIDAY_MAX_PDF_PAGES", 500),
		FetchTimeout:      envDuration("FRIDAY_FETCH_TIMEOUT", 2*time.Minute),
		RetryAttempts:     envInt("FRIDAY_RETRY_ATTEMPTS", 3),
		RetryBaseDelay:    envDuration("FRIDAY_RETRY_BASE_DELAY", 500*time.Millisecond),
		OpenAIBaseURL:     envStr("FRIDAY_OPENAI_BASE_URL", ""),
		OpenAIChatModel:   envStr("FRIDAY_OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		FFmpegPath:        envStr("FRIDAY_FFMPEG", "ffmpeg"),
		WhisperPath:       envStr("FRIDAY_WHISPER", "whisper.cpp"),
		YTDLPPath:         envStr("FRIDAY_YTDLP", "yt-dlp"),
		PDFInfoPath:       envStr("FRIDAY_PDFINFO", "pdfinfo"),
		PDFToTextPath:     envStr("FRIDAY_PDFTOTEXT", "pdftotext"),
		PDFToPPMPath:      envStr("FRIDAY_PDFTOPPM", "pdftoppm"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks bounds and provider names.
func (c Config) Validate() error {
	if c.SettingsPath == "" {
		return fmt.Errorf("config: FRIDAY_SETTINGS_PATH is required")
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("config: FRIDAY_MAX_CONCURRENT_JOBS must be positive")
	}
	if c.JobRetention <= 0 {
		return fmt.Errorf("config: FRIDAY_JOB_RETENTION must be positive")
	}
	if c.EventBufferSize <= 0 {
		return fmt.Errorf("config: FRIDAY_EVENT_BUFFER must be positive")
	}
	if c.SegmentSeconds <= 0 {
		return fmt.Errorf("config: FRIDAY_SEGMENT_SECONDS must be positive")
	}
	if c.MaxPDFPages <= 0 {
		return fmt.Errorf("config: FRIDAY_MAX_PDF_PAGES must be positive")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("config: FRIDAY_RETRY_ATTEMPTS must be positive")
	}
	switch c.Transcriber {
	case ProviderLocal, ProviderOpenAI:
	default:
		return fmt.Errorf("config: FRIDAY_TRANSCRIBER must be %q or %q", ProviderLocal, ProviderOpenAI)
	}
	switch c.IntentParser {
	case ProviderRules, ProviderOpenAI:
	default:
		return fmt.Errorf("config: FRIDAY_INTENT_PARSER must be %q or %q", ProviderRules, ProviderOpenAI)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
