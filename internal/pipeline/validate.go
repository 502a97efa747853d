package pipeline

import (
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"friday/internal/domain"
)

// MaxCommandLength bounds free-text commands, in characters.
const MaxCommandLength = 4000

var audioExtensions = []string{
	".mp3", ".wav", ".m4a", ".flac", ".ogg", ".oga", ".opus", ".aac", ".wma",
	".mp4", ".m4v", ".mkv", ".mov", ".webm",
}

// Validate checks the shape of a request before a job id is allocated.
// File existence is checked later by each pipeline's validate stage.
func Validate(kind domain.RequestKind, input string) error {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return domain.Validationf("%s input is required", kind)
	}
	if strings.ContainsRune(input, 0) {
		return domain.Validationf("%s input contains a NUL byte", kind)
	}

	switch kind {
	case domain.RequestKindPDF:
		if !strings.EqualFold(filepath.Ext(trimmed), ".pdf") {
			return domain.Validationf("pdf input must be a .pdf file: %s", trimmed)
		}
	case domain.RequestKindAudio:
		ext := strings.ToLower(filepath.Ext(trimmed))
		if !slices.Contains(audioExtensions, ext) {
			return domain.Validationf("unsupported audio format %q", ext)
		}
	case domain.RequestKindVideo:
		if _, err := parseVideoURL(trimmed); err != nil {
			return err
		}
	case domain.RequestKindCommand:
		if n := utf8.RuneCountInString(trimmed); n > MaxCommandLength {
			return domain.Validationf("command is %d characters, limit is %d", n, MaxCommandLength)
		}
	default:
		_, err := domain.ParseRequestKind(string(kind))
		return err
	}
	return nil
}

func parseVideoURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, domain.Validationf("invalid video url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, domain.Validationf("video url must use http or https: %q", raw)
	}
	if u.Host == "" {
		return nil, domain.Validationf("video url has no host: %q", raw)
	}
	return u, nil
}
