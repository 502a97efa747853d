// Package openai adapts the OpenAI API to the transcription and intent
// parsing capabilities. The API key is read from settings on every call so
// key changes apply to the next request.
package openai

import (
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"friday/internal/domain"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	ProviderName   = "openai"
)

// Config selects the endpoint and models.
type Config struct {
	BaseURL    string
	ChatModel  string
	HTTPClient *http.Client
}

func newClient(cfg Config, settings domain.Settings) (openai.Client, error) {
	key := settings.APIKey(ProviderName)
	if key == "" {
		return openai.Client{}, domain.DependencyError(nil, "api key for %s is not set", ProviderName)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		// Stages retry transient failures themselves.
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" && base != DefaultBaseURL {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")+"/"))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return openai.NewClient(opts...), nil
}

// classify maps API failures onto the error taxonomy: rate limits, server
// errors and transport failures are io, auth and request errors are
// dependency errors.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return domain.IOError(err, "%s: openai returned %d", what, apiErr.StatusCode)
		default:
			return domain.DependencyError(err, "%s: openai returned %d", what, apiErr.StatusCode)
		}
	}
	if kind := domain.KindOf(err); kind == domain.KindCancelled {
		return domain.Cancelled(err)
	}
	return domain.IOError(err, "%s: %v", what, err)
}
