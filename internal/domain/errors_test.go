package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", InputError(nil, "missing %s", "a.pdf"))

	assert.ErrorIs(t, err, ErrInput)
	assert.NotErrorIs(t, err, ErrIO)
	assert.Equal(t, KindInput, KindOf(err))
}

func TestKindOfContextErrors(t *testing.T) {
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindIO, KindOf(fmt.Errorf("fetch: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestRetryableOnlyForIO(t *testing.T) {
	assert.True(t, Retryable(IOError(nil, "timeout")))
	assert.False(t, Retryable(InputError(nil, "bad")))
	assert.False(t, Retryable(DependencyError(nil, "no key")))
	assert.False(t, Retryable(Cancelled(context.Canceled)))
}

func TestWithStageKeepsOriginalStage(t *testing.T) {
	first := WithStage(IOError(nil, "reset"), "fetch-subtitles")
	again := WithStage(first, "persist")

	require.NotNil(t, again)
	assert.Equal(t, "fetch-subtitles", again.Stage)
	assert.Equal(t, "fetch-subtitles: reset", again.Error())

	plain := WithStage(errors.New("boom"), "validate")
	assert.Equal(t, KindInternal, plain.Kind)
	assert.Equal(t, "validate", plain.Stage)
}

func TestErrorFormatsCommandLog(t *testing.T) {
	err := &Error{
		Kind:       KindIO,
		Stage:      "preprocess",
		Message:    "ffmpeg failed",
		CommandLog: &CommandLog{Command: "ffmpeg", ExitCode: 1},
	}
	assert.Equal(t, "preprocess: ffmpeg failed (cmd=ffmpeg exit=1)", err.Error())
}

func TestParseRequestKind(t *testing.T) {
	kind, err := ParseRequestKind(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, RequestKindPDF, kind)

	_, err = ParseRequestKind("spreadsheet")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestSettingsCloneIsDeep(t *testing.T) {
	s := Settings{APIKeys: map[string]string{"openai": "sk-1"}, LibraryPath: "/lib", LogLevel: LogLevelInfo}
	c := s.Clone()
	c.APIKeys["openai"] = "sk-2"

	assert.Equal(t, "sk-1", s.APIKey("openai"))
	assert.False(t, s.Equal(c))
	assert.True(t, Settings{LibraryPath: "x"}.Equal(Settings{LibraryPath: "x", APIKeys: map[string]string{}}))
}

func TestSettingsAPIKeyIgnoresProviderCase(t *testing.T) {
	s := Settings{APIKeys: map[string]string{"OpenAI": " sk-mixed ", "claude": "sk-c"}}

	assert.Equal(t, "sk-mixed", s.APIKey("openai"))
	assert.Equal(t, "sk-mixed", s.APIKey("OPENAI"))
	assert.Equal(t, "sk-c", s.APIKey("Claude"))
	assert.Empty(t, s.APIKey("gemini"))
}

func TestSettingsCloneKeepsNilKeys(t *testing.T) {
	c := Settings{LibraryPath: "/lib"}.Clone()
	assert.Nil(t, c.APIKeys)

	c = Settings{APIKeys: map[string]string{}}.Clone()
	assert.NotNil(t, c.APIKeys)
	assert.Empty(t, c.APIKeys)
}
