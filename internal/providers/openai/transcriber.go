package openai

import (
	"context"
	"os"
	"strings"

	"github.com/openai/openai-go/v2"

	"friday/internal/domain"
	"friday/internal/pipeline"
)

// Transcriber sends segments to the whisper-1 transcription endpoint.
type Transcriber struct {
	cfg Config
}

var _ pipeline.Transcriber = (*Transcriber)(nil)

func NewTranscriber(cfg Config) *Transcriber {
	return &Transcriber{cfg: cfg}
}

// Transcribe uploads one segment.
func (t *Transcriber) Transcribe(ctx context.Context, seg pipeline.Segment, settings domain.Settings) (string, error) {
	client, err := newClient(t.cfg, settings)
	if err != nil {
		return "", err
	}

	f, err := os.Open(seg.Path)
	if err != nil {
		return "", domain.IOError(err, "open segment %d", seg.Index)
	}
	defer f.Close()

	resp, err := client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModelWhisper1,
	})
	if err != nil {
		return "", classify(err, "transcription")
	}
	return strings.TrimSpace(resp.Text), nil
}
