package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"friday/internal/domain"
)

func audioStages(preparer AudioPreparer, transcriber Transcriber, opts Options) []Stage {
	return []Stage{
		NewStage(StageValidate, func(sc *StageContext, w Work) (Work, error) {
			path, _, err := checkLocalFile(w.Input)
			if err != nil {
				return w, err
			}
			w.SourcePath = path
			w.Source = path
			w.Title = titleOr("", path)
			sc.Emit(100, "input verified")
			return w, nil
		}),
		NewStage(StagePreprocess, func(sc *StageContext, w Work) (Work, error) {
			if preparer == nil {
				return w, missingCapability("audio preprocessor")
			}
			if err := sc.Checkpoint(); err != nil {
				return w, err
			}
			sc.Emit(0, "normalizing audio")
			outDir, err := sc.Staging().Subdir("segments")
			if err != nil {
				return w, err
			}
			segments, err := preparer.Prepare(sc.Context(), w.SourcePath, outDir)
			if err != nil {
				if cerr := sc.Checkpoint(); cerr != nil {
					return w, cerr
				}
				return w, err
			}
			if len(segments) == 0 {
				return w, domain.InputError(nil, "no audio found in %s", w.SourcePath)
			}
			w.Segments = segments
			sc.Emit(100, fmt.Sprintf("prepared %d segments", len(segments)))
			return w, nil
		}),
		NewStage(StageTranscribe, func(sc *StageContext, w Work) (Work, error) {
			if transcriber == nil {
				return w, missingCapability("transcriber")
			}
			total := len(w.Segments)
			w.Transcript = make([]TranscriptPart, 0, total)
			for i, seg := range w.Segments {
				if err := sc.Checkpoint(); err != nil {
					return w, err
				}
				sc.Emit(i*100/total, fmt.Sprintf("transcribing segment %d/%d", i+1, total))
				var text string
				err := WithRetry(sc, opts.Retry, "transcription", func(ctx context.Context) error {
					var err error
					text, err = transcriber.Transcribe(ctx, seg, sc.Settings())
					return err
				})
				if err != nil {
					if cerr := sc.Checkpoint(); cerr != nil {
						return w, cerr
					}
					return w, err
				}
				w.Transcript = append(w.Transcript, TranscriptPart{Segment: seg, Text: strings.TrimSpace(text)})
				sc.Emit((i+1)*100/total, fmt.Sprintf("transcribed segment %d/%d", i+1, total))
			}
			return w, nil
		}),
		NewStage(StageComposeTranscript, func(sc *StageContext, w Work) (Work, error) {
			if err := sc.Checkpoint(); err != nil {
				return w, err
			}
			md, plain := renderTranscript(w.Title, w.Source, w.Transcript)
			primary, err := writeArtifact(sc, "transcript.md", md)
			if err != nil {
				return w, err
			}
			txt, err := writeArtifact(sc, "transcript.txt", plain)
			if err != nil {
				return w, err
			}
			// Segments are intermediate; only the transcript is kept.
			if err := os.RemoveAll(filepath.Join(sc.Staging().Dir(), "segments")); err != nil {
				sc.Logger().Warn("remove audio segments", "error", err)
			}
			w.Primary = primary
			w.Assets = append(w.Assets, txt)
			sc.Emit(100, "transcript written")
			return w, nil
		}),
		persistStage(),
	}
}

func renderTranscript(title, source string, parts []TranscriptPart) (markdown, plain string) {
	var md, txt strings.Builder
	fmt.Fprintf(&md, "# %s\n\n- Source: %s\n\n", title, source)
	for _, p := range parts {
		if p.Text == "" {
			continue
		}
		fmt.Fprintf(&md, "**[%s]** %s\n\n", formatClock(p.Segment.Start), p.Text)
		txt.WriteString(p.Text)
		txt.WriteString("\n")
	}
	return strings.TrimRight(md.String(), "\n") + "\n", txt.String()
}
