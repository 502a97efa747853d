package pipeline

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"friday/internal/domain"
)

func videoStages(fetcher VideoFetcher, opts Options) []Stage {
	return []Stage{
		NewStage(StageValidate, func(sc *StageContext, w Work) (Work, error) {
			u, err := parseVideoURL(strings.TrimSpace(w.Input))
			if err != nil {
				return w, err
			}
			w.Source = u.String()
			sc.Emit(100, "url accepted")
			return w, nil
		}),
		NewStage(StageResolveMetadata, func(sc *StageContext, w Work) (Work, error) {
			if fetcher == nil {
				return w, missingCapability("video fetcher")
			}
			sc.Emit(0, "resolving video metadata")
			var meta VideoMetadata
			err := WithRetry(sc, opts.Retry, "metadata lookup", func(ctx context.Context) error {
				var err error
				meta, err = fetcher.Metadata(ctx, w.Source)
				return err
			})
			if err != nil {
				return w, err
			}
			w.Video = &meta
			w.Title = meta.Title
			sc.Emit(100, fmt.Sprintf("found %q with %d subtitle tracks", meta.Title, len(meta.Subtitles)))
			return w, nil
		}),
		NewStage(StageFetchSubtitles, func(sc *StageContext, w Work) (Work, error) {
			if fetcher == nil {
				return w, missingCapability("video fetcher")
			}
			if w.Video == nil {
				return w, domain.InternalError(nil, "video metadata was not resolved")
			}
			tracks := pickSubtitles(w.Video.Subtitles, opts.SubtitleLangs)
			if len(tracks) == 0 {
				w.Notes = append(w.Notes, "No subtitles were available for this video.")
				sc.Emit(100, "no subtitles available")
				return w, nil
			}
			for i, track := range tracks {
				if err := sc.Checkpoint(); err != nil {
					return w, err
				}
				dest, err := sc.Staging().Path(fmt.Sprintf("subtitles.%s.%s", safeName(track.Lang), safeName(track.Ext)))
				if err != nil {
					return w, err
				}
				err = WithRetry(sc, opts.Retry, "subtitle download", func(ctx context.Context) error {
					return fetcher.Download(ctx, track.URL, dest)
				})
				if err != nil {
					return w, err
				}
				w.Subtitles = append(w.Subtitles, SubtitleFile{Lang: track.Lang, Path: dest})
				w.Assets = append(w.Assets, dest)
				sc.Emit((i+1)*100/len(tracks), "downloaded "+track.Lang+" subtitles")
			}
			return w, nil
		}),
		NewStage(StageComposeNotes, func(sc *StageContext, w Work) (Work, error) {
			if err := sc.Checkpoint(); err != nil {
				return w, err
			}
			notes, err := renderVideoNotes(w)
			if err != nil {
				return w, err
			}
			path, err := writeArtifact(sc, "notes.md", notes)
			if err != nil {
				return w, err
			}
			w.Primary = path
			sc.Emit(100, "notes written")
			return w, nil
		}),
		persistStage(),
	}
}

// pickSubtitles returns at most one track: the first preferred language
// that exists, manual tracks before automatic ones, vtt before other
// formats.
func pickSubtitles(tracks []SubtitleTrack, langs []string) []SubtitleTrack {
	score := func(t SubtitleTrack) int {
		s := 0
		if !t.Automatic {
			s += 2
		}
		if strings.EqualFold(t.Ext, "vtt") {
			s++
		}
		return s
	}
	for _, lang := range langs {
		var best *SubtitleTrack
		for i := range tracks {
			t := &tracks[i]
			if !strings.EqualFold(t.Lang, lang) || t.URL == "" {
				continue
			}
			if best == nil || score(*t) > score(*best) {
				best = t
			}
		}
		if best != nil {
			return []SubtitleTrack{*best}
		}
	}
	return nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func safeName(s string) string {
	s = unsafeName.ReplaceAllString(s, "_")
	if s == "" {
		return "x"
	}
	return s
}

func renderVideoNotes(w Work) (string, error) {
	meta := VideoMetadata{}
	if w.Video != nil {
		meta = *w.Video
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", titleOr(meta.Title, w.Source))
	fmt.Fprintf(&b, "- Source: %s\n", sourceOr(meta.WebpageURL, w.Source))
	if meta.Uploader != "" {
		fmt.Fprintf(&b, "- Uploader: %s\n", meta.Uploader)
	}
	if meta.Duration > 0 {
		fmt.Fprintf(&b, "- Duration: %s\n", formatClock(meta.Duration))
	}
	b.WriteString("\n")
	for _, note := range w.Notes {
		fmt.Fprintf(&b, "> %s\n\n", note)
	}
	if d := strings.TrimSpace(meta.Description); d != "" {
		fmt.Fprintf(&b, "## Description\n\n%s\n\n", d)
	}
	for _, sub := range w.Subtitles {
		raw, err := os.ReadFile(sub.Path)
		if err != nil {
			return "", domain.IOError(err, "read subtitles %s", sub.Lang)
		}
		lines := subtitleText(string(raw))
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## Transcript (%s)\n\n", sub.Lang)
		for _, para := range chunkLines(lines, 6) {
			b.WriteString(para)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n", nil
}

var (
	cueTiming = regexp.MustCompile(`^\d{1,2}:\d{2}(:\d{2})?[.,]\d{3}\s+-->`)
	cueTag    = regexp.MustCompile(`<[^>]+>`)
	cueIndex  = regexp.MustCompile(`^\d+$`)
)

// subtitleText extracts spoken lines from WebVTT or SRT, dropping timing,
// markup and the rolling duplicates auto-captions produce.
func subtitleText(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var (
		out  []string
		last string
		skip bool
	)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			skip = false
			continue
		case skip:
			continue
		case strings.HasPrefix(line, "WEBVTT"), strings.HasPrefix(line, "Kind:"), strings.HasPrefix(line, "Language:"):
			continue
		case strings.HasPrefix(line, "NOTE"), strings.HasPrefix(line, "STYLE"), strings.HasPrefix(line, "REGION"):
			skip = true
			continue
		case cueTiming.MatchString(line), cueIndex.MatchString(line):
			continue
		}
		text := strings.TrimSpace(cueTag.ReplaceAllString(line, ""))
		if text == "" || text == last {
			continue
		}
		out = append(out, text)
		last = text
	}
	return out
}

func chunkLines(lines []string, size int) []string {
	var out []string
	for start := 0; start < len(lines); start += size {
		end := min(start+size, len(lines))
		out = append(out, strings.Join(lines[start:end], " "))
	}
	return out
}

func formatClock(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
