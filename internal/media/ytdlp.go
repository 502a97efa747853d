package media

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"friday/internal/domain"
	"friday/internal/logging"
	"friday/internal/pipeline"
)

// YTDLP resolves video metadata with yt-dlp and downloads subtitle files
// over HTTP.
type YTDLP struct {
	ytdlp      tool
	downloader *Downloader
	timeout    time.Duration
}

var _ pipeline.VideoFetcher = (*YTDLP)(nil)

// NewYTDLP builds the production fetcher. timeout bounds each network call.
func NewYTDLP(path string, timeout time.Duration, logger *logging.Logger) *YTDLP {
	return newYTDLP(path, timeout, &execRunner{}, NewDownloader(nil, timeout), logger)
}

func newYTDLP(path string, timeout time.Duration, runner commandRunner, dl *Downloader, logger *logging.Logger) *YTDLP {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &YTDLP{
		ytdlp:      newTool(path, "yt-dlp", runner, logger),
		downloader: dl,
		timeout:    timeout,
	}
}

type ytdlpSubtitle struct {
	Ext string `json:"ext"`
	URL string `json:"url"`
}

type ytdlpInfo struct {
	ID                string                     `json:"id"`
	Title             string                     `json:"title"`
	Uploader          string                     `json:"uploader"`
	Channel           string                     `json:"channel"`
	Description       string                     `json:"description"`
	WebpageURL        string                     `json:"webpage_url"`
	Duration          float64                    `json:"duration"`
	Subtitles         map[string][]ytdlpSubtitle `json:"subtitles"`
	AutomaticCaptions map[string][]ytdlpSubtitle `json:"automatic_captions"`
}

// Metadata runs yt-dlp -J for url.
func (y *YTDLP) Metadata(ctx context.Context, url string) (pipeline.VideoMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	res, err := y.ytdlp.run(ctx, domain.KindIO, "yt-dlp metadata lookup",
		"-J", "--skip-download", "--no-playlist", "--no-warnings", url)
	if err != nil {
		return pipeline.VideoMetadata{}, classifyYTDLP(err, res.Stderr)
	}

	var info ytdlpInfo
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return pipeline.VideoMetadata{}, domain.InternalError(err, "decode yt-dlp output")
	}
	return info.toMetadata(), nil
}

// Download fetches a subtitle file to dest.
func (y *YTDLP) Download(ctx context.Context, url, dest string) error {
	return y.downloader.Fetch(ctx, url, dest)
}

func (i ytdlpInfo) toMetadata() pipeline.VideoMetadata {
	meta := pipeline.VideoMetadata{
		ID:          i.ID,
		Title:       strings.TrimSpace(i.Title),
		Uploader:    i.Uploader,
		Description: i.Description,
		WebpageURL:  i.WebpageURL,
		Duration:    time.Duration(i.Duration * float64(time.Second)),
	}
	if meta.Uploader == "" {
		meta.Uploader = i.Channel
	}
	meta.Subtitles = append(meta.Subtitles, tracks(i.Subtitles, false)...)
	meta.Subtitles = append(meta.Subtitles, tracks(i.AutomaticCaptions, true)...)
	return meta
}

func tracks(m map[string][]ytdlpSubtitle, automatic bool) []pipeline.SubtitleTrack {
	langs := make([]string, 0, len(m))
	for lang := range m {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	var out []pipeline.SubtitleTrack
	for _, lang := range langs {
		for _, s := range m[lang] {
			if s.URL == "" {
				continue
			}
			out = append(out, pipeline.SubtitleTrack{Lang: lang, Ext: s.Ext, URL: s.URL, Automatic: automatic})
		}
	}
	return out
}

var permanentYTDLPErrors = []string{
	"unsupported url",
	"video unavailable",
	"private video",
	"this video is not available",
	"http error 404",
	"http error 403",
	"is not a valid url",
	"members-only",
	"sign in to confirm your age",
}

// classifyYTDLP separates bad links from network trouble by stderr text.
func classifyYTDLP(err error, stderr string) error {
	de, ok := err.(*domain.Error)
	if !ok || de.Kind != domain.KindIO {
		return err
	}
	lower := strings.ToLower(stderr)
	for _, marker := range permanentYTDLPErrors {
		if strings.Contains(lower, marker) {
			out := *de
			out.Kind = domain.KindInput
			return &out
		}
	}
	return err
}
