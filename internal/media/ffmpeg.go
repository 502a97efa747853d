package media

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"friday/internal/domain"
	"friday/internal/logging"
	"friday/internal/pipeline"
)

// 16 kHz mono 16-bit PCM.
const wavBytesPerSecond = 16000 * 2

// FFmpeg converts input media into 16 kHz mono WAV segments.
type FFmpeg struct {
	ffmpeg         tool
	segmentSeconds int
	readDir        func(name string) ([]os.DirEntry, error)
}

var _ pipeline.AudioPreparer = (*FFmpeg)(nil)

// NewFFmpeg builds the production preparer.
func NewFFmpeg(path string, segmentSeconds int, logger *logging.Logger) *FFmpeg {
	return newFFmpeg(path, segmentSeconds, &execRunner{}, logger)
}

func newFFmpeg(path string, segmentSeconds int, runner commandRunner, logger *logging.Logger) *FFmpeg {
	if segmentSeconds <= 0 {
		segmentSeconds = 300
	}
	return &FFmpeg{
		ffmpeg:         newTool(path, "ffmpeg", runner, logger),
		segmentSeconds: segmentSeconds,
		readDir:        os.ReadDir,
	}
}

// Prepare writes seg-NNN.wav files into outDir.
func (f *FFmpeg) Prepare(ctx context.Context, input, outDir string) ([]pipeline.Segment, error) {
	pattern := filepath.Join(outDir, "seg-%03d.wav")
	if _, err := f.ffmpeg.run(ctx, domain.KindInput, "ffmpeg audio conversion", buildFFmpegArgs(input, pattern, f.segmentSeconds)...); err != nil {
		return nil, err
	}

	entries, err := f.readDir(outDir)
	if err != nil {
		return nil, domain.IOError(err, "read segment directory")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "seg-") && strings.HasSuffix(e.Name(), ".wav") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, domain.InputError(nil, "ffmpeg completed but produced no audio")
	}
	sort.Strings(names)

	segments := make([]pipeline.Segment, 0, len(names))
	step := time.Duration(f.segmentSeconds) * time.Second
	for i, name := range names {
		path := filepath.Join(outDir, name)
		dur := step
		if info, err := os.Stat(path); err == nil && info.Size() > 44 {
			dur = time.Duration(info.Size()-44) * time.Second / wavBytesPerSecond
		}
		segments = append(segments, pipeline.Segment{
			Index:    i,
			Path:     path,
			Start:    time.Duration(i) * step,
			Duration: dur,
		})
	}
	return segments, nil
}

// buildFFmpegArgs builds preprocessing CLI args for segmented mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPattern string, segmentSeconds int) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-f", "segment",
		"-segment_time", strconv.Itoa(segmentSeconds),
		"-reset_timestamps", "1",
		outPattern,
	}
}
