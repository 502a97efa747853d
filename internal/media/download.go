package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"friday/internal/domain"
)

// Downloader fetches URLs into local files through a temporary file so a
// partial download is never visible under the final name.
type Downloader struct {
	client  *http.Client
	timeout time.Duration
}

// NewDownloader uses client (or http.DefaultClient) with a per-request
// timeout.
func NewDownloader(client *http.Client, timeout time.Duration) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Downloader{client: client, timeout: timeout}
}

// Fetch downloads sourceURL to destinationPath. Transport errors, timeouts,
// 429 and 5xx are io errors; other non-200 statuses are input errors.
func (d *Downloader) Fetch(ctx context.Context, sourceURL, destinationPath string) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return domain.IOError(err, "prepare destination directory")
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.IOError(err, "remove stale temp file")
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return domain.InputError(err, "build request for %s", sourceURL)
	}
	req.Header.Set("User-Agent", "friday")

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return domain.Cancelled(ctx.Err())
		}
		return domain.IOError(err, "request download")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("unexpected HTTP status: %s", resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.IOError(nil, "%s", msg)
		}
		return domain.InputError(nil, "%s", msg)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.IOError(err, "create temporary file")
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		if errors.Is(ctx.Err(), context.Canceled) {
			return domain.Cancelled(ctx.Err())
		}
		return domain.IOError(copyErr, "write destination file")
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return domain.IOError(closeErr, "close destination file")
	}

	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return domain.IOError(err, "move downloaded file into place")
	}
	return nil
}
