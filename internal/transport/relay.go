package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// TempImagePrefix starts the name of every file the relay downloads.
const TempImagePrefix = "image_"

// ImageRelay fetches a remote image into a temporary file and uploads it
// through a Sender. The file is removed whether or not the upload succeeds.
type ImageRelay struct {
	sender  Sender
	client  *http.Client
	dir     string
	timeout time.Duration
	log     *slog.Logger
}

// NewImageRelay creates a relay storing downloads under dir.
func NewImageRelay(sender Sender, dir string, timeout time.Duration, log *slog.Logger) *ImageRelay {
	if log == nil {
		log = slog.Default()
	}
	return &ImageRelay{
		sender:  sender,
		client:  &http.Client{},
		dir:     dir,
		timeout: timeout,
		log:     log,
	}
}

// SendImage downloads imageURL and sends it to chatID with caption.
func (r *ImageRelay) SendImage(ctx context.Context, chatID int64, imageURL, caption string, opts MessageOptions) error {
	path, err := r.download(ctx, imageURL)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			r.log.Warn("Failed to remove temp image", "path", path, "error", rmErr)
		}
	}()

	return r.sender.SendPhoto(ctx, chatID, path, caption, opts)
}

func (r *ImageRelay) download(ctx context.Context, imageURL string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build image request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(r.dir, TempImagePrefix+"*.png")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close image: %w", err)
	}
	return path, nil
}
