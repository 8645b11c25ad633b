package selection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/metrics"
)

// ErrEmptySelection is returned when a download is requested with nothing
// selected; callers surface it as feedback rather than writing an empty file.
var ErrEmptySelection = errors.New("no records selected")

// ErrDownloadInProgress guards against repeat submissions while a download is
// running.
var ErrDownloadInProgress = errors.New("a download is already in progress")

// BatchFetcher pulls full records for an exact identifier list.
type BatchFetcher interface {
	FetchByIDs(ctx context.Context, ids []int64) ([]catalogue.Record, error)
}

// Downloader serializes selected records to a JSON file.
type Downloader struct {
	fetcher BatchFetcher
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu          sync.Mutex
	downloading bool
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithDownloadLogger sets the logger; slog.Default() otherwise.
func WithDownloadLogger(l *slog.Logger) DownloaderOption {
	return func(d *Downloader) { d.logger = l }
}

// WithDownloadMetrics attaches download counters.
func WithDownloadMetrics(m *metrics.Metrics) DownloaderOption {
	return func(d *Downloader) { d.metrics = m }
}

// WithClock replaces the filename timestamp source (tests).
func WithClock(now func() time.Time) DownloaderOption {
	return func(d *Downloader) { d.now = now }
}

// NewDownloader creates a Downloader over the batch endpoint.
func NewDownloader(fetcher BatchFetcher, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		fetcher: fetcher,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Downloading reports whether a download is running; the UI disables the
// button while it is.
func (d *Downloader) Downloading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.downloading
}

// Download fetches the selected records and writes them to a timestamped JSON
// file under dir, returning the file path.
func (d *Downloader) Download(ctx context.Context, ids []int64, dir string) (string, error) {
	if len(ids) == 0 {
		return "", ErrEmptySelection
	}

	d.mu.Lock()
	if d.downloading {
		d.mu.Unlock()
		return "", ErrDownloadInProgress
	}
	d.downloading = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.downloading = false
		d.mu.Unlock()
	}()

	name := fmt.Sprintf("fcc-records-%d-%s.json", len(ids), d.now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating download file: %w", err)
	}

	if err := d.write(ctx, ids, f); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing download file: %w", err)
	}

	d.metrics.Download()
	d.logger.Info("bulk download written", "path", path, "records", len(ids))
	return path, nil
}

func (d *Downloader) write(ctx context.Context, ids []int64, w io.Writer) error {
	records, err := d.fetcher.FetchByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("fetching selected records: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}
	return nil
}
