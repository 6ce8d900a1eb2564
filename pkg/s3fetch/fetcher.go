package s3fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FetchConfig configures a multi-object tile fetch.
type FetchConfig struct {
	// URIs are the s3:// URIs of the tile objects to download.
	URIs []string
	// DownloadDir is the local directory to download tile objects to.
	DownloadDir string
	// Concurrency is the number of parallel object downloads (default: 4).
	Concurrency int
	// KeepFiles if true, don't delete downloaded files on Cleanup.
	KeepFiles bool
}

// Fetcher downloads a set of tile objects ahead of aggregation.
type Fetcher struct {
	downloader *Downloader
	cfg        FetchConfig
}

// NewFetcher creates a tile object fetcher.
func NewFetcher(downloader *Downloader, cfg FetchConfig) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Fetcher{
		downloader: downloader,
		cfg:        cfg,
	}
}

// Fetch downloads every configured object and returns the local paths, in
// the same order as the URIs.
func (f *Fetcher) Fetch(ctx context.Context) ([]string, error) {
	if err := os.MkdirAll(f.cfg.DownloadDir, 0755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	localFiles := make([]string, len(f.cfg.URIs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)

	for i, uri := range f.cfg.URIs {
		g.Go(func() error {
			bucket, key, err := ParseS3URI(uri)
			if err != nil {
				return fmt.Errorf("parse %s: %w", uri, err)
			}

			// Index prefix keeps distinct keys with equal basenames from
			// colliding on disk.
			localPath := filepath.Join(f.cfg.DownloadDir, fmt.Sprintf("%04d_%s", i, sanitizeFilename(key)))
			if _, err := f.downloader.DownloadToFile(ctx, bucket, key, localPath); err != nil {
				return err
			}

			mu.Lock()
			localFiles[i] = localPath
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("wait for downloads: %w", err)
	}
	return localFiles, nil
}

// Cleanup removes downloaded files unless KeepFiles is set.
func (f *Fetcher) Cleanup() error {
	if f.cfg.KeepFiles {
		return nil
	}
	return os.RemoveAll(f.cfg.DownloadDir)
}

// sanitizeFilename flattens a full S3 key into a single safe path component.
func sanitizeFilename(key string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(key)
}
