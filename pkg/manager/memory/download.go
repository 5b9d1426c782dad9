package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"pkengine/pkg/manager"
)

// ErrDownload is wrapped by download failures injected through the catalog.
var ErrDownload = errors.New("mirror returned an error")

const downloadChunks = 4

// Download writes a package file for each of pkgs into dir, fetching up to
// the configured number in parallel.
func (b *Backend) Download(ctx context.Context, pkgs []manager.Package, dir string, progress manager.DownloadProgress) ([]string, error) {
	b.mu.RLock()
	fail := nameSet(b.cat.FailDownload)
	workers := b.workers
	b.mu.RUnlock()

	if dir == "" {
		dir = filepath.Join(os.TempDir(), "pkengine-memory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	for _, p := range pkgs {
		progress.Add(p.ID(), p.DownloadSize)
	}

	paths := make([]string, len(pkgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range pkgs {
		g.Go(func() error {
			path, err := fetch(gctx, p, dir, progress, fail[p.Name])
			if err != nil {
				return err
			}
			paths[i] = path
			progress.Done(p.ID())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	b.log.Debug().Int("packages", len(pkgs)).Str("dir", dir).Msg("download complete")
	return paths, nil
}

func fetch(ctx context.Context, p manager.Package, dir string, progress manager.DownloadProgress, fail bool) (string, error) {
	id := p.ID()
	for chunk := uint64(1); chunk <= downloadChunks; chunk++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if fail && chunk == downloadChunks/2 {
			return "", fmt.Errorf("failed to download %s: %w", p, ErrDownload)
		}
		progress.Update(id, p.DownloadSize*chunk/downloadChunks)
	}

	path := filepath.Join(dir, p.String()+".pkg")
	if err := WriteManifest(path, p); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

func nameSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}
