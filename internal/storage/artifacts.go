package storage

import (
	"bytes"
	"context"
	"fmt"
	"forecastica/pkg/api"
	"log/slog"
	"net/url"
	"path"
	"sync"

	"golang.org/x/sync/errgroup"
)

type ArtifactFetcher interface {
	Download(ctx context.Context, ref api.Artifact) ([]byte, error)
}

// ArtifactName is the file name an artifact reference is stored under.
func ArtifactName(ref api.Artifact) string {
	s := ref.String()
	if u, err := url.Parse(s); err == nil {
		s = u.Path
	}
	name := path.Base(s)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// SaveArtifacts downloads every present artifact in refs concurrently and
// stores it under dir. The first failed download cancels the rest and removes
// whatever was already stored under dir, so dir never holds a partial set.
// onSaved, if set, is called once per stored artifact and never concurrently.
func SaveArtifacts(ctx context.Context, store ObjectStore, fetcher ArtifactFetcher, dir string, refs []api.Artifact, workers int, onSaved func(Object)) ([]Object, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}

	parent := ctx
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))

	var (
		mu    sync.Mutex
		saved []Object
		seen  = make(map[string]bool)
	)

	for _, ref := range refs {
		if !ref.Present() {
			continue
		}
		name := ArtifactName(ref)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		g.Go(func() error {
			data, err := fetcher.Download(ctx, ref)
			if err != nil {
				return fmt.Errorf("error downloading %s: %w", ref, err)
			}

			key := path.Join(dir, name)
			if err := store.PutObject(ctx, key, bytes.NewReader(data)); err != nil {
				return fmt.Errorf("error saving %s: %w", ref, err)
			}
			slog.Info("saved artifact", "artifact", ref.String(), "key", key, "bytes", len(data))

			obj := Object{Name: key, Size: int64(len(data))}
			mu.Lock()
			defer mu.Unlock()
			saved = append(saved, obj)
			if onSaved != nil {
				onSaved(obj)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if cleanupErr := store.DeleteObjects(context.WithoutCancel(parent), dir); cleanupErr != nil {
			slog.Error("error removing partial artifacts", "dir", dir, "error", cleanupErr)
		}
		return nil, err
	}
	return saved, nil
}
