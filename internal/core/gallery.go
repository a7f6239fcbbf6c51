package core

import (
	"context"
	"fmt"
	"forecastica/internal/core/utils"
	"forecastica/pkg/api"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

type ManifestSource string

const (
	// SourceAnalyze asks the server to generate the plots before listing them.
	SourceAnalyze     ManifestSource = "analyze"
	SourceImages      ManifestSource = "images"
	SourceAnalyzeData ManifestSource = "analyze-data"
)

func ParseManifestSource(s string) (ManifestSource, error) {
	switch src := ManifestSource(strings.ToLower(s)); src {
	case SourceAnalyze, SourceImages, SourceAnalyzeData:
		return src, nil
	}
	return "", fmt.Errorf("invalid gallery source '%s': must be one of analyze, images, analyze-data", s)
}

const HeatmapName = "correlation_heatmap.png"

type GalleryBackend interface {
	Analyze(ctx context.Context) (api.ImageManifest, error)
	ListImages(ctx context.Context) (api.ImageManifest, error)
	AnalyzeData(ctx context.Context) (api.ImageManifest, error)
	FetchImage(ctx context.Context, filename string) ([]byte, error)
	ImageURL(filename string) string
}

type GalleryState string

const (
	GalleryLoading   GalleryState = "loading"
	GalleryError     GalleryState = "error"
	GalleryPopulated GalleryState = "populated"
)

type Image struct {
	Name   string `json:"name"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Broken bool   `json:"broken,omitempty"`
}

type GalleryView struct {
	State   GalleryState `json:"state"`
	Error   string       `json:"error,omitempty"`
	Images  []Image      `json:"images"`
	Heatmap *Image       `json:"heatmap,omitempty"`
}

type GalleryOptions struct {
	Source         ManifestSource
	Workers        int
	IncludeHeatmap bool
}

// Gallery is the chart page: one distribution plot per numeric column plus an
// optional correlation heatmap.
type Gallery struct {
	Lifetime

	backend GalleryBackend
	opts    GalleryOptions

	mu   sync.Mutex
	view GalleryView
}

func NewGallery(backend GalleryBackend, opts GalleryOptions) *Gallery {
	if opts.Source == "" {
		opts.Source = SourceImages
	}
	opts.Workers = max(1, opts.Workers)
	return &Gallery{backend: backend, opts: opts, view: GalleryView{State: GalleryLoading}}
}

func (g *Gallery) View() GalleryView {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.view
	v.Images = slices.Clone(v.Images)
	if v.Heatmap != nil {
		h := *v.Heatmap
		v.Heatmap = &h
	}
	return v
}

func (g *Gallery) manifest(ctx context.Context) (api.ImageManifest, error) {
	switch g.opts.Source {
	case SourceAnalyze:
		return g.backend.Analyze(ctx)
	case SourceAnalyzeData:
		return g.backend.AnalyzeData(ctx)
	default:
		return g.backend.ListImages(ctx)
	}
}

func (g *Gallery) Load(ctx context.Context) error {
	g.mu.Lock()
	tok, ctx, cancel := g.Begin(ctx)
	defer cancel()
	g.view = GalleryView{State: GalleryLoading}
	g.mu.Unlock()

	view, err := g.load(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.Current(tok) {
		slog.Info("discarding gallery result for page no longer displayed")
		return ErrStale
	}
	g.view = view
	return err
}

func (g *Gallery) load(ctx context.Context) (GalleryView, error) {
	manifest, err := g.manifest(ctx)
	if err != nil {
		return GalleryView{State: GalleryError, Error: userMessage(err, errorMessages{
			transport:   "Failed to fetch image list.",
			application: "Failed to fetch image list.",
			parse:       "The image list returned by the server could not be read.",
		})}, err
	}

	var names []string
	for _, name := range manifest.Filenames() {
		if name != HeatmapName {
			names = append(names, name)
		}
	}

	view := GalleryView{State: GalleryPopulated}
	if g.opts.IncludeHeatmap {
		view.Heatmap = g.heatmap(ctx)
	}

	if len(names) == 0 {
		view.State = GalleryError
		view.Error = "No images found."
		return view, nil
	}

	checks := utils.RunInPool(ctx, names, g.opts.Workers, func(ctx context.Context, name string) (struct{}, error) {
		_, err := g.backend.FetchImage(ctx, name)
		return struct{}{}, err
	})

	view.Images = make([]Image, 0, len(names))
	for i, name := range names {
		img := Image{Name: name, Title: strings.TrimSuffix(name, ".png"), URL: g.backend.ImageURL(name)}
		if err := checks[i].Error; err != nil {
			slog.Warn("image failed to load", "image", name, "error", err)
			img.Broken = true
		}
		view.Images = append(view.Images, img)
	}

	return view, nil
}

func (g *Gallery) heatmap(ctx context.Context) *Image {
	if _, err := g.backend.FetchImage(ctx, HeatmapName); err != nil {
		slog.Info("correlation heatmap not available", "error", err)
		return nil
	}
	return &Image{Name: HeatmapName, Title: "Correlation Heatmap", URL: g.backend.ImageURL(HeatmapName)}
}
