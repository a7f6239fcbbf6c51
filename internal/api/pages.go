package api

import (
	"context"
	"forecastica/internal/client"
	"forecastica/internal/core"
)

// Backend is everything the pages need from the training server.
type Backend interface {
	core.DatasetBackend
	core.EditorBackend
	core.GalleryBackend
	core.WorkflowBackend
	ListModels(ctx context.Context) ([]string, error)
}

var _ Backend = (*client.Client)(nil)

type PageOptions struct {
	PreviewRowCap             int
	AutoAdvanceOnTrainSuccess bool
	GallerySource             core.ManifestSource
	GalleryWorkers            int
	Catalog                   *core.Catalog
}

type HomeView struct {
	Title string     `json:"title"`
	Links []HomeLink `json:"links"`
}

type HomeLink struct {
	Path  string `json:"path"`
	Label string `json:"label"`
}

type homePage struct{ core.Lifetime }

func newHomePage(env PageEnv) Page {
	return &homePage{}
}

func (h *homePage) View() HomeView {
	return HomeView{
		Title: "Forecastica",
		Links: []HomeLink{
			{Path: "/upload", Label: "Upload dataset"},
			{Path: "/analysis", Label: "Clean data"},
			{Path: "/analyze", Label: "Explore charts"},
			{Path: "/model-selection", Label: "Train models"},
			{Path: "/predictions", Label: "Run saved models"},
		},
	}
}

type NotFoundView struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

type notFound struct {
	core.Lifetime
	path string
}

func (p *notFound) View() NotFoundView {
	return NotFoundView{Path: p.path, Message: "Page not found"}
}

func newUploadPage(env PageEnv) Page {
	return core.NewFileTransfer(env.Backend, env.Session, env.Options.PreviewRowCap)
}

func newEditorPage(env PageEnv) Page {
	return core.NewEditor(env.Backend, env.Session, env.Options.PreviewRowCap)
}

func newGalleryPage(env PageEnv) Page {
	return core.NewGallery(env.Backend, core.GalleryOptions{
		Source:         env.Options.GallerySource,
		Workers:        env.Options.GalleryWorkers,
		IncludeHeatmap: true,
	})
}

func newWorkflowPage(env PageEnv) Page {
	return core.NewWorkflow(env.Backend, env.Session, core.WorkflowOptions{
		AutoAdvanceOnTrainSuccess: env.Options.AutoAdvanceOnTrainSuccess,
		Recorder:                  env.Recorder,
		Catalog:                   env.Options.Catalog,
	})
}

func newPredictionsPage(env PageEnv) Page {
	return core.NewPredictions(env.Backend)
}
