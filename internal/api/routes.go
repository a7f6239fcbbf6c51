package api

import (
	"forecastica/internal/core"
	"forecastica/internal/session"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Page is a console page. A page is mounted when navigated to and unmounted
// when the session navigates elsewhere; results of work started while it was
// mounted are dropped once it is unmounted.
type Page interface {
	Mount()
	Unmount()
}

type PageEnv struct {
	Backend  Backend
	Session  *session.Session
	Options  PageOptions
	Recorder core.RunRecorder
}

type PageFactory func(env PageEnv) Page

// Route binds a path to the factory for its page. The factory itself is only
// resolved the first time any session navigates to the path.
type Route struct {
	Path string
	Name string

	load   func() PageFactory
	get    func() PageFactory
	loaded atomic.Bool
}

func NewRoute(path, name string, load func() PageFactory) *Route {
	r := &Route{Path: path, Name: name, load: load}
	r.get = sync.OnceValue(func() PageFactory {
		slog.Debug("loading page", "route", path, "page", name)
		r.loaded.Store(true)
		return r.load()
	})
	return r
}

func (r *Route) Loaded() bool {
	return r.loaded.Load()
}

func (r *Route) Factory() PageFactory {
	return r.get()
}

const notFoundPage = "not-found"

// DefaultRoutes returns the console route table.
func DefaultRoutes() []*Route {
	return []*Route{
		NewRoute("/", "home", func() PageFactory { return newHomePage }),
		NewRoute("/home", "home", func() PageFactory { return newHomePage }),
		NewRoute("/upload", "upload", func() PageFactory { return newUploadPage }),
		NewRoute("/analyze", "analyze", func() PageFactory { return newGalleryPage }),
		NewRoute("/analysis", "analysis", func() PageFactory { return newEditorPage }),
		NewRoute("/model-selection", "model-selection", func() PageFactory { return newWorkflowPage }),
		NewRoute("/predictions", "predictions", func() PageFactory { return newPredictionsPage }),
	}
}

// Navigator tracks the page currently displayed for one session.
type Navigator struct {
	routes map[string]*Route
	env    PageEnv

	mu      sync.Mutex
	path    string
	name    string
	current Page
}

func NewNavigator(routes []*Route, env PageEnv) *Navigator {
	byPath := make(map[string]*Route, len(routes))
	for _, r := range routes {
		byPath[r.Path] = r
	}
	return &Navigator{routes: byPath, env: env}
}

// Navigate displays the page for path, returning it, its name and whether it
// was mounted by this call. Navigating to the path already displayed keeps
// the current page; any other path unmounts it and mounts a fresh page.
func (n *Navigator) Navigate(path string) (Page, string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current != nil && n.path == path {
		return n.current, n.name, false
	}

	if n.current != nil {
		n.current.Unmount()
	}

	page, name := Page(&notFound{path: path}), notFoundPage
	if route, ok := n.routes[path]; ok {
		page, name = route.Factory()(n.env), route.Name
	}

	page.Mount()
	n.path, n.name, n.current = path, name, page
	return page, name, true
}

// Close unmounts the current page.
func (n *Navigator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current != nil {
		n.current.Unmount()
		n.current, n.path, n.name = nil, "", ""
	}
}

func (n *Navigator) Current() (Page, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current, n.path
}
