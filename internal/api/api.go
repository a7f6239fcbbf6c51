package api

import (
	"context"
	"errors"
	"forecastica/internal/client"
	"forecastica/internal/core"
	"forecastica/internal/database"
	"forecastica/internal/session"
	"forecastica/pkg/api"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	SessionHeader = "X-Session-Id"
	SessionCookie = "forecastica_session"

	maxUploadMemory = 32 << 20
)

type RunHistory interface {
	core.RunRecorder
	ListRuns(ctx context.Context, sessionId uuid.UUID) ([]database.WorkflowRun, error)
}

// ConsoleService serves the client routes as a JSON console. Every session
// has its own navigator, so pages and their state are never shared between
// sessions.
type ConsoleService struct {
	backend  Backend
	sessions *session.SessionCache
	runs     RunHistory
	routes   []*Route
	options  PageOptions

	mu         sync.Mutex
	navigators map[uuid.UUID]*Navigator
}

func NewConsoleService(backend Backend, sessions *session.SessionCache, runs RunHistory, routes []*Route, options PageOptions) *ConsoleService {
	s := &ConsoleService{
		backend:    backend,
		sessions:   sessions,
		runs:       runs,
		routes:     routes,
		options:    options,
		navigators: make(map[uuid.UUID]*Navigator),
	}
	sessions.OnEvict(s.closeNavigator)
	return s
}

func (s *ConsoleService) AddRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.withSession)

		r.Get("/", RestHandler(s.Home))
		r.Get("/home", RestHandler(s.Home))

		r.Route("/upload", func(r chi.Router) {
			r.Get("/", RestHandler(s.GetUpload))
			r.Post("/", RestHandler(s.Upload))
			r.Get("/files", RestHandler(s.ListFiles))
			r.Post("/existing", RestHandler(s.SelectExisting))
		})

		r.Get("/analyze", RestHandler(s.GetGallery))

		r.Route("/analysis", func(r chi.Router) {
			r.Get("/", RestHandler(s.GetEditor))
			r.Post("/toggle", RestHandler(s.ToggleColumn))
			r.Post("/remove-columns", RestHandler(s.RemoveColumns))
			r.Post("/handle-nulls", RestHandler(s.HandleNulls))
		})

		r.Route("/model-selection", func(r chi.Router) {
			r.Get("/", RestHandler(s.GetWorkflow))
			r.Post("/train", RestHandler(s.StartWorkflow))
			r.Post("/predict", RestHandler(s.PredictWorkflow))
			r.Post("/retry", RestHandler(s.RetryWorkflow))
		})

		r.Route("/predictions", func(r chi.Router) {
			r.Get("/", RestHandler(s.GetPredictions))
			r.Post("/run", RestHandler(s.RunPredictions))
		})

		r.Get("/runs", RestHandler(s.ListRuns))
	})

	r.NotFound(s.withSession(http.HandlerFunc(s.NotFound)).ServeHTTP)
}

type sessionKey struct{}

func (s *ConsoleService) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.resolveSession(r)
		if err != nil {
			slog.Error("error loading session", "error", err)
			http.Error(w, "unable to load session", http.StatusInternalServerError)
			return
		}

		w.Header().Set(SessionHeader, sess.ID.String())
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: sess.ID.String(), Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func (s *ConsoleService) resolveSession(r *http.Request) (*session.Session, error) {
	raw := r.Header.Get(SessionHeader)
	if raw == "" {
		if c, err := r.Cookie(SessionCookie); err == nil {
			raw = c.Value
		}
	}

	if id, err := uuid.Parse(raw); err == nil {
		return s.sessions.Get(r.Context(), id)
	}

	sess, err := s.sessions.Create(r.Context())
	if err != nil {
		return nil, err
	}
	slog.Info("created console session", "session_id", sess.ID, "cached_sessions", s.sessions.Len())
	return sess, nil
}

func sessionFrom(r *http.Request) *session.Session {
	return r.Context().Value(sessionKey{}).(*session.Session)
}

func (s *ConsoleService) navigator(sess *session.Session) *Navigator {
	s.mu.Lock()
	defer s.mu.Unlock()

	if nav, ok := s.navigators[sess.ID]; ok {
		return nav
	}
	nav := NewNavigator(s.routes, PageEnv{Backend: s.backend, Session: sess, Options: s.options, Recorder: s.recorder()})
	s.navigators[sess.ID] = nav
	return nav
}

func (s *ConsoleService) recorder() core.RunRecorder {
	if s.runs == nil {
		return nil
	}
	return s.runs
}

func (s *ConsoleService) closeNavigator(sess *session.Session) {
	s.mu.Lock()
	nav, ok := s.navigators[sess.ID]
	delete(s.navigators, sess.ID)
	s.mu.Unlock()

	if ok {
		nav.Close()
	}
}

type navigation struct {
	session *session.Session
	path    string
	name    string
	page    Page
	mounted bool
}

func (s *ConsoleService) navigate(r *http.Request, path string) navigation {
	sess := sessionFrom(r)
	page, name, mounted := s.navigator(sess).Navigate(path)
	return navigation{session: sess, path: path, name: name, page: page, mounted: mounted}
}

func (n navigation) response() api.PageResponse {
	return api.PageResponse{SessionId: n.session.ID, Route: n.path, Page: n.name, View: pageView(n.page)}
}

func pageView(page Page) any {
	switch p := page.(type) {
	case *homePage:
		return p.View()
	case *notFound:
		return p.View()
	case *core.FileTransfer:
		return p.View()
	case *core.Editor:
		return p.View()
	case *core.Gallery:
		return p.View()
	case *core.Workflow:
		return p.View()
	case *core.Predictions:
		return p.View()
	default:
		return nil
	}
}

func pageAs[T Page](n navigation) (T, error) {
	p, ok := n.page.(T)
	if !ok {
		return p, CodedErrorf(http.StatusInternalServerError, "route '%s' is not served by the expected page", n.path)
	}
	return p, nil
}

// pageError maps the outcome of a page operation onto the response. Failures
// reported by the training server are part of the page view and are not
// request errors.
func pageError(err error) error {
	var (
		verr *client.ValidationError
		terr *client.TransportError
		aerr *client.ApplicationError
		perr *client.ParseError
	)

	switch {
	case err == nil:
		return nil
	case client.IsCanceled(err):
		// The caller went away or the page was left mid request.
		return CodedError(http.StatusServiceUnavailable, err)
	case errors.As(err, &verr):
		return CodedError(http.StatusUnprocessableEntity, err)
	case errors.As(err, &terr), errors.As(err, &aerr), errors.As(err, &perr):
		return nil
	case errors.Is(err, core.ErrBusy), errors.Is(err, core.ErrInvalidState), errors.Is(err, core.ErrStale):
		return CodedError(http.StatusConflict, err)
	default:
		return CodedError(http.StatusBadRequest, err)
	}
}

func (s *ConsoleService) Home(r *http.Request) (any, error) {
	return s.navigate(r, r.URL.Path).response(), nil
}

func (s *ConsoleService) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJson(w, http.StatusNotFound, s.navigate(r, r.URL.Path).response())
}

func (s *ConsoleService) GetUpload(r *http.Request) (any, error) {
	nav := s.navigate(r, "/upload")
	page, err := pageAs[*core.FileTransfer](nav)
	if err != nil {
		return nil, err
	}

	if nav.mounted {
		if err := page.ListFiles(r.Context()); err != nil {
			slog.Warn("unable to list uploaded files", "session_id", nav.session.ID, "error", err)
		}
	}
	return nav.response(), nil
}

func (s *ConsoleService) Upload(r *http.Request) (any, error) {
	nav := s.navigate(r, "/upload")
	page, err := pageAs[*core.FileTransfer](nav)
	if err != nil {
		return nil, err
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart form: %v", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "missing 'file' in upload form")
	}
	defer file.Close()

	if err := pageError(page.Upload(r.Context(), header.Filename, header.Size, file)); err != nil {
		return nil, err
	}
	return nav.response(), nil
}

func (s *ConsoleService) ListFiles(r *http.Request) (any, error) {
	nav := s.navigate(r, "/upload")
	page, err := pageAs[*core.FileTransfer](nav)
	if err != nil {
		return nil, err
	}

	if err := pageError(page.ListFiles(r.Context())); err != nil {
		return nil, err
	}
	return nav.response(), nil
}

func (s *ConsoleService) SelectExisting(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SelectFileRequest](r)
	if err != nil {
		return nil, err
	}

	nav := s.navigate(r, "/upload")
	page, err := pageAs[*core.FileTransfer](nav)
	if err != nil {
		return nil, err
	}

	if err := pageError(page.SelectExisting(r.Context(), req.Filename)); err != nil {
		return nil, err
	}
	return nav.response(), nil
}

func (s *ConsoleService) GetGallery(r *http.Request) (any, error) {
	nav := s.navigate(r, "/analyze")
	page, err := pageAs[*core.Gallery](nav)
	if err != nil {
		return nil, err
	}

	if nav.mounted {
		if err := pageError(page.Load(r.Context())); err != nil {
			return nil, err
		}
	}
	return nav.response(), nil
}

func (s *ConsoleService) GetEditor(r *http.Request) (any, error) {
	nav := s.navigate(r, "/analysis")
	page, err := pageAs[*core.Editor](nav)
	if err != nil {
		return nil, err
	}

	if nav.mounted {
		if err := pageError(page.Load(r.Context())); err != nil {
			return nil, err
		}
	}
	return nav.response(), nil
}

func (s *ConsoleService) ToggleColumn(r *http.Request) (any, error) {
	req, err := ParseRequest[api.ToggleColumnRequest](r)
	if err != nil {
		return nil, err
	}

	nav := s.navigate(r, "/analysis")
	page, err := pageAs[*core.Editor](nav)
	if err != nil {
		return nil, err
	}

	if err := pageError(page.Toggle(req.Column)); err != nil {
		return nil, err
	}
	return nav.response(), nil
}

func (s *ConsoleService) RemoveColumns(r *http.Request) (any, error) {
	nav := s.navigate(r, "/analysis")
	page, err := pageAs[*core.Editor](nav)
	if err != nil {
		return nil, err
	}

	if err := pageError(page.RemoveSelected(r.Context())); err != nil {
		return nil, err
	}
	return nav.response(), nil
}

func (s *ConsoleService) HandleNulls(r *http.Request) (any, error) {
	req, err := ParseRequest[api.NullActionRequest](r)
	if err != nil {
		return nil, err
	}

	nav := s.navigate(r, "/analysis")
	page, err := pageAs[*core.Editor](nav)
	if err != nil {
		return nil, err
	}

	if err := pageError(page.ApplyNullAction(r.Context(), req.Action)); err != nil {
		return nil, err
	}
	return nav.response(), nil
}

func (s *ConsoleService) GetWorkflow(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ModelSelectionParams](r)
	if err != nil {
		return nil, err
	}

	nav := s.navigate(r, "/model-selection")
	page, err := pageAs[*core.Workflow](nav)
	if err != nil {
		return nil, err
	}

	if params.ProblemType != "" || params.TargetColumn != "" || params.ModelName != "" {
		problemType, err := api.ParseProblemType(params.ProblemType)
		if err != nil {
			return nil, CodedError(http.StatusBadRequest, err)
		}
		if err := pageError(page.Configure(problemType, params.TargetColumn, params.ModelName)); err != nil {
			return nil, err
		}
		if err := pageError(page.Recommend(r.Context())); err != nil {
			return nil, err
		}
	}
	return nav.response(), nil
}

type waitParams struct {
	Wait bool `schema:"wait"`
}

func (s *ConsoleService) StartWorkflow(r *http.Request) (any, error) {
	req, err := ParseRequest[api.StartWorkflowRequest](r)
	if err != nil {
		return nil, err
	}

	nav := s.navigate(r, "/model-selection")
	page, err := pageAs[*core.Workflow](nav)
	if err != nil {
		return nil, err
	}

	problemType, err := api.ParseProblemType(string(req.ProblemType))
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}
	return s.runWorkflow(r, nav, func(ctx context.Context) (<-chan struct{}, error) {
		return page.StartConfigured(ctx, problemType, req.TargetColumn, req.ModelName)
	})
}

func (s *ConsoleService) PredictWorkflow(r *http.Request) (any, error) {
	nav := s.navigate(r, "/model-selection")
	page, err := pageAs[*core.Workflow](nav)
	if err != nil {
		return nil, err
	}

	if page.State() != core.StateTrained {
		return nil, CodedError(http.StatusConflict, core.ErrInvalidState)
	}
	return s.runWorkflow(r, nav, page.StartPredict)
}

func (s *ConsoleService) RetryWorkflow(r *http.Request) (any, error) {
	nav := s.navigate(r, "/model-selection")
	page, err := pageAs[*core.Workflow](nav)
	if err != nil {
		return nil, err
	}

	if !page.View().CanRetry {
		return nil, CodedError(http.StatusConflict, core.ErrInvalidState)
	}
	return s.runWorkflow(r, nav, page.StartRetry)
}

// runWorkflow starts a workflow step in the background. With ?wait=true the
// response is held until the workflow settles.
func (s *ConsoleService) runWorkflow(r *http.Request, nav navigation, start func(context.Context) (<-chan struct{}, error)) (any, error) {
	params, err := ParseRequestQueryParams[waitParams](r)
	if err != nil {
		return nil, err
	}

	done, err := start(r.Context())
	if err != nil {
		return nil, pageError(err)
	}

	if params.Wait {
		select {
		case <-done:
		case <-r.Context().Done():
			return nil, CodedError(http.StatusServiceUnavailable, r.Context().Err())
		}
	}
	return nav.response(), nil
}

func (s *ConsoleService) GetPredictions(r *http.Request) (any, error) {
	nav := s.navigate(r, "/predictions")
	page, err := pageAs[*core.Predictions](nav)
	if err != nil {
		return nil, err
	}

	if nav.mounted {
		if err := pageError(page.ListModels(r.Context())); err != nil {
			return nil, err
		}
	}
	return nav.response(), nil
}

func (s *ConsoleService) RunPredictions(r *http.Request) (any, error) {
	req, err := ParseRequest[api.PredictRequest](r)
	if err != nil {
		return nil, err
	}

	nav := s.navigate(r, "/predictions")
	page, err := pageAs[*core.Predictions](nav)
	if err != nil {
		return nil, err
	}

	if nav.mounted {
		if err := pageError(page.ListModels(r.Context())); err != nil {
			return nil, err
		}
	}
	if err := pageError(page.Select(req.ModelName, req.ProblemType, req.TargetColumn)); err != nil {
		return nil, err
	}
	if err := pageError(page.Run(r.Context())); err != nil {
		return nil, err
	}
	return nav.response(), nil
}

func (s *ConsoleService) ListRuns(r *http.Request) (any, error) {
	if s.runs == nil {
		return []api.Run{}, nil
	}

	sess := sessionFrom(r)
	runs, err := s.runs.ListRuns(r.Context(), sess.ID)
	if err != nil {
		slog.Error("error listing workflow runs", "session_id", sess.ID, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving workflow runs")
	}
	return convertRuns(runs), nil
}
