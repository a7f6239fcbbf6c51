package core

import (
	"context"
	"errors"
	"fmt"
	"forecastica/internal/core/utils"
	"forecastica/internal/session"
	"forecastica/pkg/api"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type WorkflowState string

const (
	StateIdle        WorkflowState = "idle"
	StateConfiguring WorkflowState = "configuring"
	StateTraining    WorkflowState = "training"
	StateTrained     WorkflowState = "trained"
	StatePredicting  WorkflowState = "predicting"
	StateCompleted   WorkflowState = "completed"
	StateFailed      WorkflowState = "failed"
)

type WorkflowBackend interface {
	SelectModel(ctx context.Context, req api.SelectModelRequest) (api.SelectModelResponse, error)
	TrainModels(ctx context.Context, req api.TrainRequest) (api.TrainResponse, error)
	RunPredictions(ctx context.Context, req api.PredictRequest) (api.PredictResponse, error)
	ResolveURL(ref api.Artifact) string
}

// RunRecorder persists the history of workflow runs. Recording failures are
// logged and never change the outcome of a run.
type RunRecorder interface {
	StartRun(ctx context.Context, sessionId uuid.UUID, req api.TrainRequest, modelName string) (uuid.UUID, error)
	SaveTrainResults(ctx context.Context, runId uuid.UUID, res api.TrainResponse) error
	StartPrediction(ctx context.Context, runId uuid.UUID) error
	CompleteRun(ctx context.Context, runId uuid.UUID, res api.PredictResponse) error
	FailRun(ctx context.Context, runId uuid.UUID, message string) error
}

type WorkflowOptions struct {
	// AutoAdvanceOnTrainSuccess issues the prediction request as soon as
	// training succeeds. When false the workflow pauses in StateTrained until
	// Predict is called.
	AutoAdvanceOnTrainSuccess bool
	Recorder                  RunRecorder

	// Catalog defaults to DefaultCatalog.
	Catalog *Catalog
}

// Recommendation is the model the server suggests for the configured target.
// Model is set when the suggestion is one of the catalog's models.
type Recommendation struct {
	Model       string `json:"model,omitempty"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Parameters  string `json:"parameters,omitempty"`
}

type ModelSummary struct {
	Name            string   `json:"name"`
	Metrics         []string `json:"metrics,omitempty"`
	ConfusionMatrix string   `json:"confusion_matrix,omitempty"`
	Error           string   `json:"error,omitempty"`
}

type PredictionView struct {
	Columns         []string   `json:"columns"`
	Rows            [][]string `json:"rows"`
	CSVURL          string     `json:"csv_url,omitempty"`
	ConfusionMatrix string     `json:"confusion_matrix,omitempty"`
	ShapPlot        string     `json:"shap_plot,omitempty"`
}

type WorkflowView struct {
	State          WorkflowState   `json:"state"`
	ProblemType    api.ProblemType `json:"problem_type,omitempty"`
	Target         string          `json:"target,omitempty"`
	Model          string          `json:"model,omitempty"`
	Models         []ModelOption   `json:"models"`
	Step           int             `json:"step"`
	TotalSteps     int             `json:"total_steps"`
	InProgress     bool            `json:"in_progress"`
	SubmitEnabled  bool            `json:"submit_enabled"`
	PredictEnabled bool            `json:"predict_enabled"`
	CanRetry       bool            `json:"can_retry"`
	Message        string          `json:"message,omitempty"`
	Training       []ModelSummary  `json:"training,omitempty"`
	Prediction     *PredictionView `json:"prediction,omitempty"`

	Recommendation      *Recommendation `json:"recommendation,omitempty"`
	RecommendationError string          `json:"recommendation_error,omitempty"`
}

var (
	trainMessages = errorMessages{
		transport:   "An error occurred while training the models.",
		application: "Model training failed.",
		parse:       "Training finished but the server response could not be read.",
	}
	predictMessages = errorMessages{
		transport:   "An error occurred while running predictions.",
		application: "Prediction failed.",
		parse:       "Predictions finished but the server response could not be read.",
	}
	recommendMessages = errorMessages{
		transport:   "Unable to fetch a model recommendation.",
		application: "No model recommendation available.",
		parse:       "The model recommendation could not be read.",
	}
)

// Workflow sequences a training request and the prediction request that
// follows it. The prediction request is never sent before the training
// response for the same configuration has been received.
type Workflow struct {
	Lifetime

	backend WorkflowBackend
	session *session.Session
	opts    WorkflowOptions
	catalog *Catalog

	mu          sync.Mutex
	state       WorkflowState
	problemType api.ProblemType
	target      string
	model       string
	message     string
	canRetry    bool
	failedStep  WorkflowState
	runId       uuid.UUID
	training    *api.TrainResponse
	prediction  *api.PredictResponse
	done        chan struct{}

	recommendation *Recommendation
	recommendError string
}

func NewWorkflow(backend WorkflowBackend, sess *session.Session, opts WorkflowOptions) *Workflow {
	catalog := opts.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Workflow{backend: backend, session: sess, opts: opts, catalog: catalog, state: StateIdle}
}

func (w *Workflow) State() WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Workflow) busyLocked() bool {
	return w.state == StateTraining || w.state == StatePredicting
}

// pendingLocked reports a background run that has been started but has not
// settled yet, including one that has not reached the training state.
func (w *Workflow) pendingLocked() bool {
	return w.done != nil && !closed(w.done)
}

// Configure selects the problem type, target column and model. It resets any
// previous results, and the recommendation when problem type or target
// change. It is refused while a run is in flight.
func (w *Workflow) Configure(problemType api.ProblemType, target, model string) error {
	if err := w.validate(problemType, target, model); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busyLocked() || w.pendingLocked() {
		return ErrBusy
	}
	w.configureLocked(problemType, target, model)
	return nil
}

func (w *Workflow) validate(problemType api.ProblemType, target, model string) error {
	if _, err := api.ParseProblemType(string(problemType)); err != nil {
		return err
	}
	if target == "" {
		return fmt.Errorf("%w: target column is required", ErrNotConfigured)
	}
	if model != "" {
		if err := w.catalog.Validate(problemType, model); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workflow) configureLocked(problemType api.ProblemType, target, model string) {
	if problemType != w.problemType || target != w.target {
		w.recommendation = nil
		w.recommendError = ""
	}
	w.state = StateConfiguring
	w.problemType = problemType
	w.target = target
	w.model = model
	w.message = ""
	w.canRetry = false
	w.failedStep = ""
	w.training = nil
	w.prediction = nil
}

func (w *Workflow) configuredLocked() bool {
	return w.problemType != "" && w.target != "" && w.model != ""
}

// Recommend asks the server which model suits the configured target. The
// recommendation is advisory: a failure is shown with it and leaves the
// configuration untouched.
func (w *Workflow) Recommend(ctx context.Context) error {
	w.mu.Lock()
	if w.busyLocked() || w.pendingLocked() {
		w.mu.Unlock()
		return ErrBusy
	}
	if w.state != StateConfiguring {
		w.mu.Unlock()
		return ErrInvalidState
	}
	if w.recommendation != nil {
		w.mu.Unlock()
		return nil
	}
	tok, ctx, cancel := w.Begin(ctx)
	defer cancel()

	req := api.SelectModelRequest{PredictionType: w.problemType, TargetVariable: w.target}
	w.recommendation = nil
	w.recommendError = ""
	w.mu.Unlock()

	res, err := w.backend.SelectModel(ctx, req)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.Current(tok) || w.problemType != req.PredictionType || w.target != req.TargetVariable {
		return ErrStale
	}

	if err != nil {
		w.recommendError = userMessage(err, recommendMessages)
		return err
	}

	rec := parseRecommendation(res.Message)
	if option, ok := w.catalog.Lookup(req.PredictionType, rec.Label); ok {
		rec.Model = option.Name
	}
	w.recommendation = &rec
	slog.Info("model recommended", "session_id", w.session.ID, "target", req.TargetVariable, "model", rec.Label)
	return nil
}

func parseRecommendation(message string) Recommendation {
	var rec Recommendation
	for _, line := range strings.Split(message, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "selected model":
			rec.Label = value
		case "description":
			rec.Description = value
		case "parameters":
			rec.Parameters = value
		}
	}
	if rec.Label == "" {
		rec.Label = strings.TrimSpace(message)
	}
	return rec
}

// Submit trains the configured models and, depending on the options,
// continues straight into prediction. It blocks until the workflow settles.
func (w *Workflow) Submit(ctx context.Context) error {
	w.mu.Lock()
	if w.busyLocked() {
		w.mu.Unlock()
		return ErrBusy
	}
	if !w.configuredLocked() {
		w.mu.Unlock()
		return ErrNotConfigured
	}
	w.mu.Unlock()

	if err := w.train(ctx); err != nil {
		return err
	}
	if !w.opts.AutoAdvanceOnTrainSuccess {
		return nil
	}
	return w.predict(ctx)
}

// Start runs Submit in the background. The returned channel is closed when
// the workflow settles. ctx only bounds the run; it may be a request context.
func (w *Workflow) Start(ctx context.Context) (<-chan struct{}, error) {
	return w.background(ctx, nil, w.Submit)
}

// StartConfigured is Configure followed by Start as a single step, so a
// concurrent caller cannot change the configuration of the run in between.
func (w *Workflow) StartConfigured(ctx context.Context, problemType api.ProblemType, target, model string) (<-chan struct{}, error) {
	if err := w.validate(problemType, target, model); err != nil {
		return nil, err
	}
	if model == "" {
		return nil, ErrNotConfigured
	}
	return w.background(ctx, func() { w.configureLocked(problemType, target, model) }, w.Submit)
}

// StartPredict runs Predict in the background.
func (w *Workflow) StartPredict(ctx context.Context) (<-chan struct{}, error) {
	return w.background(ctx, nil, w.Predict)
}

// StartRetry runs Retry in the background.
func (w *Workflow) StartRetry(ctx context.Context) (<-chan struct{}, error) {
	return w.background(ctx, nil, w.Retry)
}

// background runs op in its own goroutine. prepare, if set, runs under the
// lock once the workflow is known to be idle.
func (w *Workflow) background(ctx context.Context, prepare func(), op func(context.Context) error) (<-chan struct{}, error) {
	w.mu.Lock()
	if w.busyLocked() || w.pendingLocked() {
		w.mu.Unlock()
		return nil, ErrBusy
	}
	if prepare != nil {
		prepare()
	}
	done := make(chan struct{})
	w.done = done
	w.mu.Unlock()

	go func() {
		defer close(done)
		if err := op(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrStale) {
			slog.Info("workflow run ended with error", "session_id", w.session.ID, "error", err)
		}
	}()
	return done, nil
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the last background run has settled.
func (w *Workflow) Wait() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Predict issues the prediction request for a workflow paused after a
// successful training run.
func (w *Workflow) Predict(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateTrained {
		w.mu.Unlock()
		return ErrInvalidState
	}
	w.mu.Unlock()
	return w.predict(ctx)
}

// Retry re-runs the step that failed with a retryable error.
func (w *Workflow) Retry(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateFailed || !w.canRetry {
		w.mu.Unlock()
		return ErrInvalidState
	}
	step := w.failedStep
	if step == StatePredicting {
		// The training results of this run are still valid.
		w.state = StateTrained
	}
	w.mu.Unlock()

	if step == StatePredicting {
		return w.predict(ctx)
	}
	return w.Submit(ctx)
}

func (w *Workflow) train(ctx context.Context) error {
	w.mu.Lock()
	if w.busyLocked() {
		w.mu.Unlock()
		return ErrBusy
	}
	tok, ctx, cancel := w.Begin(ctx)
	defer cancel()

	req := w.session.TrainRequest(w.target, w.problemType)
	model := w.model
	w.state = StateTraining
	w.message = "Training models..."
	w.canRetry = false
	w.training = nil
	w.prediction = nil
	w.runId = uuid.Nil
	w.mu.Unlock()

	if w.opts.Recorder != nil {
		runId, err := w.opts.Recorder.StartRun(context.WithoutCancel(ctx), w.session.ID, req, model)
		if err != nil {
			slog.Error("error recording workflow run", "session_id", w.session.ID, "error", err)
		}
		w.setRunId(runId)
	}

	slog.Info("training models", "session_id", w.session.ID, "target", req.TargetColumn, "problem_type", req.ProblemType, "file", req.ProcessedFile)
	res, err := w.backend.TrainModels(ctx, req)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.Current(tok) {
		slog.Info("discarding training result for page no longer displayed", "session_id", w.session.ID)
		return ErrStale
	}

	if err != nil {
		w.failLocked(ctx, StateTraining, userMessage(err, trainMessages), retryable(err))
		return err
	}

	w.training = &res
	w.state = StateTrained
	w.message = "Training completed"
	w.record(ctx, func(r RunRecorder, ctx context.Context, id uuid.UUID) error { return r.SaveTrainResults(ctx, id, res) })
	return nil
}

func (w *Workflow) predict(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateTrained {
		w.mu.Unlock()
		return ErrInvalidState
	}
	tok, ctx, cancel := w.Begin(ctx)
	defer cancel()

	req := api.PredictRequest{ModelName: w.model, ProblemType: w.problemType, TargetColumn: w.target}
	w.state = StatePredicting
	w.message = "Running predictions..."
	w.canRetry = false
	w.record(ctx, func(r RunRecorder, ctx context.Context, id uuid.UUID) error { return r.StartPrediction(ctx, id) })
	w.mu.Unlock()

	slog.Info("running predictions", "session_id", w.session.ID, "model", req.ModelName)
	res, err := w.backend.RunPredictions(ctx, req)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.Current(tok) {
		slog.Info("discarding prediction result for page no longer displayed", "session_id", w.session.ID)
		return ErrStale
	}

	if err != nil {
		w.failLocked(ctx, StatePredicting, userMessage(err, predictMessages), retryable(err))
		return err
	}

	w.prediction = &res
	w.state = StateCompleted
	w.message = res.Message
	if w.message == "" {
		w.message = "Predictions completed"
	}
	w.record(ctx, func(r RunRecorder, ctx context.Context, id uuid.UUID) error { return r.CompleteRun(ctx, id, res) })
	return nil
}

func (w *Workflow) setRunId(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runId = id
}

func (w *Workflow) failLocked(ctx context.Context, step WorkflowState, message string, canRetry bool) {
	w.state = StateFailed
	w.failedStep = step
	w.message = message
	w.canRetry = canRetry
	if step == StatePredicting {
		// Training results stay visible after a failed prediction.
		w.prediction = nil
	}
	w.record(ctx, func(r RunRecorder, ctx context.Context, id uuid.UUID) error { return r.FailRun(ctx, id, message) })
}

// record must be called with w.mu held.
func (w *Workflow) record(ctx context.Context, fn func(RunRecorder, context.Context, uuid.UUID) error) {
	if w.opts.Recorder == nil || w.runId == uuid.Nil {
		return
	}
	if err := fn(w.opts.Recorder, context.WithoutCancel(ctx), w.runId); err != nil {
		slog.Error("error recording workflow run", "session_id", w.session.ID, "run_id", w.runId, "error", err)
	}
}

func (w *Workflow) View() WorkflowView {
	w.mu.Lock()
	defer w.mu.Unlock()

	v := WorkflowView{
		State:       w.state,
		ProblemType: w.problemType,
		Target:      w.target,
		Model:       w.model,
		Models:      w.catalog.ModelsFor(w.problemType),
		TotalSteps:  2,
		InProgress:  w.busyLocked(),
		CanRetry:    w.state == StateFailed && w.canRetry,
		Message:     w.message,
	}
	v.SubmitEnabled = !v.InProgress && w.configuredLocked()
	if w.recommendation != nil {
		rec := *w.recommendation
		v.Recommendation = &rec
	}
	v.RecommendationError = w.recommendError
	v.PredictEnabled = w.state == StateTrained

	switch w.state {
	case StateTraining:
		v.Step = 1
	case StateTrained, StatePredicting, StateCompleted:
		v.Step = 2
	case StateFailed:
		if w.failedStep == StatePredicting {
			v.Step = 2
		} else {
			v.Step = 1
		}
	}

	if w.training != nil {
		v.Training = w.summaries(*w.training)
	}
	if w.prediction != nil {
		v.Prediction = predictionView(w.backend, *w.prediction)
	}
	return v
}

func (w *Workflow) summaries(res api.TrainResponse) []ModelSummary {
	out := make([]ModelSummary, 0, len(res.Results))
	for _, r := range res.Results {
		s := ModelSummary{Name: r.Name, Error: r.Error}
		for _, m := range r.Metrics {
			s.Metrics = append(s.Metrics, m.String())
		}
		if r.ConfusionMatrix.Present() {
			s.ConfusionMatrix = w.backend.ResolveURL(r.ConfusionMatrix)
		}
		out = append(out, s)
	}
	return out
}

type urlResolver interface {
	ResolveURL(ref api.Artifact) string
}

func predictionView(backend urlResolver, res api.PredictResponse) *PredictionView {
	columns := res.Columns()
	view := &PredictionView{Columns: slices.Clone(columns), Rows: make([][]string, 0, len(res.Predictions))}
	for _, row := range res.Predictions {
		cells := make([]string, len(columns))
		for i, c := range columns {
			v, _ := row.Get(c)
			cells[i] = utils.FormatCell(v, 4)
		}
		view.Rows = append(view.Rows, cells)
	}
	if res.CSVURL.Present() {
		view.CSVURL = backend.ResolveURL(res.CSVURL)
	}
	if res.ConfusionMatrix.Present() {
		view.ConfusionMatrix = backend.ResolveURL(res.ConfusionMatrix)
	}
	if res.ShapPlot.Present() {
		view.ShapPlot = backend.ResolveURL(res.ShapPlot)
	}
	return view
}
