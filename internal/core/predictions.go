package core

import (
	"context"
	"forecastica/pkg/api"
	"log/slog"
	"slices"
	"sync"
)

type PredictionsBackend interface {
	ListModels(ctx context.Context) ([]string, error)
	RunPredictions(ctx context.Context, req api.PredictRequest) (api.PredictResponse, error)
	ResolveURL(ref api.Artifact) string
}

type PredictionsView struct {
	Models      []string        `json:"models"`
	Selected    string          `json:"selected,omitempty"`
	ProblemType api.ProblemType `json:"problem_type,omitempty"`
	Target      string          `json:"target,omitempty"`
	Running     bool            `json:"running"`
	RunEnabled  bool            `json:"run_enabled"`
	Message     string          `json:"message,omitempty"`
	Result      *PredictionView `json:"result,omitempty"`
}

// Predictions runs a previously saved model without retraining.
type Predictions struct {
	Lifetime

	backend PredictionsBackend

	mu          sync.Mutex
	models      []string
	selected    string
	problemType api.ProblemType
	target      string
	running     bool
	message     string
	result      *api.PredictResponse
}

func NewPredictions(backend PredictionsBackend) *Predictions {
	return &Predictions{backend: backend}
}

func (p *Predictions) ListModels(ctx context.Context) error {
	tok, ctx, cancel := p.Begin(ctx)
	defer cancel()

	models, err := p.backend.ListModels(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Current(tok) {
		return ErrStale
	}
	if err != nil {
		p.message = userMessage(err, errorMessages{
			transport:   "Error fetching saved models.",
			application: "Failed to fetch saved models.",
			parse:       "The list of saved models could not be read.",
		})
		return err
	}

	p.models = models
	if p.selected != "" && !slices.Contains(models, p.selected) {
		p.selected = ""
	}
	return nil
}

// Select picks the saved model to run along with the parameters it was
// trained with.
func (p *Predictions) Select(model string, problemType api.ProblemType, target string) error {
	if _, err := api.ParseProblemType(string(problemType)); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrBusy
	}
	if !slices.Contains(p.models, model) {
		return ErrNotConfigured
	}
	p.selected = model
	p.problemType = problemType
	p.target = target
	return nil
}

func (p *Predictions) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrBusy
	}
	if p.selected == "" {
		p.mu.Unlock()
		return ErrNotConfigured
	}
	tok, ctx, cancel := p.Begin(ctx)
	defer cancel()
	req := api.PredictRequest{ModelName: p.selected, ProblemType: p.problemType, TargetColumn: p.target}
	p.running = true
	p.message = ""
	p.result = nil
	p.mu.Unlock()

	res, err := p.backend.RunPredictions(ctx, req)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Current(tok) {
		slog.Info("discarding prediction result for page no longer displayed", "model", req.ModelName)
		return ErrStale
	}
	p.running = false

	if err != nil {
		p.message = userMessage(err, predictMessages)
		return err
	}
	p.result = &res
	p.message = res.Message
	return nil
}

func (p *Predictions) View() PredictionsView {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := PredictionsView{
		Models:      slices.Clone(p.models),
		Selected:    p.selected,
		ProblemType: p.problemType,
		Target:      p.target,
		Running:     p.running,
		RunEnabled:  !p.running && p.selected != "",
		Message:     p.message,
	}
	if p.result != nil {
		v.Result = predictionView(p.backend, *p.result)
	}
	return v
}
