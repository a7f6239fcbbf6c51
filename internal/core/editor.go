package core

import (
	"context"
	"fmt"
	"forecastica/internal/session"
	"forecastica/pkg/api"
	"log/slog"
	"sync"
)

type EditorBackend interface {
	CurrentData(ctx context.Context) (api.TableData, error)
	RemoveColumns(ctx context.Context, req api.RemoveColumnsRequest) (api.EditResponse, error)
	HandleNulls(ctx context.Context, req api.HandleNullsRequest) (api.EditResponse, error)
}

type EditorView struct {
	Columns  []string  `json:"columns"`
	Rows     []api.Row `json:"rows"`
	RowCount int       `json:"row_count"`
	Selected []string  `json:"selected"`
	Busy     bool      `json:"busy"`
	Message  string    `json:"message,omitempty"`

	NullCounts []NullCount `json:"null_counts"`

	RemoveColumnsEnabled bool `json:"remove_columns_enabled"`
	RemoveRowsEnabled    bool `json:"remove_rows_enabled"`
	FillMeanEnabled      bool `json:"fill_mean_enabled"`
	FillModeEnabled      bool `json:"fill_mode_enabled"`
}

// Editor is the data analysis page. It mutates the dataset held by the server
// and only ever shows what the server returned; nothing is applied locally.
type Editor struct {
	Lifetime

	backend EditorBackend
	session *session.Session
	rowCap  int

	mu       sync.Mutex
	data     api.TableData
	selected map[string]struct{}
	busy     bool
	message  string
}

func NewEditor(backend EditorBackend, sess *session.Session, rowCap int) *Editor {
	return &Editor{backend: backend, session: sess, rowCap: rowCap, selected: make(map[string]struct{})}
}

func (e *Editor) View() EditorView {
	e.mu.Lock()
	defer e.mu.Unlock()

	selected := e.selectedLocked()
	return EditorView{
		Columns:  e.data.Columns(),
		Rows:     e.data.Rows(e.rowCap),
		RowCount: e.data.RowCount(),
		Selected: selected,
		Busy:     e.busy,
		Message:  e.message,

		NullCounts: e.nullCountsLocked(),

		RemoveColumnsEnabled: !e.busy && len(selected) > 0,
		FillModeEnabled:      !e.busy && len(selected) > 0,
		RemoveRowsEnabled:    !e.busy && len(e.data.Columns()) > 0,
		FillMeanEnabled:      !e.busy && len(e.data.Columns()) > 0,
	}
}

// nullCountsLocked counts missing cells of the whole dataset held by the
// page, not just the rendered rows.
func (e *Editor) nullCountsLocked() []NullCount {
	columns := e.data.Columns()
	out := make([]NullCount, 0, len(columns))
	for _, c := range columns {
		n := 0
		for _, v := range e.data.Column(c) {
			if v == nil {
				n++
			}
		}
		out = append(out, NullCount{Column: c, Count: n, Attention: n > 0})
	}
	return out
}

// Selected returns the selected columns in table order.
func (e *Editor) Selected() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectedLocked()
}

func (e *Editor) selectedLocked() []string {
	out := make([]string, 0, len(e.selected))
	for _, c := range e.data.Columns() {
		if _, ok := e.selected[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (e *Editor) Toggle(column string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.data.HasColumn(column) {
		return fmt.Errorf("%w: '%s'", ErrUnknownColumn, column)
	}

	if _, ok := e.selected[column]; ok {
		delete(e.selected, column)
	} else {
		e.selected[column] = struct{}{}
	}
	return nil
}

func (e *Editor) Load(ctx context.Context) error {
	return e.edit(ctx, func(ctx context.Context) (api.EditResponse, error) {
		data, err := e.backend.CurrentData(ctx)
		return api.EditResponse{Data: data}, err
	}, editOutcome{
		messages: errorMessages{
			transport:   "Error fetching data.",
			application: "No data available.",
			parse:       "The dataset returned by the server could not be read.",
		},
	})
}

func (e *Editor) RemoveSelected(ctx context.Context) error {
	columns := e.Selected()
	if len(columns) == 0 {
		return ErrEmptySelection
	}

	return e.edit(ctx, func(ctx context.Context) (api.EditResponse, error) {
		return e.backend.RemoveColumns(ctx, e.session.RemoveColumnsRequest(columns))
	}, editOutcome{
		success:        "Columns removed successfully",
		clearSelection: true,
		messages: errorMessages{
			transport:   "Error removing columns.",
			application: "Failed to remove columns.",
			parse:       "Columns were removed but the server response could not be read.",
		},
	})
}

// ApplyNullAction applies action to the selected columns. Removing rows and
// filling with the mean are allowed with an empty selection, in which case
// the server applies them to the whole dataset.
func (e *Editor) ApplyNullAction(ctx context.Context, action api.NullAction) error {
	if _, err := api.ParseNullAction(string(action)); err != nil {
		return err
	}

	columns := e.Selected()
	if action == api.NullFillMode && len(columns) == 0 {
		return ErrEmptySelection
	}

	return e.edit(ctx, func(ctx context.Context) (api.EditResponse, error) {
		return e.backend.HandleNulls(ctx, e.session.HandleNullsRequest(columns, action))
	}, editOutcome{
		success: fmt.Sprintf("Null values handled with %s", action),
		messages: errorMessages{
			transport:   "Error handling null values.",
			application: "Failed to handle null values.",
			parse:       "Null values were handled but the server response could not be read.",
		},
	})
}

type editOutcome struct {
	success        string
	clearSelection bool
	messages       errorMessages
}

func (e *Editor) edit(ctx context.Context, send func(context.Context) (api.EditResponse, error), outcome editOutcome) error {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return ErrBusy
	}
	tok, ctx, cancel := e.Begin(ctx)
	defer cancel()
	e.busy = true
	e.mu.Unlock()

	res, err := send(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.Current(tok) {
		slog.Info("discarding dataset edit result for page no longer displayed")
		return ErrStale
	}
	e.busy = false

	if err != nil {
		e.message = userMessage(err, outcome.messages)
		return err
	}

	e.data = res.Data
	if outcome.clearSelection {
		clear(e.selected)
	}
	for c := range e.selected {
		if !e.data.HasColumn(c) {
			delete(e.selected, c)
		}
	}

	e.message = res.Message
	if e.message == "" {
		e.message = outcome.success
	}

	e.session.SetCurrentFile(context.WithoutCancel(ctx), res.ProcessedFile)
	return nil
}
