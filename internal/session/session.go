package session

import (
	"context"
	"forecastica/pkg/api"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type Snapshot struct {
	Id          uuid.UUID
	SourceFile  string
	CurrentFile string
}

type Store interface {
	LoadSession(ctx context.Context, id uuid.UUID) (Snapshot, bool, error)
	SaveSession(ctx context.Context, snap Snapshot) error
}

// Session correlates requests from one browser/terminal with the dataset the
// server holds for it. It is passed explicitly to every request builder.
type Session struct {
	ID uuid.UUID

	mu          sync.Mutex
	sourceFile  string
	currentFile string
	store       Store
}

func New() *Session {
	return &Session{ID: uuid.New()}
}

func FromSnapshot(snap Snapshot, store Store) *Session {
	return &Session{ID: snap.Id, sourceFile: snap.SourceFile, currentFile: snap.CurrentFile, store: store}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Id: s.ID, SourceFile: s.sourceFile, CurrentFile: s.currentFile}
}

// CurrentFile is the token of the dataset version the server last produced
// for this session: the uploaded file, or the processed file written by the
// latest edit.
func (s *Session) CurrentFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentFile
}

func (s *Session) SourceFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceFile
}

// SetSourceFile records a freshly uploaded file. It also becomes the current
// file until an edit produces a processed version.
func (s *Session) SetSourceFile(ctx context.Context, filename string) {
	s.mu.Lock()
	s.sourceFile = filename
	s.currentFile = filename
	s.mu.Unlock()
	s.persist(ctx)
}

func (s *Session) SetCurrentFile(ctx context.Context, filename string) {
	if filename == "" {
		return
	}
	s.mu.Lock()
	s.currentFile = filename
	s.mu.Unlock()
	s.persist(ctx)
}

func (s *Session) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveSession(ctx, s.Snapshot()); err != nil {
		slog.Error("error persisting session", "session_id", s.ID, "error", err)
	}
}

func (s *Session) RemoveColumnsRequest(columns []string) api.RemoveColumnsRequest {
	return api.RemoveColumnsRequest{Columns: columns, Filename: s.SourceFile()}
}

func (s *Session) HandleNullsRequest(columns []string, action api.NullAction) api.HandleNullsRequest {
	return api.HandleNullsRequest{Columns: columns, Action: action, Filename: s.SourceFile()}
}

func (s *Session) TrainRequest(target string, problemType api.ProblemType) api.TrainRequest {
	return api.TrainRequest{TargetColumn: target, ProblemType: problemType, ProcessedFile: s.CurrentFile()}
}
