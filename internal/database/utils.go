package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"forecastica/internal/session"
	"forecastica/pkg/api"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionStore persists the per-session current file pointer so a console
// restart does not lose track of the dataset a browser was working on.
type SessionStore struct {
	db *gorm.DB
}

var _ session.Store = (*SessionStore)(nil)

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) LoadSession(ctx context.Context, id uuid.UUID) (session.Snapshot, bool, error) {
	var row Session
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return session.Snapshot{}, false, nil
	}
	if err != nil {
		return session.Snapshot{}, false, fmt.Errorf("error loading session %s: %w", id, err)
	}

	return session.Snapshot{Id: row.Id, SourceFile: row.SourceFile, CurrentFile: row.CurrentFile}, true, nil
}

func (s *SessionStore) SaveSession(ctx context.Context, snap session.Snapshot) error {
	now := time.Now().UTC()
	row := Session{Id: snap.Id, CreationTime: now}

	err := s.db.WithContext(ctx).
		Where(Session{Id: snap.Id}).
		Assign(map[string]any{
			"source_file":   snap.SourceFile,
			"current_file":  snap.CurrentFile,
			"last_accessed": now,
		}).
		FirstOrCreate(&row).Error
	if err != nil {
		slog.Error("error saving session", "session_id", snap.Id, "error", err)
		return fmt.Errorf("error saving session %s: %w", snap.Id, err)
	}
	return nil
}

// RunStore records every train/predict run started from the console.
type RunStore struct {
	db *gorm.DB
}

func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

func (s *RunStore) StartRun(ctx context.Context, sessionId uuid.UUID, req api.TrainRequest, modelName string) (uuid.UUID, error) {
	run := WorkflowRun{
		Id:            uuid.New(),
		SessionId:     sessionId,
		TargetColumn:  req.TargetColumn,
		ProblemType:   string(req.ProblemType),
		ModelName:     modelName,
		ProcessedFile: req.ProcessedFile,
		Status:        RunTraining,
		CreationTime:  time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return uuid.Nil, fmt.Errorf("error creating workflow run: %w", err)
	}
	return run.Id, nil
}

func (s *RunStore) SaveTrainResults(ctx context.Context, runId uuid.UUID, res api.TrainResponse) error {
	metrics, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("error serializing training results: %w", err)
	}

	return s.update(ctx, runId, map[string]any{"status": RunTrained, "metrics": datatypes.JSON(metrics)})
}

func (s *RunStore) StartPrediction(ctx context.Context, runId uuid.UUID) error {
	return s.update(ctx, runId, map[string]any{"status": RunPredicting})
}

func (s *RunStore) CompleteRun(ctx context.Context, runId uuid.UUID, res api.PredictResponse) error {
	return s.update(ctx, runId, map[string]any{
		"status":          RunCompleted,
		"csv_url":         res.CSVURL.String(),
		"completion_time": sql.NullTime{Time: time.Now().UTC(), Valid: true},
	})
}

func (s *RunStore) FailRun(ctx context.Context, runId uuid.UUID, message string) error {
	return s.update(ctx, runId, map[string]any{
		"status":          RunFailed,
		"error":           message,
		"completion_time": sql.NullTime{Time: time.Now().UTC(), Valid: true},
	})
}

func (s *RunStore) update(ctx context.Context, runId uuid.UUID, updates map[string]any) error {
	if err := s.db.WithContext(ctx).Model(&WorkflowRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating workflow run", "run_id", runId, "error", err)
		return err
	}
	return nil
}

func (s *RunStore) ListRuns(ctx context.Context, sessionId uuid.UUID) ([]WorkflowRun, error) {
	var runs []WorkflowRun
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionId).
		Order("creation_time DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing workflow runs: %w", err)
	}
	return runs, nil
}
