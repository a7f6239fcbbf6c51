package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Types below are served by the console, not by the training server.

type PageResponse struct {
	SessionId uuid.UUID `json:"session_id"`
	Route     string    `json:"route"`
	Page      string    `json:"page"`
	View      any       `json:"view"`
}

type SelectFileRequest struct {
	Filename string `json:"filename"`
}

type ToggleColumnRequest struct {
	Column string `json:"column"`
}

type NullActionRequest struct {
	Action NullAction `json:"action"`
}

type ModelSelectionParams struct {
	ProblemType  string `schema:"problem_type"`
	TargetColumn string `schema:"target_column"`
	ModelName    string `schema:"model_name"`
}

type StartWorkflowRequest struct {
	ProblemType  ProblemType `json:"problem_type"`
	TargetColumn string      `json:"target_column"`
	ModelName    string      `json:"model_name"`
}

type Run struct {
	Id             uuid.UUID       `json:"id"`
	TargetColumn   string          `json:"target_column"`
	ProblemType    ProblemType     `json:"problem_type"`
	ModelName      string          `json:"model_name"`
	ProcessedFile  string          `json:"processed_file,omitempty"`
	Status         string          `json:"status"`
	Error          string          `json:"error,omitempty"`
	Results        json.RawMessage `json:"results,omitempty"`
	CSVURL         string          `json:"csv_url,omitempty"`
	CreationTime   time.Time       `json:"creation_time"`
	CompletionTime *time.Time      `json:"completion_time,omitempty"`
}
