package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Session struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	SourceFile  string
	CurrentFile string

	CreationTime time.Time
	LastAccessed time.Time

	Runs []WorkflowRun `gorm:"foreignKey:SessionId;constraint:OnDelete:CASCADE"`
}

const (
	RunTraining   string = "TRAINING"
	RunTrained    string = "TRAINED"
	RunPredicting string = "PREDICTING"
	RunCompleted  string = "COMPLETED"
	RunFailed     string = "FAILED"
)

type WorkflowRun struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionId uuid.UUID `gorm:"type:uuid;index"`

	TargetColumn  string `gorm:"not null"`
	ProblemType   string `gorm:"size:20;not null"`
	ModelName     string
	ProcessedFile string

	Status string `gorm:"size:20;not null"`
	Error  string

	Metrics datatypes.JSON
	CSVURL  string

	CreationTime   time.Time
	CompletionTime sql.NullTime
}
