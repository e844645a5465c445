package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TaskStatusQueued  = "queued"
	TaskStatusRunning = "running"
	TaskStatusDone    = "done"
	TaskStatusFailed  = "failed"
)

type AdhocTask struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Type      string         `json:"type" gorm:"not null;index"`
	Payload   datatypes.JSON `json:"payload"`
	NextRunAt time.Time      `json:"next_run_at" gorm:"not null;index"`
	Status    string         `json:"status" gorm:"not null;default:'queued';index"`
	Attempts  int            `json:"attempts" gorm:"not null;default:0"`
	LastError string         `json:"last_error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (AdhocTask) TableName() string { return "adhoc_tasks" }
