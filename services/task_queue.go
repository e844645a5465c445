package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"qbanksync/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Task is a unit of delayed work.
type Task struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	RunAt    time.Time       `json:"run_at"`
	Attempts int             `json:"attempts"`
}

// TaskQueue stores delayed tasks until they are due. Tasks are not retried:
// a failed task stays failed.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, payload interface{}, runAt time.Time) (string, error)
	// ClaimDue hands out one task whose run time has passed, or nil.
	ClaimDue(ctx context.Context, now time.Time) (*Task, error)
	Complete(ctx context.Context, task *Task) error
	Fail(ctx context.Context, task *Task, cause error) error
	Pending(ctx context.Context) (int64, error)
}

// DBTaskQueue keeps tasks in the adhoc_tasks table.
type DBTaskQueue struct {
	db *gorm.DB
}

func NewDBTaskQueue(db *gorm.DB) *DBTaskQueue {
	return &DBTaskQueue{db: db}
}

func (q *DBTaskQueue) Enqueue(ctx context.Context, taskType string, payload interface{}, runAt time.Time) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task payload: %w", err)
	}
	task := models.AdhocTask{
		Type:      taskType,
		Payload:   datatypes.JSON(data),
		NextRunAt: runAt.UTC(),
		Status:    models.TaskStatusQueued,
	}
	if err := q.db.WithContext(ctx).Create(&task).Error; err != nil {
		return "", err
	}
	return strconv.FormatUint(uint64(task.ID), 10), nil
}

func (q *DBTaskQueue) ClaimDue(ctx context.Context, now time.Time) (*Task, error) {
	var claimed *Task
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("status = ? AND next_run_at <= ?", models.TaskStatusQueued, now.UTC()).
			Order("next_run_at ASC, id ASC")
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var row models.AdhocTask
		err := query.First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		res := tx.Model(&models.AdhocTask{}).
			Where("id = ? AND status = ?", row.ID, models.TaskStatusQueued).
			Updates(map[string]interface{}{
				"status":     models.TaskStatusRunning,
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		claimed = &Task{
			ID:       strconv.FormatUint(uint64(row.ID), 10),
			Type:     row.Type,
			Payload:  json.RawMessage(row.Payload),
			RunAt:    row.NextRunAt,
			Attempts: row.Attempts + 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (q *DBTaskQueue) Complete(ctx context.Context, task *Task) error {
	return q.setStatus(ctx, task, models.TaskStatusDone, "")
}

func (q *DBTaskQueue) Fail(ctx context.Context, task *Task, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.setStatus(ctx, task, models.TaskStatusFailed, msg)
}

func (q *DBTaskQueue) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&models.AdhocTask{}).
		Where("status = ?", models.TaskStatusQueued).
		Count(&n).Error
	return n, err
}

func (q *DBTaskQueue) setStatus(ctx context.Context, task *Task, status, lastError string) error {
	id, err := strconv.ParseUint(task.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid task id %q: %w", task.ID, err)
	}
	return q.db.WithContext(ctx).Model(&models.AdhocTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"last_error": lastError,
			"updated_at": time.Now().UTC(),
		}).Error
}
