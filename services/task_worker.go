package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"qbanksync/logger"
)

type TaskHandler interface {
	Run(ctx context.Context, task *Task) error
}

type TaskHandlerFunc func(ctx context.Context, task *Task) error

func (f TaskHandlerFunc) Run(ctx context.Context, task *Task) error { return f(ctx, task) }

// TaskWorker polls the queue and runs due tasks through their registered
// handler.
type TaskWorker struct {
	queue    TaskQueue
	log      *logger.Logger
	interval time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	handlers map[string]TaskHandler
}

func NewTaskWorker(queue TaskQueue, interval time.Duration, baseLog *logger.Logger) *TaskWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &TaskWorker{
		queue:    queue,
		log:      baseLog.With("component", "TaskWorker"),
		interval: interval,
		now:      time.Now,
		handlers: make(map[string]TaskHandler),
	}
}

func (w *TaskWorker) Register(taskType string, h TaskHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[taskType] = h
}

// Start polls until ctx is cancelled.
func (w *TaskWorker) Start(ctx context.Context) {
	w.log.Info("Starting task worker", "interval", w.interval.String())
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Task worker stopped")
			return
		case <-ticker.C:
			if _, err := w.RunDue(ctx); err != nil {
				w.log.Warn("Task pass failed", "error", err)
			}
		}
	}
}

// RunDue runs every task that is due now and returns how many ran.
func (w *TaskWorker) RunDue(ctx context.Context) (int, error) {
	ran := 0
	for {
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		task, err := w.queue.ClaimDue(ctx, w.now())
		if err != nil {
			return ran, err
		}
		if task == nil {
			return ran, nil
		}
		ran++
		w.runOne(ctx, task)
	}
}

func (w *TaskWorker) runOne(ctx context.Context, task *Task) {
	w.mu.RLock()
	h, ok := w.handlers[task.Type]
	w.mu.RUnlock()

	if !ok {
		w.log.Warn("No handler registered for task type", "task_type", task.Type, "task_id", task.ID)
		w.fail(ctx, task, fmt.Errorf("no handler registered for task type %s", task.Type))
		return
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Task handler panic", "task_id", task.ID, "task_type", task.Type, "panic", r)
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		runErr = h.Run(ctx, task)
	}()

	if runErr != nil {
		w.log.Error("Task failed", "task_id", task.ID, "task_type", task.Type, "error", runErr)
		w.fail(ctx, task, runErr)
		return
	}
	tasksRun.WithLabelValues(task.Type, "ok").Inc()
	if err := w.queue.Complete(ctx, task); err != nil {
		w.log.Warn("Failed to mark task complete", "task_id", task.ID, "error", err)
	}
}

func (w *TaskWorker) fail(ctx context.Context, task *Task, cause error) {
	tasksRun.WithLabelValues(task.Type, "failed").Inc()
	if err := w.queue.Fail(ctx, task, cause); err != nil {
		w.log.Warn("Failed to mark task failed", "task_id", task.ID, "error", err)
	}
}
