package services

import (
	"context"
	"sync"

	"qbanksync/logger"
)

type EventName string

const (
	EventQuestionCreated EventName = "question_created"
	EventQuestionUpdated EventName = "question_updated"
	EventQuestionDeleted EventName = "question_deleted"
)

// QuestionEvent is a question lifecycle notification.
type QuestionEvent struct {
	Name       EventName `json:"name"`
	QuestionID uint      `json:"question_id"`
	ContextID  uint      `json:"context_id"`
	ActorID    uint      `json:"actor_id"`
}

type Observer func(ctx context.Context, event QuestionEvent) error

// EventDispatcher delivers events to observers synchronously, in
// registration order. Observers may trigger further events.
type EventDispatcher struct {
	mu        sync.RWMutex
	observers map[EventName][]Observer
	log       *logger.Logger
}

func NewEventDispatcher(log *logger.Logger) *EventDispatcher {
	return &EventDispatcher{
		observers: make(map[EventName][]Observer),
		log:       log.With("component", "EventDispatcher"),
	}
}

func (d *EventDispatcher) Subscribe(name EventName, observer Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers[name] = append(d.observers[name], observer)
}

// Dispatch runs every observer for the event and returns the first error.
// Later observers still run after an earlier one fails.
func (d *EventDispatcher) Dispatch(ctx context.Context, event QuestionEvent) error {
	d.mu.RLock()
	observers := append([]Observer(nil), d.observers[event.Name]...)
	d.mu.RUnlock()

	var firstErr error
	for _, observer := range observers {
		if err := observer(ctx, event); err != nil {
			d.log.Error("Observer failed", "event", event.Name, "question_id", event.QuestionID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
