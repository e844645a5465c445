package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatchRunsEveryObserver(t *testing.T) {
	d := NewEventDispatcher(nopLogger())
	var calls []string
	first := errors.New("first")

	d.Subscribe(EventQuestionCreated, func(ctx context.Context, e QuestionEvent) error {
		calls = append(calls, "a")
		return first
	})
	d.Subscribe(EventQuestionCreated, func(ctx context.Context, e QuestionEvent) error {
		calls = append(calls, "b")
		return errors.New("second")
	})
	d.Subscribe(EventQuestionDeleted, func(ctx context.Context, e QuestionEvent) error {
		calls = append(calls, "deleted")
		return nil
	})

	err := d.Dispatch(context.Background(), QuestionEvent{Name: EventQuestionCreated, QuestionID: 1})
	assert.Equal(t, first, err)
	assert.Equal(t, []string{"a", "b"}, calls)

	assert.NoError(t, d.Dispatch(context.Background(), QuestionEvent{Name: EventQuestionUpdated}))
}

func TestDispatchAllowsNestedEvents(t *testing.T) {
	d := NewEventDispatcher(nopLogger())
	var seen []uint
	d.Subscribe(EventQuestionCreated, func(ctx context.Context, e QuestionEvent) error {
		seen = append(seen, e.QuestionID)
		if e.QuestionID == 1 {
			return d.Dispatch(ctx, QuestionEvent{Name: EventQuestionCreated, QuestionID: 2})
		}
		return nil
	})

	assert.NoError(t, d.Dispatch(context.Background(), QuestionEvent{Name: EventQuestionCreated, QuestionID: 1}))
	assert.Equal(t, []uint{1, 2}, seen)
}
