package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"qbanksync/logger"
	"qbanksync/models"

	"gorm.io/gorm"
)

const TaskTypeAddQuestionTag = "add_question_tag"

var crossReferenceTag = regexp.MustCompile(`^id[0-9]+$`)

// TagCorrection is the payload of an add_question_tag task.
type TagCorrection struct {
	QuestionID          uint `json:"question_id"`
	QuestionBankEntryID uint `json:"question_bank_entry_id"`
	ContextID           uint `json:"context_id"`
}

func crossReferenceName(bankEntryID uint) string {
	return fmt.Sprintf("id%d", bankEntryID)
}

// TagCorrector re-applies the id<N> cross-reference tag on a question some time
// after a copy was made, once the bank has settled its own tag writes.
type TagCorrector struct {
	db    *gorm.DB
	tags  *TagService
	queue TaskQueue
	delay time.Duration
	log   *logger.Logger
	now   func() time.Time
}

func NewTagCorrector(db *gorm.DB, tags *TagService, queue TaskQueue, delay time.Duration, log *logger.Logger) *TagCorrector {
	return &TagCorrector{
		db:    db,
		tags:  tags,
		queue: queue,
		delay: delay,
		log:   log.With("component", "TagCorrector"),
		now:   time.Now,
	}
}

// Schedule enqueues a correction to run after the configured delay.
func (c *TagCorrector) Schedule(ctx context.Context, payload TagCorrection) (string, error) {
	runAt := c.now().Add(c.delay)
	id, err := c.queue.Enqueue(ctx, TaskTypeAddQuestionTag, payload, runAt)
	if err != nil {
		return "", fmt.Errorf("enqueue tag correction for question %d: %w", payload.QuestionID, err)
	}
	c.log.Debug("Tag correction scheduled", "task_id", id, "question_id", payload.QuestionID, "run_at", runAt)
	return id, nil
}

// Correct drops every id<N> tag of the question and adds the one named by the
// payload. Running it twice leaves a single tag. A question that no longer
// exists yields ErrQuestionNotFound.
func (c *TagCorrector) Correct(ctx context.Context, payload TagCorrection) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return c.apply(ctx, tx, payload)
	})
}

func (c *TagCorrector) apply(ctx context.Context, tx *gorm.DB, payload TagCorrection) error {
	var n int64
	if err := tx.Model(&models.Question{}).Where("id = ?", payload.QuestionID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrQuestionNotFound, payload.QuestionID)
	}

	current, err := c.tags.ItemTags(ctx, tx, payload.QuestionID)
	if err != nil {
		return err
	}
	var stale []uint
	for _, t := range current {
		if crossReferenceTag.MatchString(t.DisplayName()) {
			stale = append(stale, t.InstanceID)
		}
	}
	if err := c.tags.DeleteInstancesByID(ctx, tx, stale); err != nil {
		return err
	}
	_, err = c.tags.AddItemTag(ctx, tx, payload.QuestionID, payload.ContextID, crossReferenceName(payload.QuestionBankEntryID))
	return err
}

// Run implements TaskHandler.
func (c *TagCorrector) Run(ctx context.Context, task *Task) error {
	var payload TagCorrection
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", TaskTypeAddQuestionTag, err)
	}
	err := c.Correct(ctx, payload)
	if errors.Is(err, ErrQuestionNotFound) {
		c.log.Info("Question gone, skipping tag correction", "question_id", payload.QuestionID)
		return nil
	}
	if err != nil {
		return err
	}
	c.log.Info("Cross-reference tag applied",
		"question_id", payload.QuestionID,
		"tag", crossReferenceName(payload.QuestionBankEntryID),
	)
	return nil
}
