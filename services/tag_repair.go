package services

import (
	"context"
	"errors"
)

type TagRepair struct {
	QuestionID          uint   `json:"question_id"`
	QuestionBankEntryID uint   `json:"question_bank_entry_id"`
	Tag                 string `json:"tag"`
}

type FixTagsResult struct {
	Repaired []TagRepair `json:"repaired"`
	// Skipped lists ledger entries whose base question is gone.
	Skipped []uint `json:"skipped"`
}

// FixTags re-applies the id<N> tag on both sides of every ledger entry, N
// being the lineage of the base question. It is the batch repair for ledgers
// written before tags pointed at lineages.
func (s *SyncService) FixTags(ctx context.Context) (*FixTagsResult, error) {
	entries, err := s.ledger.All(ctx)
	if err != nil {
		return nil, err
	}

	result := &FixTagsResult{}
	for _, entry := range entries {
		version, err := s.bank.VersionOf(ctx, entry.QuestionID)
		if errors.Is(err, ErrQuestionNotFound) {
			result.Skipped = append(result.Skipped, entry.ID)
			continue
		}
		if err != nil {
			return result, err
		}

		targets := []uint{entry.QuestionID}
		if entry.Resolved() {
			targets = append(targets, entry.VariantQuestionID)
		}
		for _, questionID := range targets {
			repaired, err := s.fixTag(ctx, questionID, version.QuestionBankEntryID)
			if errors.Is(err, ErrQuestionNotFound) {
				continue
			}
			if err != nil {
				return result, err
			}
			result.Repaired = append(result.Repaired, *repaired)
		}
	}

	s.log.Info("Cross-reference tags repaired", "questions", len(result.Repaired), "skipped", len(result.Skipped))
	s.publish(SyncEventTagsCorrected, result)
	return result, nil
}

func (s *SyncService) fixTag(ctx context.Context, questionID, bankEntryID uint) (*TagRepair, error) {
	question, err := s.bank.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	s.log.Debug("Fixing tag", "question_id", questionID, "tag", crossReferenceName(bankEntryID))
	if err := s.corrector.Correct(ctx, TagCorrection{
		QuestionID:          questionID,
		QuestionBankEntryID: bankEntryID,
		ContextID:           question.Category.ContextID,
	}); err != nil {
		return nil, err
	}
	return &TagRepair{
		QuestionID:          questionID,
		QuestionBankEntryID: bankEntryID,
		Tag:                 crossReferenceName(bankEntryID),
	}, nil
}
