package services

import (
	"context"
	"errors"
	"fmt"

	"qbanksync/logger"
	"qbanksync/models"

	"gorm.io/gorm"
)

// VersionLinker makes variant copies of the same seed share one lineage across
// edits of their base question.
type VersionLinker struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVersionLinker(db *gorm.DB, log *logger.Logger) *VersionLinker {
	return &VersionLinker{db: db, log: log.With("component", "VersionLinker")}
}

type LinkRequest struct {
	BaseQuestionID    uint
	VariantQuestionID uint
	Version           int
	Seed              int64
}

type LinkResult struct {
	QuestionBankEntryID uint `json:"question_bank_entry_id"`
	Version             int  `json:"version"`
	// Merged is set when the variant joined an existing lineage.
	Merged bool `json:"merged"`
}

// Link stamps the base version onto the variant and, when an earlier version of
// the base already has a variant for the same seed value, moves the variant
// into that lineage and drops the one created by the import.
func (v *VersionLinker) Link(ctx context.Context, req LinkRequest) (*LinkResult, error) {
	result := &LinkResult{Version: req.Version}
	err := v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.QuestionVersion
		if err := tx.Where("question_id = ?", req.VariantQuestionID).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("variant %d: %w", req.VariantQuestionID, ErrQuestionNotFound)
			}
			return err
		}

		entryID, err := v.siblingLineage(tx, req)
		if err != nil {
			return err
		}

		record.Version = req.Version
		if entryID == 0 || entryID == record.QuestionBankEntryID {
			result.QuestionBankEntryID = record.QuestionBankEntryID
			return tx.Save(&record).Error
		}

		if err := tx.Delete(&models.QuestionBankEntry{}, record.QuestionBankEntryID).Error; err != nil {
			return err
		}
		record.QuestionBankEntryID = entryID
		result.QuestionBankEntryID = entryID
		result.Merged = true
		return tx.Save(&record).Error
	})
	if err != nil {
		return nil, err
	}

	v.log.Debug("Variant linked",
		"variant_question_id", req.VariantQuestionID,
		"question_bank_entry_id", result.QuestionBankEntryID,
		"version", result.Version,
		"merged", result.Merged,
	)
	return result, nil
}

// siblingLineage finds the lineage of a variant made for the same seed value
// from another version of the base question. It returns 0 when there is none.
func (v *VersionLinker) siblingLineage(tx *gorm.DB, req LinkRequest) (uint, error) {
	baseLineage := tx.Model(&models.QuestionVersion{}).
		Select("question_bank_entry_id").
		Where("question_id = ?", req.BaseQuestionID)

	otherVersions := tx.Model(&models.QuestionVersion{}).
		Select("question_id").
		Where("question_bank_entry_id IN (?) AND version <> ?", baseLineage, req.Version)

	siblingVariants := tx.Table("sync_copies AS sc").
		Select("sc.variant_question_id").
		Joins("JOIN deployed_seeds s ON sc.seed_id = s.id").
		Where("sc.question_id IN (?) AND s.seed = ? AND sc.variant_question_id <> ?",
			otherVersions, req.Seed, models.PlaceholderVariantID)

	var entryIDs []uint
	err := tx.Model(&models.QuestionVersion{}).
		Where("question_id IN (?) AND question_id <> ?", siblingVariants, req.VariantQuestionID).
		Group("question_bank_entry_id").
		Order("question_bank_entry_id").
		Pluck("question_bank_entry_id", &entryIDs).Error
	if err != nil {
		return 0, err
	}
	if len(entryIDs) == 0 {
		return 0, nil
	}
	return entryIDs[0], nil
}
