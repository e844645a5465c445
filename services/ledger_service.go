package services

import (
	"context"
	"errors"
	"strings"

	"qbanksync/models"

	"gorm.io/gorm"
)

const SyncCopyTag = "synccopy"

// LedgerService is the copy ledger: which variant question covers which
// deployed seed of which base question.
type LedgerService struct {
	db *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db}
}

// BySeed returns the ledger entry for a seed, or nil when there is none.
func (l *LedgerService) BySeed(ctx context.Context, seedID uint) (*models.SyncCopy, error) {
	var entry models.SyncCopy
	err := l.db.WithContext(ctx).Where("seed_id = ?", seedID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Claim inserts a placeholder entry for a seed. A concurrent claim that got
// there first yields ErrSeedClaimed.
func (l *LedgerService) Claim(ctx context.Context, questionID, seedID uint) (*models.SyncCopy, error) {
	entry := models.SyncCopy{
		QuestionID:        questionID,
		SeedID:            seedID,
		VariantQuestionID: models.PlaceholderVariantID,
	}
	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSeedClaimed
		}
		return nil, err
	}
	return &entry, nil
}

// Commit fills in the variant question of a claimed entry.
func (l *LedgerService) Commit(ctx context.Context, entryID, variantQuestionID uint) error {
	return l.db.WithContext(ctx).
		Model(&models.SyncCopy{}).
		Where("id = ?", entryID).
		Update("variant_question_id", variantQuestionID).Error
}

// Release drops a claim whose clone failed.
func (l *LedgerService) Release(ctx context.Context, entryID uint) error {
	return l.db.WithContext(ctx).Delete(&models.SyncCopy{}, entryID).Error
}

func (l *LedgerService) All(ctx context.Context) ([]models.SyncCopy, error) {
	var entries []models.SyncCopy
	err := l.db.WithContext(ctx).Order("id").Find(&entries).Error
	return entries, err
}

func (l *LedgerService) ByQuestion(ctx context.Context, questionID uint) ([]models.SyncCopy, error) {
	var entries []models.SyncCopy
	err := l.db.WithContext(ctx).Where("question_id = ?", questionID).Order("id").Find(&entries).Error
	return entries, err
}

// VariantIDs returns the resolved variant questions of a base question.
func (l *LedgerService) VariantIDs(ctx context.Context, questionID uint) ([]uint, error) {
	var ids []uint
	err := l.db.WithContext(ctx).
		Model(&models.SyncCopy{}).
		Where("question_id = ? AND variant_question_id <> ?", questionID, models.PlaceholderVariantID).
		Order("id").
		Pluck("variant_question_id", &ids).Error
	return ids, err
}

func (l *LedgerService) DeleteByQuestion(ctx context.Context, questionID uint) (int64, error) {
	res := l.db.WithContext(ctx).Where("question_id = ?", questionID).Delete(&models.SyncCopy{})
	return res.RowsAffected, res.Error
}

func (l *LedgerService) DeleteByVariant(ctx context.Context, variantQuestionID uint) (int64, error) {
	if variantQuestionID == models.PlaceholderVariantID {
		return 0, nil
	}
	res := l.db.WithContext(ctx).Where("variant_question_id = ?", variantQuestionID).Delete(&models.SyncCopy{})
	return res.RowsAffected, res.Error
}

// MissingSeedIDs lists deployed seeds that have no ledger entry and do not
// belong to a variant copy themselves.
func (l *LedgerService) MissingSeedIDs(ctx context.Context) ([]uint, error) {
	db := l.db.WithContext(ctx)
	claimed := db.Model(&models.SyncCopy{}).Select("seed_id")
	variants := db.Model(&models.SyncCopy{}).Select("variant_question_id")
	tagged := db.Table("tag_instances AS ti").
		Select("ti.item_id").
		Joins("JOIN tags t ON t.id = ti.tag_id").
		Where("t.name = ? AND ti.component = ? AND ti.item_type = ?",
			SyncCopyTag, models.TagComponentQuestion, models.TagItemTypeQuestion)

	var ids []uint
	err := db.Model(&models.DeployedSeed{}).
		Where("id NOT IN (?)", claimed).
		Where("question_id NOT IN (?)", variants).
		Where("question_id NOT IN (?)", tagged).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

// DanglingBaseQuestionIDs lists base questions referenced by the ledger that
// no longer exist.
func (l *LedgerService) DanglingBaseQuestionIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := l.db.WithContext(ctx).
		Table("sync_copies AS sc").
		Select("sc.question_id").
		Joins("LEFT JOIN questions q ON q.id = sc.question_id").
		Where("q.id IS NULL").
		Group("sc.question_id").
		Order("sc.question_id").
		Pluck("sc.question_id", &ids).Error
	return ids, err
}

// DanglingVariantQuestionIDs lists resolved variant questions referenced by
// the ledger that no longer exist. Placeholders are never reported.
func (l *LedgerService) DanglingVariantQuestionIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := l.db.WithContext(ctx).
		Table("sync_copies AS sc").
		Select("sc.variant_question_id").
		Joins("LEFT JOIN questions q ON q.id = sc.variant_question_id").
		Where("q.id IS NULL AND sc.variant_question_id <> ?", models.PlaceholderVariantID).
		Group("sc.variant_question_id").
		Order("sc.variant_question_id").
		Pluck("sc.variant_question_id", &ids).Error
	return ids, err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
