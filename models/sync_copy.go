package models

// PlaceholderVariantID marks a ledger row whose variant question is still
// being created.
const PlaceholderVariantID uint = 0

// SyncCopy is one row of the copy ledger: (base question, seed) -> variant question.
type SyncCopy struct {
	ID                uint `json:"id" gorm:"primaryKey"`
	QuestionID        uint `json:"questionid" gorm:"column:question_id;not null;index"`
	SeedID            uint `json:"seedid" gorm:"column:seed_id;not null;uniqueIndex"`
	VariantQuestionID uint `json:"variantquestionid" gorm:"column:variant_question_id;not null;default:0;index"`
}

func (s SyncCopy) Resolved() bool {
	return s.VariantQuestionID != PlaceholderVariantID
}

func (SyncCopy) TableName() string { return "sync_copies" }
