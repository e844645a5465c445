package models

import (
	"time"
)

// QuestionBankEntry groups every version of one question. It is the lineage
// variant copies are linked into.
type QuestionBankEntry struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	CategoryID uint      `json:"category_id" gorm:"not null;index"`
	IDNumber   *string   `json:"id_number,omitempty"`
	OwnerID    uint      `json:"owner_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Relationships
	Versions []QuestionVersion `json:"versions,omitempty" gorm:"foreignKey:QuestionBankEntryID"`
}

func (QuestionBankEntry) TableName() string { return "question_bank_entries" }
