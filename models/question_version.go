package models

const (
	VersionStatusReady  = "ready"
	VersionStatusHidden = "hidden"
)

type QuestionVersion struct {
	ID                  uint   `json:"id" gorm:"primaryKey"`
	QuestionBankEntryID uint   `json:"question_bank_entry_id" gorm:"not null;index"`
	Version             int    `json:"version" gorm:"not null;default:1"`
	QuestionID          uint   `json:"question_id" gorm:"not null;uniqueIndex"`
	Status              string `json:"status" gorm:"not null;default:'ready'"`
}

func (QuestionVersion) TableName() string { return "question_versions" }
