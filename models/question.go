package models

import (
	"time"
)

const (
	QTypeStack = "stack"

	FormatHTML = "html"
)

type Question struct {
	ID                 uint      `json:"id" gorm:"primaryKey"`
	CategoryID         uint      `json:"category_id" gorm:"not null;index"`
	Name               string    `json:"name" gorm:"not null"`
	QType              string    `json:"qtype" gorm:"column:qtype;not null;default:'stack'"`
	QuestionText       string    `json:"question_text" gorm:"not null;default:''"`
	QuestionTextFormat string    `json:"question_text_format" gorm:"not null;default:'html'"`
	GeneralFeedback    string    `json:"general_feedback" gorm:"not null;default:''"`
	DefaultMark        float64   `json:"default_mark" gorm:"not null"`
	Penalty            float64   `json:"penalty" gorm:"not null"`
	QuestionVariables  string    `json:"question_variables" gorm:"not null;default:''"`
	CreatedBy          uint      `json:"created_by"`
	ModifiedBy         uint      `json:"modified_by"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	// Relationships
	Category      QuestionCategory `json:"category,omitempty"`
	DeployedSeeds []DeployedSeed   `json:"deployed_seeds,omitempty" gorm:"foreignKey:QuestionID"`
	Version       *QuestionVersion `json:"version,omitempty" gorm:"foreignKey:QuestionID"`
}

func (Question) TableName() string { return "questions" }
