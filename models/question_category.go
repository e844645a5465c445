package models

import (
	"time"
)

const TopCategoryName = "top"

type QuestionCategory struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	ContextID uint      `json:"context_id" gorm:"not null;index"`
	ParentID  uint      `json:"parent_id" gorm:"not null;default:0;index"`
	Info      string    `json:"info" gorm:"not null;default:''"`
	IDNumber  *string   `json:"id_number,omitempty"`
	Stamp     string    `json:"stamp" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (QuestionCategory) TableName() string { return "question_categories" }
