package models

import (
	"time"
)

const (
	TagComponentQuestion = "core_question"
	TagItemTypeQuestion  = "question"
)

type Tag struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null;uniqueIndex"`
	RawName   string    `json:"raw_name" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (Tag) TableName() string { return "tags" }

type TagInstance struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	TagID     uint      `json:"tag_id" gorm:"not null;uniqueIndex:idx_tag_instance_item"`
	Component string    `json:"component" gorm:"not null;uniqueIndex:idx_tag_instance_item"`
	ItemType  string    `json:"item_type" gorm:"not null;uniqueIndex:idx_tag_instance_item"`
	ItemID    uint      `json:"item_id" gorm:"not null;uniqueIndex:idx_tag_instance_item"`
	ContextID uint      `json:"context_id" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`

	// Relationships
	Tag Tag `json:"tag,omitempty"`
}

func (TagInstance) TableName() string { return "tag_instances" }
