package services

import (
	"context"
	"errors"
	"strings"

	"qbanksync/models"

	"gorm.io/gorm"
)

type TagService struct {
	db *gorm.DB
}

func NewTagService(db *gorm.DB) *TagService {
	return &TagService{db: db}
}

// ItemTag is a tag attached to a question.
type ItemTag struct {
	InstanceID uint   `json:"instance_id"`
	TagID      uint   `json:"tag_id"`
	Name       string `json:"name"`
	RawName    string `json:"raw_name"`
	ContextID  uint   `json:"context_id"`
}

func (t ItemTag) DisplayName() string {
	if t.RawName != "" {
		return t.RawName
	}
	return t.Name
}

func (s *TagService) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

// ItemTags lists the tags of a question ordered by instance id.
func (s *TagService) ItemTags(ctx context.Context, tx *gorm.DB, questionID uint) ([]ItemTag, error) {
	var tags []ItemTag
	err := s.conn(tx).WithContext(ctx).
		Table("tag_instances AS ti").
		Select("ti.id AS instance_id, t.id AS tag_id, t.name AS name, t.raw_name AS raw_name, ti.context_id AS context_id").
		Joins("JOIN tags t ON t.id = ti.tag_id").
		Where("ti.component = ? AND ti.item_type = ? AND ti.item_id = ?",
			models.TagComponentQuestion, models.TagItemTypeQuestion, questionID).
		Order("ti.id").
		Scan(&tags).Error
	return tags, err
}

// AddItemTag attaches rawName to a question. Adding a tag the question
// already carries is a no-op.
func (s *TagService) AddItemTag(ctx context.Context, tx *gorm.DB, questionID, contextID uint, rawName string) (*models.TagInstance, error) {
	rawName = strings.TrimSpace(rawName)
	if rawName == "" {
		return nil, ErrInvalidRequest
	}
	db := s.conn(tx).WithContext(ctx)

	tag := models.Tag{Name: strings.ToLower(rawName)}
	if err := db.Where("name = ?", tag.Name).
		Attrs(models.Tag{RawName: rawName}).
		FirstOrCreate(&tag).Error; err != nil {
		return nil, err
	}

	var instance models.TagInstance
	err := db.Where("tag_id = ? AND component = ? AND item_type = ? AND item_id = ?",
		tag.ID, models.TagComponentQuestion, models.TagItemTypeQuestion, questionID).
		First(&instance).Error
	if err == nil {
		return &instance, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	instance = models.TagInstance{
		TagID:     tag.ID,
		Component: models.TagComponentQuestion,
		ItemType:  models.TagItemTypeQuestion,
		ItemID:    questionID,
		ContextID: contextID,
	}
	if err := db.Create(&instance).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

// DeleteInstancesByID removes tag instances. An empty list is not an error.
func (s *TagService) DeleteInstancesByID(ctx context.Context, tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return s.conn(tx).WithContext(ctx).Where("id IN ?", ids).Delete(&models.TagInstance{}).Error
}

func (s *TagService) deleteItemTags(ctx context.Context, tx *gorm.DB, questionID uint) error {
	return s.conn(tx).WithContext(ctx).
		Where("component = ? AND item_type = ? AND item_id = ?",
			models.TagComponentQuestion, models.TagItemTypeQuestion, questionID).
		Delete(&models.TagInstance{}).Error
}
