package services

import (
	"context"
	"errors"
	"strconv"

	"qbanksync/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsService stores the admin toggles. Unset values fall back to the
// configured defaults.
type SettingsService struct {
	db                  *gorm.DB
	defaultListenEvents bool
}

type Settings struct {
	ListenEvents bool `json:"listen_events"`
}

type UpdateSettingsRequest struct {
	ListenEvents *bool `json:"listen_events"`
}

func NewSettingsService(db *gorm.DB, defaultListenEvents bool) *SettingsService {
	return &SettingsService{db: db, defaultListenEvents: defaultListenEvents}
}

func (s *SettingsService) ListenEvents(ctx context.Context) (bool, error) {
	var setting models.PluginSetting
	err := s.db.WithContext(ctx).Where("name = ?", models.SettingListenEvents).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.defaultListenEvents, nil
	}
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(setting.Value)
	if err != nil {
		return s.defaultListenEvents, nil
	}
	return v, nil
}

func (s *SettingsService) SetListenEvents(ctx context.Context, enabled bool) error {
	setting := models.PluginSetting{Name: models.SettingListenEvents, Value: strconv.FormatBool(enabled)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&setting).Error
}

func (s *SettingsService) Get(ctx context.Context) (*Settings, error) {
	listen, err := s.ListenEvents(ctx)
	if err != nil {
		return nil, err
	}
	return &Settings{ListenEvents: listen}, nil
}

func (s *SettingsService) Update(ctx context.Context, req *UpdateSettingsRequest) (*Settings, error) {
	if req.ListenEvents != nil {
		if err := s.SetListenEvents(ctx, *req.ListenEvents); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx)
}
