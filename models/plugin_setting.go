package models

const SettingListenEvents = "listenevents"

type PluginSetting struct {
	Name  string `json:"name" gorm:"primaryKey"`
	Value string `json:"value" gorm:"not null"`
}

func (PluginSetting) TableName() string { return "plugin_settings" }
