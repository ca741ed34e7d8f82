package models

// Setting 对应 whale_config 表，字符串键值配置，缺省值见 services/settings_service.go。
type Setting struct {
	Key   string `gorm:"primarykey;size:128"`
	Value string `gorm:"type:text"`
}

func (Setting) TableName() string {
	return "whale_config"
}
