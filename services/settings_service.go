package services

import (
	"log"
	"strconv"
	"strings"

	"github.com/ScribblerCoder/ctfd-whale/database"
	"github.com/ScribblerCoder/ctfd-whale/models"
)

// settingDefaults 是运行时配置的缺省值。键未入库时按这里取值，
// SeedSettings 在启动时把缺失的键补进 whale_config 表。
var settingDefaults = map[string]string{
	"docker_api_url":                 "",
	"docker_credentials":             "",
	"docker_registry":                "",
	"docker_dns":                     "1.1.1.1",
	"docker_swarm_nodes":             "linux-1",
	"docker_auto_connect_network":    "whale_frp-containers",
	"docker_auto_connect_containers": "",
	"docker_subnet":                  "174.1.0.0/16",
	"docker_subnet_new_prefix":       "24",
	"docker_timeout":                 "3600",
	"docker_max_container_count":     "100",
	"docker_max_renew_count":         "5",
	"docker_image_prefix":            "",
	"template_chall_flag":            `flag{{"{"}}{{ uuid }}{{"}"}}`,
	"cheating_detection_period":      "86400",
	"cheating_log_retention":         "2592000",
	"frequency_limit":                "10",
}

// GetSetting 读取运行时配置；数据库不可用或键不存在时回退到缺省值。
func GetSetting(key string) string {
	if database.DB == nil {
		return settingDefaults[key]
	}
	var s models.Setting
	if err := database.DB.First(&s, "`key` = ?", key).Error; err != nil {
		return settingDefaults[key]
	}
	return s.Value
}

func GetSettingInt(key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(GetSetting(key)))
	if err != nil {
		v, _ = strconv.Atoi(settingDefaults[key])
	}
	return v
}

// GetSettingList 按逗号拆分配置值，忽略空段。
func GetSettingList(key string) []string {
	var out []string
	for _, part := range strings.Split(GetSetting(key), ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func SetSetting(key, value string) error {
	return database.DB.Save(&models.Setting{Key: key, Value: value}).Error
}

// SeedSettings 把缺省配置中尚未入库的键写入数据库。
func SeedSettings() {
	for key, value := range settingDefaults {
		var count int64
		database.DB.Model(&models.Setting{}).Where("`key` = ?", key).Count(&count)
		if count == 0 {
			if err := database.DB.Create(&models.Setting{Key: key, Value: value}).Error; err != nil {
				log.Printf("Failed to seed setting %s: %v", key, err)
			}
		}
	}
}
