package models

import (
	"fmt"
	"time"
)

type InstanceStatus string

const (
	InstanceStatusAlive   InstanceStatus = "alive"
	InstanceStatusExpired InstanceStatus = "expired"
)

// Instance 对应 whale_instance 表。每个用户同一时间最多持有一个实例，
// 由 user_id 上的唯一索引保证（并发 start 的重复插入落到这里）。
type Instance struct {
	ID          uint32         `gorm:"primarykey"`
	UserID      uint32         `gorm:"uniqueIndex;not null"`
	ChallengeID uint32         `gorm:"not null"`
	StartTime   time.Time      `gorm:"not null"`
	RenewCount  uint           `gorm:"default:0"`
	Status      InstanceStatus `gorm:"type:enum('alive','expired');default:'alive'"`
	UUID        string         `gorm:"size:64;unique;not null"`
	Port        int            `gorm:"default:0"`
	Flag        string         `gorm:"size:128;not null"`
}

func (Instance) TableName() string {
	return "whale_instance"
}

// EngineKey 是实例在引擎侧的删除标签，同时也是主服务名和私有网络名。
func (i *Instance) EngineKey() string {
	return fmt.Sprintf("%d-%s", i.UserID, i.UUID)
}

// LanDomain 是组内服务通过 dnsrr 可解析到的内网域名。
func (i *Instance) LanDomain() string {
	return i.EngineKey()
}
