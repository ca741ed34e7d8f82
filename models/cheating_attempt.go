package models

import (
	"time"
)

// CheatingAttempt 对应 whale_cheating_attempt 表。检测到跨用户提交时写入，
// 只追加，仅由管理员清理或 Sweeper 按保留期删除。
type CheatingAttempt struct {
	ID            uint64    `gorm:"primarykey"`
	CheaterUserID uint32    `gorm:"not null;index"`
	VictimUserID  uint32    `gorm:"not null;index"`
	ChallengeID   uint32    `gorm:"not null;index"`
	SubmittedFlag string    `gorm:"size:128;not null"`
	AttemptTime   time.Time `gorm:"not null;index"`
	CheaterIP     string    `gorm:"size:45"`
	UserAgent     string    `gorm:"type:text"`
}

func (CheatingAttempt) TableName() string {
	return "whale_cheating_attempt"
}
