package models

import (
	"time"
)

// SolvedFlag 对应 whale_solved_flag 表。实例销毁后保留已解出的 flag，
// 供作弊检测继续追溯（同一 (user, challenge, flag) 只保留一条）。
type SolvedFlag struct {
	ID           uint32    `gorm:"primarykey"`
	UserID       uint32    `gorm:"not null;uniqueIndex:uniq_solved_flag"`
	ChallengeID  uint32    `gorm:"not null;uniqueIndex:uniq_solved_flag"`
	Flag         string    `gorm:"size:128;not null;uniqueIndex:uniq_solved_flag"`
	SolvedTime   time.Time `gorm:"not null"`
	InstanceUUID string    `gorm:"size:64"`
}

func (SolvedFlag) TableName() string {
	return "whale_solved_flag"
}
