package models

import (
	"time"
)

// Submission 记录某用户解出某题，同一 (user, challenge) 只保留一条。
type Submission struct {
	ID          uint64    `gorm:"primarykey"`
	ChallengeID uint32    `gorm:"not null;uniqueIndex:uniq_submission"`
	UserID      uint32    `gorm:"not null;uniqueIndex:uniq_submission"`
	SubmittedAt time.Time `gorm:"not null"`
}

func (Submission) TableName() string {
	return "whale_submission"
}
