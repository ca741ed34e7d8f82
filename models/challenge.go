package models

import (
	"time"
)

type ChallengeState string
type FlagMode string

const (
	ChallengeStateVisible ChallengeState = "visible"
	ChallengeStateHidden  ChallengeState = "hidden"

	FlagModeStatic      FlagMode = "static"
	FlagModeDynamic     FlagMode = "dynamic"
	FlagModeHalfDynamic FlagMode = "half_dynamic"
)

// Challenge 对应 whale_challenge 表。DockerImage 为单个镜像引用，
// 或以 { 开头的 JSON 对象（多容器编组拓扑）。
type Challenge struct {
	ID            uint32         `gorm:"primarykey"`
	ChallengeName string         `gorm:"size:100;unique;not null"`
	Category      string         `gorm:"size:50"`
	Author        string         `gorm:"size:50"`
	Description   string         `gorm:"type:text"`
	State         ChallengeState `gorm:"type:enum('visible','hidden');default:'hidden'"`

	DockerImage  string  `gorm:"type:text;not null"`
	MemoryLimit  string  `gorm:"size:20;default:'128m'"`
	CPULimit     float32 `gorm:"default:0.5"`
	RedirectType string  `gorm:"size:20"`
	RedirectPort int     `gorm:"default:0"`

	FlagMode         FlagMode `gorm:"type:enum('static','dynamic','half_dynamic');default:'dynamic'"`
	FlagStaticPrefix string   `gorm:"size:100"`
	StaticFlag       string   `gorm:"size:255"`

	InitialScore uint    `gorm:"default:500"`
	MinScore     uint    `gorm:"default:100"`
	CurrentScore uint    `gorm:"default:500"`
	DecayRatio   float32 `gorm:"default:0.1"`
	SolvedCount  uint    `gorm:"default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Challenge) TableName() string {
	return "whale_challenge"
}
