package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ScribblerCoder/ctfd-whale/database"
	"github.com/ScribblerCoder/ctfd-whale/models"
)

// Sweeper 是后台保洁任务：回收过期实例、按各自的保留期清理历史解题
// 记录和作弊日志。三步互相独立，哪一步失败都不影响其余两步。
type Sweeper struct {
	control *Lifecycle
	mu      sync.Mutex
}

func NewSweeper(control *Lifecycle) *Sweeper {
	return &Sweeper{control: control}
}

// Run 按固定间隔执行清扫，上一轮没跑完就跳过本轮；
// ctx 取消后不再调度新的一轮，进行中的引擎调用任其完成。
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.mu.TryLock() {
				continue
			}
			s.Sweep()
			s.mu.Unlock()
		}
	}
}

// Sweep 执行一轮完整清扫。
func (s *Sweeper) Sweep() {
	s.expireInstances()
	s.pruneSolvedFlags()
	s.pruneCheatingLog()
}

func (s *Sweeper) expireInstances() {
	timeout := time.Duration(GetSettingInt("docker_timeout")) * time.Second
	cutoff := time.Now().Add(-timeout)

	var expired []models.Instance
	if err := database.DB.Where("start_time < ?", cutoff).Find(&expired).Error; err != nil {
		log.Printf("Sweeper: query expired instances: %v", err)
		return
	}
	for i := range expired {
		if err := s.control.removeInstance(&expired[i]); err != nil {
			log.Printf("Sweeper: remove expired instance %s: %v", expired[i].EngineKey(), err)
		}
	}
}

func (s *Sweeper) pruneSolvedFlags() {
	period := GetSettingInt("cheating_detection_period")
	if period <= 0 {
		// 0 表示永久保留
		return
	}
	cutoff := time.Now().Add(-time.Duration(period) * time.Second)
	result := database.DB.Where("solved_time < ?", cutoff).Delete(&models.SolvedFlag{})
	if result.Error != nil {
		log.Printf("Sweeper: prune solved flags: %v", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		log.Printf("Sweeper: cleaned %d old solved flags (older than %d seconds)", result.RowsAffected, period)
	}
}

func (s *Sweeper) pruneCheatingLog() {
	retention := GetSettingInt("cheating_log_retention")
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(retention) * time.Second)
	result := database.DB.Where("attempt_time < ?", cutoff).Delete(&models.CheatingAttempt{})
	if result.Error != nil {
		log.Printf("Sweeper: prune cheating log: %v", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		log.Printf("Sweeper: cleaned %d old cheating attempt logs (older than %d seconds)", result.RowsAffected, retention)
	}
}
