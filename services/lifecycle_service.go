package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/ScribblerCoder/ctfd-whale/database"
	"github.com/ScribblerCoder/ctfd-whale/models"
	"github.com/ScribblerCoder/ctfd-whale/utils"
)

// Provisioner 是生命周期层对引擎编排的依赖面。
type Provisioner interface {
	Provision(inst *models.Instance, challenge *models.Challenge) error
	Teardown(inst *models.Instance) error
}

// Lifecycle 在编排层之上实现实例状态机：唯一性、续期上限、全局并发上限、
// 过期回收。所有对外操作都返回 (ok, message)。
type Lifecycle struct {
	Engine Provisioner
}

var Control *Lifecycle

func NewLifecycle(engine Provisioner) *Lifecycle {
	return &Lifecycle{Engine: engine}
}

// CurrentInstance 返回用户当前存活的实例，没有时返回 nil。
func (l *Lifecycle) CurrentInstance(userID uint32) *models.Instance {
	var inst models.Instance
	if err := database.DB.Where("user_id = ?", userID).First(&inst).Error; err != nil {
		return nil
	}
	return &inst
}

// AliveCount 返回全局存活实例数。
func (l *Lifecycle) AliveCount() int64 {
	var count int64
	database.DB.Model(&models.Instance{}).Count(&count)
	return count
}

// Start 为用户启动指定题目的实例。同题重复 start 先销毁旧实例再重建；
// 不同题冲突时报错并指出占用的题目。
func (l *Lifecycle) Start(userID, challengeID uint32) (bool, string) {
	if l.Engine == nil {
		return false, "Docker engine is not available. Please ask the admin to check the platform configs."
	}

	var challenge models.Challenge
	if err := database.DB.First(&challenge, challengeID).Error; err != nil {
		return false, "Challenge not found."
	}

	if existing := l.CurrentInstance(userID); existing != nil {
		if existing.ChallengeID != challengeID {
			return false, l.conflictMessage(existing)
		}
		if err := l.removeInstance(existing); err != nil {
			return false, "Failed to recycle the previous instance: " + err.Error()
		}
	}

	maxCount := int64(GetSettingInt("docker_max_container_count"))
	if l.AliveCount() >= maxCount {
		return false, "Max instance count exceeded, please wait for other players to finish."
	}

	inst := &models.Instance{
		UserID:      userID,
		ChallengeID: challengeID,
		StartTime:   time.Now(),
		Status:      models.InstanceStatusAlive,
		UUID:        utils.NewSuffix(),
	}
	flag, err := GenerateFlag(inst, &challenge)
	if err != nil {
		return false, "Failed to generate flag: " + err.Error()
	}
	inst.Flag = flag

	if err := database.DB.Create(inst).Error; err != nil {
		// 并发 start 撞上唯一索引：不是错误，返回已存在的实例
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing := l.CurrentInstance(userID)
			if existing != nil && existing.ChallengeID == challengeID {
				return true, "Instance already started."
			}
			if existing != nil {
				return false, l.conflictMessage(existing)
			}
		}
		return false, "Failed to save instance record: " + err.Error()
	}

	if err := l.Engine.Provision(inst, &challenge); err != nil {
		// 不留下半成品：清掉已创建的引擎对象和记录
		if terr := l.Engine.Teardown(inst); terr != nil {
			log.Printf("Warning: teardown after failed provision of %s: %v", inst.EngineKey(), terr)
		}
		database.DB.Delete(inst)
		return false, "Failed to start instance: " + err.Error()
	}

	return true, "Instance started successfully."
}

// Renew 续期实例：重置年龄基准，续期次数受配置上限约束。
func (l *Lifecycle) Renew(userID, challengeID uint32) (bool, string) {
	inst := l.CurrentInstance(userID)
	if inst == nil {
		return false, "Instance not found."
	}
	if inst.ChallengeID != challengeID {
		return false, l.conflictMessage(inst)
	}
	if inst.RenewCount >= uint(GetSettingInt("docker_max_renew_count")) {
		return false, "Max renewal count exceeded."
	}

	inst.RenewCount++
	inst.StartTime = time.Now()
	if err := database.DB.Save(inst).Error; err != nil {
		return false, "Failed to save instance record: " + err.Error()
	}
	return true, "Instance renewed successfully."
}

// Remove 销毁用户当前的实例。
func (l *Lifecycle) Remove(userID uint32) (bool, string) {
	inst := l.CurrentInstance(userID)
	if inst == nil {
		return false, "Instance not found."
	}
	if err := l.removeInstance(inst); err != nil {
		return false, "Failed to remove instance: " + err.Error()
	}
	return true, "Instance destroyed successfully."
}

// RemoveByChallenge 销毁某道题名下的全部实例（删题时的清理）。
func (l *Lifecycle) RemoveByChallenge(challengeID uint32) {
	var instances []models.Instance
	database.DB.Where("challenge_id = ?", challengeID).Find(&instances)
	for i := range instances {
		if err := l.removeInstance(&instances[i]); err != nil {
			log.Printf("Warning: failed to remove instance %s: %v", instances[i].EngineKey(), err)
		}
	}
}

// removeInstance 销毁引擎对象并删除记录。该题已被解出时，
// 先把 flag 迁移成 SolvedFlag 再删记录，保证事后还能检测跨用户提交。
func (l *Lifecycle) removeInstance(inst *models.Instance) error {
	if l.Engine == nil {
		return errors.New("docker engine is not available")
	}
	if err := l.Engine.Teardown(inst); err != nil {
		return err
	}

	var solved int64
	database.DB.Model(&models.Submission{}).
		Where("user_id = ? AND challenge_id = ?", inst.UserID, inst.ChallengeID).
		Count(&solved)
	if solved > 0 {
		RecordSolvedFlag(inst)
	}

	return database.DB.Delete(inst).Error
}

func (l *Lifecycle) conflictMessage(inst *models.Instance) string {
	var challenge models.Challenge
	name := fmt.Sprintf("#%d", inst.ChallengeID)
	if err := database.DB.First(&challenge, inst.ChallengeID).Error; err == nil {
		name = challenge.ChallengeName
	}
	return fmt.Sprintf("You already have an instance running for another challenge (%s). Destroy it first.", name)
}
