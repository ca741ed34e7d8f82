package services

import (
	"log"
	"time"

	"github.com/ScribblerCoder/ctfd-whale/database"
	"github.com/ScribblerCoder/ctfd-whale/models"
)

// Verdict 是一次 flag 提交的判定结果。
type Verdict int

const (
	// VerdictCorrect 提交的是自己实例的 flag
	VerdictCorrect Verdict = iota
	// VerdictWrong 普通错误提交，对外只反馈“不正确”
	VerdictWrong
	// VerdictCheating 提交的是别人的 flag，对提交者的反馈与 VerdictWrong 一致
	VerdictCheating
)

// flagSource 在某一类记录里查 flag 的归属，返回持有者的用户 id。
type flagSource func(flag string, challengeID uint32) (uint32, bool)

// flagIndex 按固定顺序跨两类记录查 flag 归属：先查存活实例，再查历史
// 解题记录。两边的查询逻辑各自收在自己的 source 里。
var flagIndex = []flagSource{liveInstanceSource, solvedFlagSource}

func liveInstanceSource(flag string, challengeID uint32) (uint32, bool) {
	var inst models.Instance
	err := database.DB.Where("flag = ? AND challenge_id = ?", flag, challengeID).First(&inst).Error
	if err != nil {
		return 0, false
	}
	return inst.UserID, true
}

func solvedFlagSource(flag string, challengeID uint32) (uint32, bool) {
	var record models.SolvedFlag
	err := database.DB.Where("flag = ? AND challenge_id = ?", flag, challengeID).First(&record).Error
	if err != nil {
		return 0, false
	}
	return record.UserID, true
}

// FindFlagOwner 返回该 flag 在这道题下的持有者。
func FindFlagOwner(flag string, challengeID uint32) (uint32, bool) {
	for _, source := range flagIndex {
		if owner, ok := source(flag, challengeID); ok {
			return owner, true
		}
	}
	return 0, false
}

// CheckFlag 判定一次提交。submitterFlag 是提交者自己实例的 flag。
// 检测到跨用户提交时写入作弊记录；写入失败只记日志，不改变判定结果。
func CheckFlag(submission string, challengeID, userID uint32, ownFlag, clientIP, userAgent string) Verdict {
	if ownFlag != "" && submission == ownFlag {
		return VerdictCorrect
	}

	owner, found := FindFlagOwner(submission, challengeID)
	if !found || owner == userID {
		return VerdictWrong
	}

	attempt := models.CheatingAttempt{
		CheaterUserID: userID,
		VictimUserID:  owner,
		ChallengeID:   challengeID,
		SubmittedFlag: submission,
		AttemptTime:   time.Now(),
		CheaterIP:     clientIP,
		UserAgent:     userAgent,
	}
	if err := database.DB.Create(&attempt).Error; err != nil {
		log.Printf("Failed to record cheating attempt (user %d, challenge %d): %v", userID, challengeID, err)
	} else {
		log.Printf("Cheating attempt detected: user %d submitted user %d's flag for challenge %d", userID, owner, challengeID)
	}
	return VerdictCheating
}

// RecordSolvedFlag 把实例的 flag 存入历史解题记录。
// 同一 (user, challenge, flag) 重复调用不产生新记录。
func RecordSolvedFlag(inst *models.Instance) {
	var count int64
	database.DB.Model(&models.SolvedFlag{}).
		Where("user_id = ? AND challenge_id = ? AND flag = ?", inst.UserID, inst.ChallengeID, inst.Flag).
		Count(&count)
	if count > 0 {
		return
	}
	record := models.SolvedFlag{
		UserID:       inst.UserID,
		ChallengeID:  inst.ChallengeID,
		Flag:         inst.Flag,
		SolvedTime:   time.Now(),
		InstanceUUID: inst.UUID,
	}
	if err := database.DB.Create(&record).Error; err != nil {
		log.Printf("Failed to store solved flag (user %d, challenge %d): %v", inst.UserID, inst.ChallengeID, err)
	}
}
