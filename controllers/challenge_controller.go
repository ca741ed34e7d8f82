package controllers

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ScribblerCoder/ctfd-whale/database"
	"github.com/ScribblerCoder/ctfd-whale/dto"
	"github.com/ScribblerCoder/ctfd-whale/models"
	"github.com/ScribblerCoder/ctfd-whale/services"
	"github.com/ScribblerCoder/ctfd-whale/utils"
)

// CreateChallenge 管理员创建题目
func CreateChallenge(c *gin.Context) {
	var req dto.CreateChallengeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 1001, "Invalid request: "+err.Error())
		return
	}

	if req.ChallengeName == "" || req.DockerImage == "" {
		utils.Error(c, 1001, "challenge_name and docker_image are required")
		return
	}
	mode := models.FlagMode(req.FlagMode)
	if mode == "" {
		mode = models.FlagModeDynamic
	}
	if mode != models.FlagModeStatic && mode != models.FlagModeDynamic && mode != models.FlagModeHalfDynamic {
		utils.Error(c, 1001, "flag_mode must be static/dynamic/half_dynamic")
		return
	}
	if mode == models.FlagModeStatic && strings.TrimSpace(req.StaticFlag) == "" {
		utils.Error(c, 1002, "static flag mode requires a flag")
		return
	}
	// 编组拓扑在入库前先做一次解析，把配置错误挡在创建实例之前
	if strings.HasPrefix(strings.TrimSpace(req.DockerImage), "{") {
		if _, err := services.ParseTopology(req.DockerImage); err != nil {
			utils.Error(c, 1002, err.Error())
			return
		}
	}
	if req.MinScore > req.InitialScore {
		utils.Error(c, 1001, "min_score cannot be greater than initial_score")
		return
	}

	challenge := models.Challenge{
		ChallengeName:    req.ChallengeName,
		Category:         req.Category,
		Author:           req.Author,
		Description:      req.Description,
		DockerImage:      req.DockerImage,
		MemoryLimit:      req.MemoryLimit,
		CPULimit:         req.CPULimit,
		RedirectType:     req.RedirectType,
		RedirectPort:     req.RedirectPort,
		FlagMode:         mode,
		FlagStaticPrefix: req.FlagStaticPrefix,
		StaticFlag:       req.StaticFlag,
		InitialScore:     req.InitialScore,
		MinScore:         req.MinScore,
		CurrentScore:     req.InitialScore,
		DecayRatio:       req.DecayRatio,
	}
	if challenge.MemoryLimit == "" {
		challenge.MemoryLimit = "128m"
	}
	if challenge.CPULimit == 0 {
		challenge.CPULimit = 0.5
	}

	if err := database.DB.Create(&challenge).Error; err != nil {
		utils.Error(c, 5000, "Failed to create challenge: "+err.Error())
		return
	}
	utils.Success(c, "Challenge created successfully", gin.H{"id": challenge.ID})
}

// UpdateChallenge 管理员更新题目，只更新给出的字段
func UpdateChallenge(c *gin.Context) {
	id, _ := strconv.Atoi(c.Param("id"))

	var challenge models.Challenge
	if err := database.DB.First(&challenge, id).Error; err != nil {
		utils.Error(c, 4004, "Challenge not found")
		return
	}

	var req dto.UpdateChallengeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 1001, "Invalid request: "+err.Error())
		return
	}

	if req.ChallengeName != nil {
		challenge.ChallengeName = *req.ChallengeName
	}
	if req.Category != nil {
		challenge.Category = *req.Category
	}
	if req.Author != nil {
		challenge.Author = *req.Author
	}
	if req.Description != nil {
		challenge.Description = *req.Description
	}
	if req.State != nil {
		challenge.State = models.ChallengeState(*req.State)
	}
	if req.DockerImage != nil {
		if strings.HasPrefix(strings.TrimSpace(*req.DockerImage), "{") {
			if _, err := services.ParseTopology(*req.DockerImage); err != nil {
				utils.Error(c, 1002, err.Error())
				return
			}
		}
		challenge.DockerImage = *req.DockerImage
	}
	if req.MemoryLimit != nil {
		challenge.MemoryLimit = *req.MemoryLimit
	}
	if req.CPULimit != nil {
		challenge.CPULimit = *req.CPULimit
	}
	if req.RedirectType != nil {
		challenge.RedirectType = *req.RedirectType
	}
	if req.RedirectPort != nil {
		challenge.RedirectPort = *req.RedirectPort
	}
	if req.FlagMode != nil {
		challenge.FlagMode = models.FlagMode(*req.FlagMode)
	}
	if req.FlagStaticPrefix != nil {
		challenge.FlagStaticPrefix = *req.FlagStaticPrefix
	}
	if req.StaticFlag != nil {
		challenge.StaticFlag = *req.StaticFlag
	}

	if err := database.DB.Save(&challenge).Error; err != nil {
		utils.Error(c, 5000, "Failed to update challenge: "+err.Error())
		return
	}
	utils.Success(c, "Challenge updated successfully", nil)
}

// DeleteChallenge 管理员删除题目，连带清理实例、历史 flag 和作弊记录
func DeleteChallenge(c *gin.Context) {
	id, _ := strconv.Atoi(c.Param("id"))

	var challenge models.Challenge
	if err := database.DB.First(&challenge, id).Error; err != nil {
		utils.Error(c, 4004, "Challenge not found")
		return
	}

	services.Control.RemoveByChallenge(challenge.ID)
	database.DB.Where("challenge_id = ?", challenge.ID).Delete(&models.SolvedFlag{})
	database.DB.Where("challenge_id = ?", challenge.ID).Delete(&models.CheatingAttempt{})
	database.DB.Where("challenge_id = ?", challenge.ID).Delete(&models.Submission{})

	if err := database.DB.Delete(&challenge).Error; err != nil {
		utils.Error(c, 5000, "Failed to delete challenge: "+err.Error())
		return
	}
	utils.Success(c, "Challenge deleted successfully", nil)
}

// ListChallenges 用户可见的题目列表
func ListChallenges(c *gin.Context) {
	var challenges []models.Challenge
	if err := database.DB.Where("state = ?", models.ChallengeStateVisible).Find(&challenges).Error; err != nil {
		utils.Error(c, 5000, "Query failed")
		return
	}

	type item struct {
		ID            uint32 `json:"id"`
		ChallengeName string `json:"challenge_name"`
		Category      string `json:"category"`
		CurrentScore  uint   `json:"current_score"`
		SolvedCount   uint   `json:"solved_count"`
	}
	items := make([]item, 0, len(challenges))
	for _, ch := range challenges {
		items = append(items, item{
			ID:            ch.ID,
			ChallengeName: ch.ChallengeName,
			Category:      ch.Category,
			CurrentScore:  ch.CurrentScore,
			SolvedCount:   ch.SolvedCount,
		})
	}

	utils.Success(c, "success", gin.H{"total": len(items), "challenges": items})
}

// SubmitFlag 提交 flag。动态/半动态题目要求实例在运行中，
// 跨用户提交会被记录，但提交者只会看到普通的 Incorrect。
func SubmitFlag(c *gin.Context) {
	challengeID, _ := strconv.Atoi(c.Param("id"))
	userID := currentUserID(c)

	var req dto.SubmitFlagReq
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 1001, "Invalid request: "+err.Error())
		return
	}
	submission := strings.TrimSpace(req.Flag)

	var challenge models.Challenge
	if err := database.DB.First(&challenge, challengeID).Error; err != nil {
		utils.Error(c, 4004, "Challenge not found")
		return
	}
	if challenge.State != models.ChallengeStateVisible {
		utils.Error(c, 4003, "Challenge is not visible")
		return
	}

	var existing models.Submission
	if err := database.DB.Where("challenge_id = ? AND user_id = ?", challenge.ID, userID).
		First(&existing).Error; err == nil {
		utils.Error(c, 7005, "You already solved this challenge")
		return
	}

	correct := false
	if challenge.FlagMode == models.FlagModeStatic {
		// 静态题由人工配置的 flag 判分
		correct = challenge.StaticFlag != "" && challenge.StaticFlag == submission
	} else {
		inst := services.Control.CurrentInstance(userID)
		if inst == nil || inst.ChallengeID != challenge.ID {
			utils.Error(c, 7006, "Please solve it while your instance is running")
			return
		}
		verdict := services.CheckFlag(submission, challenge.ID, userID, inst.Flag, c.ClientIP(), c.Request.UserAgent())
		// 作弊提交对外与普通错误一致
		correct = verdict == services.VerdictCorrect
	}

	if !correct {
		utils.Error(c, 7007, "Incorrect")
		return
	}

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		var locked models.Challenge
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&locked, challenge.ID).Error; err != nil {
			return err
		}

		sub := models.Submission{
			ChallengeID: locked.ID,
			UserID:      userID,
			SubmittedAt: time.Now(),
		}
		if err := tx.Create(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errors.New("you already solved this challenge")
			}
			return err
		}

		// 分数衰减：每解出一次衰减 initial_score * decay_ratio（至少 1 分）
		locked.SolvedCount++
		decay := uint(math.Round(float64(locked.InitialScore) * float64(locked.DecayRatio)))
		if decay == 0 && locked.DecayRatio > 0 {
			decay = 1
		}
		newScore := int(locked.CurrentScore) - int(decay)
		if newScore < int(locked.MinScore) {
			newScore = int(locked.MinScore)
		}
		locked.CurrentScore = uint(newScore)
		return tx.Save(&locked).Error
	})
	if err != nil {
		utils.Error(c, 5001, err.Error())
		return
	}

	// 实例销毁后还要能追溯这个 flag 的归属
	if inst := services.Control.CurrentInstance(userID); inst != nil && inst.ChallengeID == challenge.ID {
		services.RecordSolvedFlag(inst)
	}

	utils.Success(c, "Correct", gin.H{})
}
