package controllers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ScribblerCoder/ctfd-whale/database"
	"github.com/ScribblerCoder/ctfd-whale/models"
	"github.com/ScribblerCoder/ctfd-whale/services"
	"github.com/ScribblerCoder/ctfd-whale/utils"
)

func currentUserID(c *gin.Context) uint32 {
	userIDAny, _ := c.Get("user_id")
	return userIDAny.(uint32)
}

// remainingSeconds 是实例离超时还剩的秒数。已超时但 Sweeper 还没回收的
// 实例按 0 报，不给前端负数。
func remainingSeconds(start time.Time, timeout int) int {
	remaining := timeout - int(time.Since(start).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func challengeIDParam(c *gin.Context) (uint32, bool) {
	id, err := strconv.Atoi(c.Query("challenge_id"))
	if err != nil || id <= 0 {
		utils.Error(c, 1001, "Invalid challenge_id")
		return 0, false
	}
	return uint32(id), true
}

// GetInstance 查询当前实例的连接信息
func GetInstance(c *gin.Context) {
	userID := currentUserID(c)
	challengeID, ok := challengeIDParam(c)
	if !ok {
		return
	}

	inst := services.Control.CurrentInstance(userID)
	if inst == nil {
		utils.Success(c, "success", gin.H{})
		return
	}

	var challenge models.Challenge
	if err := database.DB.First(&challenge, inst.ChallengeID).Error; err != nil {
		utils.Error(c, 5000, "Failed to load challenge for the running instance")
		return
	}
	if inst.ChallengeID != challengeID {
		utils.Error(c, 4005, "Instance already started but not from this challenge ("+challenge.ChallengeName+")")
		return
	}

	access, err := services.RenderAccess(inst, &challenge)
	if err != nil {
		access = ""
	}
	remaining := remainingSeconds(inst.StartTime, services.GetSettingInt("docker_timeout"))

	utils.Success(c, "success", gin.H{
		"lan_domain":     inst.LanDomain(),
		"user_access":    access,
		"remaining_time": remaining,
		"renew_count":    inst.RenewCount,
	})
}

// CreateInstance 启动实例
func CreateInstance(c *gin.Context) {
	userID := currentUserID(c)
	challengeID, ok := challengeIDParam(c)
	if !ok {
		return
	}

	ok, msg := services.Control.Start(userID, challengeID)
	if !ok {
		utils.Error(c, 4003, msg)
		return
	}
	utils.Success(c, msg, nil)
}

// RenewInstance 续期实例
func RenewInstance(c *gin.Context) {
	userID := currentUserID(c)
	challengeID, ok := challengeIDParam(c)
	if !ok {
		return
	}

	ok, msg := services.Control.Renew(userID, challengeID)
	if !ok {
		utils.Error(c, 4003, msg)
		return
	}
	utils.Success(c, msg, nil)
}

// DestroyInstance 销毁实例
func DestroyInstance(c *gin.Context) {
	userID := currentUserID(c)

	ok, msg := services.Control.Remove(userID)
	if !ok {
		utils.Error(c, 4003, msg)
		return
	}
	utils.Success(c, msg, nil)
}
