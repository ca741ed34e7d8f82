package controllers

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ScribblerCoder/ctfd-whale/database"
	"github.com/ScribblerCoder/ctfd-whale/models"
	"github.com/ScribblerCoder/ctfd-whale/services"
	"github.com/ScribblerCoder/ctfd-whale/utils"
)

func pageParams(c *gin.Context) (page, limit, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return page, limit, (page - 1) * limit
}

// AdminListInstances 分页查询存活实例
func AdminListInstances(c *gin.Context) {
	page, limit, offset := pageParams(c)

	var total int64
	database.DB.Model(&models.Instance{}).Count(&total)

	var instances []models.Instance
	if err := database.DB.Order("start_time DESC").Offset(offset).Limit(limit).Find(&instances).Error; err != nil {
		utils.Error(c, 5000, "Query failed: "+err.Error())
		return
	}

	type item struct {
		ID            uint32 `json:"id"`
		UserID        uint32 `json:"user_id"`
		Username      string `json:"username"`
		ChallengeID   uint32 `json:"challenge_id"`
		ChallengeName string `json:"challenge_name"`
		UUID          string `json:"uuid"`
		StartTime     string `json:"start_time"`
		RenewCount    uint   `json:"renew_count"`
	}
	items := make([]item, 0, len(instances))
	for _, inst := range instances {
		var user models.User
		database.DB.Select("username").First(&user, inst.UserID)
		var challenge models.Challenge
		database.DB.Select("challenge_name").First(&challenge, inst.ChallengeID)
		items = append(items, item{
			ID:            inst.ID,
			UserID:        inst.UserID,
			Username:      user.Username,
			ChallengeID:   inst.ChallengeID,
			ChallengeName: challenge.ChallengeName,
			UUID:          inst.UUID,
			StartTime:     inst.StartTime.Format("2006-01-02 15:04:05"),
			RenewCount:    inst.RenewCount,
		})
	}

	utils.Success(c, "success", gin.H{
		"total":     total,
		"page":      page,
		"per_page":  limit,
		"instances": items,
	})
}

// AdminRenewInstance 管理员给指定用户的实例续期（不受次数限制约束之外的检查）
func AdminRenewInstance(c *gin.Context) {
	userID, _ := strconv.Atoi(c.Query("user_id"))
	inst := services.Control.CurrentInstance(uint32(userID))
	if inst == nil {
		utils.Error(c, 4004, "Instance not found")
		return
	}
	ok, msg := services.Control.Renew(uint32(userID), inst.ChallengeID)
	if !ok {
		utils.Error(c, 4003, msg)
		return
	}
	utils.Success(c, msg, nil)
}

// AdminDestroyInstance 管理员强制销毁指定用户的实例
func AdminDestroyInstance(c *gin.Context) {
	userID, _ := strconv.Atoi(c.Query("user_id"))
	ok, msg := services.Control.Remove(uint32(userID))
	if !ok {
		utils.Error(c, 4003, msg)
		return
	}
	utils.Success(c, msg, nil)
}

// AdminListCheating 分页查询作弊记录及总体统计
func AdminListCheating(c *gin.Context) {
	page, limit, offset := pageParams(c)

	var total int64
	database.DB.Model(&models.CheatingAttempt{}).Count(&total)

	var attempts []models.CheatingAttempt
	if err := database.DB.Order("attempt_time DESC").Offset(offset).Limit(limit).Find(&attempts).Error; err != nil {
		utils.Error(c, 5000, "Query failed: "+err.Error())
		return
	}

	var uniqueCheaters, uniqueVictims, affectedChallenges int64
	database.DB.Model(&models.CheatingAttempt{}).Distinct("cheater_user_id").Count(&uniqueCheaters)
	database.DB.Model(&models.CheatingAttempt{}).Distinct("victim_user_id").Count(&uniqueVictims)
	database.DB.Model(&models.CheatingAttempt{}).Distinct("challenge_id").Count(&affectedChallenges)

	utils.Success(c, "success", gin.H{
		"total":    total,
		"page":     page,
		"per_page": limit,
		"attempts": attempts,
		"stats": gin.H{
			"total_attempts":      total,
			"unique_cheaters":     uniqueCheaters,
			"unique_victims":      uniqueVictims,
			"affected_challenges": affectedChallenges,
		},
	})
}

// AdminCheatingStats 作弊统计明细：头部作弊者/受害者/受影响题目和近 7 天趋势
func AdminCheatingStats(c *gin.Context) {
	type countRow struct {
		ID    uint32 `json:"id"`
		Count int64  `json:"count"`
	}

	var topCheaters []countRow
	database.DB.Model(&models.CheatingAttempt{}).
		Select("cheater_user_id AS id, COUNT(*) AS count").
		Group("cheater_user_id").Order("count DESC").Limit(10).Scan(&topCheaters)

	var topVictims []countRow
	database.DB.Model(&models.CheatingAttempt{}).
		Select("victim_user_id AS id, COUNT(*) AS count").
		Group("victim_user_id").Order("count DESC").Limit(10).Scan(&topVictims)

	var topChallenges []countRow
	database.DB.Model(&models.CheatingAttempt{}).
		Select("challenge_id AS id, COUNT(*) AS count").
		Group("challenge_id").Order("count DESC").Limit(10).Scan(&topChallenges)

	var total, recent int64
	database.DB.Model(&models.CheatingAttempt{}).Count(&total)
	weekAgo := time.Now().AddDate(0, 0, -7)
	database.DB.Model(&models.CheatingAttempt{}).Where("attempt_time >= ?", weekAgo).Count(&recent)

	utils.Success(c, "success", gin.H{
		"total_attempts":      total,
		"recent_attempts":     recent,
		"top_cheaters":        topCheaters,
		"top_victims":         topVictims,
		"affected_challenges": topChallenges,
	})
}

// AdminExportCheating 导出作弊记录 CSV
func AdminExportCheating(c *gin.Context) {
	var attempts []models.CheatingAttempt
	if err := database.DB.Order("attempt_time DESC").Find(&attempts).Error; err != nil {
		utils.Error(c, 5000, "Query failed: "+err.Error())
		return
	}

	var sb strings.Builder
	writer := csv.NewWriter(&sb)
	_ = writer.Write([]string{
		"Timestamp", "Cheater_ID", "Cheater_Name", "Victim_ID", "Victim_Name",
		"Challenge_ID", "Challenge_Name", "Challenge_Category",
		"Submitted_Flag", "Cheater_IP", "User_Agent",
	})
	for _, a := range attempts {
		var cheater, victim models.User
		database.DB.Select("username").First(&cheater, a.CheaterUserID)
		database.DB.Select("username").First(&victim, a.VictimUserID)
		var challenge models.Challenge
		database.DB.Select("challenge_name, category").First(&challenge, a.ChallengeID)
		_ = writer.Write([]string{
			a.AttemptTime.Format("2006-01-02 15:04:05"),
			strconv.Itoa(int(a.CheaterUserID)),
			cheater.Username,
			strconv.Itoa(int(a.VictimUserID)),
			victim.Username,
			strconv.Itoa(int(a.ChallengeID)),
			challenge.ChallengeName,
			challenge.Category,
			a.SubmittedFlag,
			a.CheaterIP,
			a.UserAgent,
		})
	}
	writer.Flush()

	filename := fmt.Sprintf("cheating_report_%s.csv", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.String(200, sb.String())
}

// AdminClearCheating 清理 30 天前的作弊记录
func AdminClearCheating(c *gin.Context) {
	cutoff := time.Now().AddDate(0, 0, -30)
	result := database.DB.Where("attempt_time < ?", cutoff).Delete(&models.CheatingAttempt{})
	if result.Error != nil {
		utils.Error(c, 5000, "Failed to clear records: "+result.Error.Error())
		return
	}
	utils.Success(c, fmt.Sprintf("Cleared %d old cheating records (older than 30 days)", result.RowsAffected), nil)
}

// AdminListImages 按配置的前缀列出本地镜像
func AdminListImages(c *gin.Context) {
	if services.Docker == nil {
		utils.Error(c, 5002, "Docker engine is not available")
		return
	}
	prefix := services.GetSetting("docker_image_prefix")
	if prefix == "" {
		utils.Error(c, 1003, "No image prefix configured. Please set docker_image_prefix in settings.")
		return
	}

	images, err := services.Docker.ListImagesByPrefix(prefix)
	if err != nil {
		utils.Error(c, 5000, "Error fetching images: "+err.Error())
		return
	}
	utils.Success(c, "success", gin.H{
		"images": images,
		"prefix": prefix,
		"total":  len(images),
	})
}

// AdminPullImage 拉取镜像
func AdminPullImage(c *gin.Context) {
	if services.Docker == nil {
		utils.Error(c, 5002, "Docker engine is not available")
		return
	}
	name := c.Query("name")
	if name == "" {
		utils.Error(c, 1001, "Missing image name")
		return
	}
	if err := services.Docker.PullImage(name); err != nil {
		utils.Error(c, 5000, err.Error())
		return
	}
	utils.Success(c, "Successfully pulled image: "+name, nil)
}

// AdminRemoveImage 删除镜像
func AdminRemoveImage(c *gin.Context) {
	if services.Docker == nil {
		utils.Error(c, 5002, "Docker engine is not available")
		return
	}
	name := c.Query("name")
	if name == "" {
		utils.Error(c, 1001, "Missing image name")
		return
	}
	force := c.Query("force") == "true"
	if err := services.Docker.RemoveImage(name, force); err != nil {
		utils.Error(c, 5000, err.Error())
		return
	}
	utils.Success(c, "Successfully removed image: "+name, nil)
}

// AdminReloadDocker 配置变更后重建引擎客户端
func AdminReloadDocker(c *gin.Context) {
	if err := services.ReinitDocker(); err != nil {
		utils.Error(c, 5002, err.Error())
		return
	}
	services.Control.Engine = services.Docker
	utils.Success(c, "Docker client reinitialized", nil)
}

// AdminUpdateSettings 批量更新运行时配置
func AdminUpdateSettings(c *gin.Context) {
	var req map[string]string
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 1001, "Invalid request: "+err.Error())
		return
	}
	for key, value := range req {
		if err := services.SetSetting(key, value); err != nil {
			utils.Error(c, 5000, "Failed to save setting "+key+": "+err.Error())
			return
		}
	}
	utils.Success(c, "Settings updated", nil)
}
