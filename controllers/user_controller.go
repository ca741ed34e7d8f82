package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/ScribblerCoder/ctfd-whale/database"
	"github.com/ScribblerCoder/ctfd-whale/models"
	"github.com/ScribblerCoder/ctfd-whale/utils"
)

// Register 用户注册
func Register(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required,min=8"`
		Email    string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 1001, "Invalid request: "+err.Error())
		return
	}

	user := models.User{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		Role:     models.RoleUser,
		Status:   models.StatusActive,
	}
	if err := database.DB.Create(&user).Error; err != nil {
		utils.Error(c, 2001, "Username or email already taken")
		return
	}
	utils.Success(c, "Registered successfully", gin.H{"id": user.ID})
}

// Login 用户登录，返回 JWT
func Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 1001, "Invalid request: "+err.Error())
		return
	}

	var user models.User
	if err := database.DB.Where("username = ?", req.Username).First(&user).Error; err != nil {
		utils.Error(c, 2002, "Invalid username or password")
		return
	}
	if !user.CheckPassword(req.Password) {
		utils.Error(c, 2002, "Invalid username or password")
		return
	}
	if user.Status == models.StatusBanned {
		utils.Error(c, 2003, "Account is banned")
		return
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		utils.Error(c, 5000, "Failed to generate token")
		return
	}
	utils.Success(c, "Login successful", gin.H{"token": token, "role": user.Role})
}
