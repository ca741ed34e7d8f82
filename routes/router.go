package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/ScribblerCoder/ctfd-whale/controllers"
	"github.com/ScribblerCoder/ctfd-whale/middlewares"
	"github.com/ScribblerCoder/ctfd-whale/models"
)

func SetupRouter() *gin.Engine {
	r := gin.Default()

	apiV1 := r.Group("/api/v1")
	{
		usersPublic := apiV1.Group("/users")
		{
			usersPublic.POST("/register", controllers.Register)
			usersPublic.POST("/login", controllers.Login)
		}

		// --- 题目 ---
		challengeRoutes := apiV1.Group("/challenges")
		{
			challengeRoutes.GET("", middlewares.JWTAuthMiddleware(), controllers.ListChallenges)
			challengeRoutes.POST("/:id/submit", middlewares.JWTAuthMiddleware(), controllers.SubmitFlag)

			challengeRoutes.POST("", middlewares.JWTAuthMiddleware(), middlewares.RoleAuthMiddleware(models.RoleAdmin), controllers.CreateChallenge)
			challengeRoutes.PUT("/:id", middlewares.JWTAuthMiddleware(), middlewares.RoleAuthMiddleware(models.RoleAdmin), controllers.UpdateChallenge)
			challengeRoutes.DELETE("/:id", middlewares.JWTAuthMiddleware(), middlewares.RoleAuthMiddleware(models.RoleAdmin), controllers.DeleteChallenge)
		}

		// --- 实例 ---
		instanceRoutes := apiV1.Group("/instance")
		instanceRoutes.Use(middlewares.JWTAuthMiddleware())
		{
			instanceRoutes.GET("", controllers.GetInstance)
			instanceRoutes.POST("", middlewares.FrequencyLimitMiddleware(), controllers.CreateInstance)
			instanceRoutes.PATCH("", middlewares.FrequencyLimitMiddleware(), controllers.RenewInstance)
			instanceRoutes.DELETE("", middlewares.FrequencyLimitMiddleware(), controllers.DestroyInstance)
		}

		// --- 管理 ---
		adminRoutes := apiV1.Group("/admin")
		adminRoutes.Use(middlewares.JWTAuthMiddleware(), middlewares.RoleAuthMiddleware(models.RoleAdmin))
		{
			adminRoutes.GET("/instances", controllers.AdminListInstances)
			adminRoutes.PATCH("/instances", controllers.AdminRenewInstance)
			adminRoutes.DELETE("/instances", controllers.AdminDestroyInstance)

			adminRoutes.GET("/cheating", controllers.AdminListCheating)
			adminRoutes.GET("/cheating/stats", controllers.AdminCheatingStats)
			adminRoutes.GET("/cheating/export", controllers.AdminExportCheating)
			adminRoutes.POST("/cheating/clear", controllers.AdminClearCheating)

			adminRoutes.GET("/images", controllers.AdminListImages)
			adminRoutes.POST("/images/pull", controllers.AdminPullImage)
			adminRoutes.DELETE("/images", controllers.AdminRemoveImage)

			adminRoutes.POST("/docker/reload", controllers.AdminReloadDocker)
			adminRoutes.PUT("/settings", controllers.AdminUpdateSettings)
		}
	}

	return r
}
