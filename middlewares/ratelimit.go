package middlewares

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ScribblerCoder/ctfd-whale/database"
	"github.com/ScribblerCoder/ctfd-whale/services"
	"github.com/ScribblerCoder/ctfd-whale/utils"
)

// FrequencyLimitMiddleware 限制单个用户对实例操作接口的请求频率，
// 按分钟窗口在 redis 里计数。
func FrequencyLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDAny, exists := c.Get("user_id")
		if !exists {
			c.Next()
			return
		}
		userID := userIDAny.(uint32)

		limit := services.GetSettingInt("frequency_limit")
		if limit <= 0 {
			c.Next()
			return
		}

		key := fmt.Sprintf("whale:freq:%d", userID)
		// INCR 和设 TTL 走同一个 pipeline，计数键不会留下无 TTL 的残骸
		pipe := database.RDB.TxPipeline()
		incr := pipe.Incr(database.Ctx, key)
		pipe.ExpireNX(database.Ctx, key, time.Minute)
		if _, err := pipe.Exec(database.Ctx); err != nil {
			// redis 出问题时放行，不把限频做成单点
			c.Next()
			return
		}
		if count := incr.Val(); count > int64(limit) {
			utils.Error(c, 4029, "Too many requests, slow down.")
			c.Abort()
			return
		}
		c.Next()
	}
}
