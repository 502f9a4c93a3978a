package middleware

import (
	"errors"
	"quizmark_backend/internal/config"
	"quizmark_backend/internal/util"
	"quizmark_backend/pkg/logger"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}

		// 下载链接无法携带请求头
		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(tokenString, cfg.JWT.Secret)
		if err != nil {
			logger.Log.Debug("Rejected token", zap.String("path", c.FullPath()), zap.Error(err))
			util.Unauthorized(c)
			c.Abort()
			return
		}

		c.Set("user", claims)
		c.Next()
	}
}

// RoleMiddleware 管理员拥有所有教师权限
func RoleMiddleware(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := util.GetUserFromContext(c)
		if user == nil {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		hasRole := user.Role == util.RoleAdmin
		for _, role := range roles {
			if user.Role == role {
				hasRole = true
				break
			}
		}

		if !hasRole {
			util.Forbidden(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

type QuizAccessChecker interface {
	CheckAccess(quizID string, userID uint, role string) error
}

// QuizAccess 只允许试卷所有者和管理员访问 :quizId 下的路由
func QuizAccess(checker QuizAccessChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := util.GetUserFromContext(c)
		if user == nil {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		err := checker.CheckAccess(c.Param("quizId"), user.UserID, user.Role)
		switch {
		case err == nil:
			c.Next()
			return
		case errors.Is(err, util.ErrQuizNotFound):
			util.NotFound(c, err.Error())
		case errors.Is(err, util.ErrPermissionDenied):
			util.Forbidden(c)
		default:
			util.LogInternalError(c, err)
		}
		c.Abort()
	}
}
