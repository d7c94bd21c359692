package router

import (
	"net/http"

	"github.com/RohitKrishnan4943/ProctorVision/internal/handlers"
	"github.com/RohitKrishnan4943/ProctorVision/internal/utils"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const adminTokenHeader = "X-Admin-Token"

// StudentLoader copies the studentID from the session into the context.
// Students live in the exam platform, so there is nothing to load from the
// database; a malformed session value is cleared.
func StudentLoader() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		raw := session.Get(handlers.StudentIDKey)
		if raw == nil {
			c.Next()
			return
		}
		studentID, ok := raw.(uint)
		if !ok || studentID == 0 {
			session.Delete(handlers.StudentIDKey)
			_ = session.Save()
			c.Next()
			return
		}
		c.Set(handlers.StudentIDKey, studentID)
		c.Next()
	}
}

// StudentRequired rejects requests without a student session.
func StudentRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(handlers.StudentIDKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// AdminRequired checks the X-Admin-Token header against token.
func AdminRequired(log *zap.Logger, token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.ConstantTimeEqual(c.GetHeader(adminTokenHeader), token) {
			log.Warn("Rejected admin request", zap.String("path", c.Request.URL.Path), zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
