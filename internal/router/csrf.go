package router

import (
	"net/http"

	"github.com/RohitKrishnan4943/ProctorVision/internal/handlers"
	"github.com/RohitKrishnan4943/ProctorVision/internal/utils"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	csrfTokenSessionKey = "csrf_token"
	csrfTokenHeaderKey  = "X-CSRF-Token"
)

// CSRFProtection keeps a per-session token and requires it in the
// X-CSRF-Token header of every unsafe request.
func CSRFProtection(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)

		token, _ := session.Get(csrfTokenSessionKey).(string)
		if token == "" {
			newToken, err := utils.GenerateSecureToken(32)
			if err != nil {
				log.Error("Failed to generate CSRF token", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
				return
			}
			token = newToken
			session.Set(csrfTokenSessionKey, token)
			if err := session.Save(); err != nil {
				log.Error("Failed to save session", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
				return
			}
		}

		c.Set(handlers.CSRFTokenKey, token)

		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			submitted := c.GetHeader(csrfTokenHeaderKey)
			if submitted == "" || !utils.ConstantTimeEqual(submitted, token) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid CSRF token"})
				return
			}
		}

		c.Next()
	}
}
