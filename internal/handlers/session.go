package handlers

import (
	"net/http"

	"github.com/RohitKrishnan4943/ProctorVision/internal/utils"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CSRFTokenKey is the context key holding the session's CSRF token.
const CSRFTokenKey = "csrf_token"

// SessionHandler binds a browser session to a student. The exam platform
// authenticates students and hands them a signed ticket.
type SessionHandler struct {
	log    *zap.Logger
	secret []byte
}

func NewSessionHandler(log *zap.Logger, secret string) *SessionHandler {
	return &SessionHandler{log: log, secret: []byte(secret)}
}

type sessionRequest struct {
	StudentID uint   `json:"student_id" binding:"required"`
	Ticket    string `json:"ticket" binding:"required"`
}

// Show handles GET /api/session and hands out the CSRF token for the
// unsafe requests that follow.
func (h *SessionHandler) Show(c *gin.Context) {
	studentID, _ := currentStudent(c)
	c.JSON(http.StatusOK, gin.H{
		"student_id": studentID,
		"csrf_token": c.GetString(CSRFTokenKey),
	})
}

// Create handles POST /api/session.
func (h *SessionHandler) Create(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}
	if !utils.VerifyStudentTicket(h.secret, req.StudentID, req.Ticket) {
		h.log.Warn("Rejected student ticket", zap.Uint("studentID", req.StudentID), zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid ticket"})
		return
	}

	session := sessions.Default(c)
	session.Set(StudentIDKey, req.StudentID)
	if err := session.Save(); err != nil {
		h.log.Error("Failed to save session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}
	h.log.Info("Student session opened", zap.Uint("studentID", req.StudentID))
	c.JSON(http.StatusOK, gin.H{
		"student_id": req.StudentID,
		"csrf_token": c.GetString(CSRFTokenKey),
	})
}

// Delete handles DELETE /api/session.
func (h *SessionHandler) Delete(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		h.log.Error("Failed to clear session", zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}
