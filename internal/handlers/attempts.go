package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/RohitKrishnan4943/ProctorVision/internal/hub"
	"github.com/RohitKrishnan4943/ProctorVision/internal/models"
	"github.com/RohitKrishnan4943/ProctorVision/internal/proctor"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AttemptStore starts and loads submissions.
type AttemptStore interface {
	SubmissionReader
	StartOrResume(ctx context.Context, examID, studentID uint, now time.Time) (*models.Submission, bool, error)
}

type AttemptHandler struct {
	log    *zap.Logger
	subs   AttemptStore
	engine *proctor.Engine
	hub    *hub.Hub
	now    func() time.Time
}

func NewAttemptHandler(log *zap.Logger, subs AttemptStore, engine *proctor.Engine, h *hub.Hub) *AttemptHandler {
	return &AttemptHandler{
		log:    log,
		subs:   subs,
		engine: engine,
		hub:    h,
		now:    time.Now,
	}
}

type startRequest struct {
	ExamID uint `json:"exam_id" binding:"required"`
}

// Start handles POST /api/attempts. An open attempt at the same exam is
// resumed instead of starting a new one.
func (h *AttemptHandler) Start(c *gin.Context) {
	studentID, ok := currentStudent(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid exam id"})
		return
	}

	sub, created, err := h.subs.StartOrResume(c.Request.Context(), req.ExamID, studentID, h.now())
	if err != nil {
		h.log.Error("Failed to start attempt",
			zap.Uint("examID", req.ExamID),
			zap.Uint("studentID", studentID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start attempt"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.log.Info("Attempt started", zap.Uint("submissionID", sub.ID), zap.Uint("examID", sub.ExamID), zap.Uint("studentID", studentID))
	}
	c.JSON(status, sub)
}

// Get handles GET /api/attempts/:submissionID.
func (h *AttemptHandler) Get(c *gin.Context) {
	sub, ok := ownedSubmission(c, h.subs, h.log)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Complete handles POST /api/attempts/:submissionID/complete, the normal
// submit. It succeeds at most once per submission.
func (h *AttemptHandler) Complete(c *gin.Context) {
	sub, ok := ownedSubmission(c, h.subs, h.log)
	if !ok {
		return
	}

	completed, err := h.engine.Complete(c.Request.Context(), attemptOf(sub))
	if err != nil {
		h.log.Error("Failed to complete attempt", zap.Uint("submissionID", sub.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to complete attempt"})
		return
	}
	if !completed {
		c.JSON(http.StatusConflict, gin.H{"error": "Submission already completed"})
		return
	}
	h.hub.CloseSubmission(sub.ID, websocket.CloseNormalClosure, "submitted")
	h.log.Info("Attempt submitted", zap.Uint("submissionID", sub.ID))

	updated, err := h.subs.Get(c.Request.Context(), sub.ID)
	if err != nil {
		h.log.Error("Failed to reload submission", zap.Uint("submissionID", sub.ID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"id": sub.ID, "status": models.StatusCompleted})
		return
	}
	c.JSON(http.StatusOK, updated)
}
