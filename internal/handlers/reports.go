package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/RohitKrishnan4943/ProctorVision/internal/models"
	"github.com/RohitKrishnan4943/ProctorVision/internal/proctor"
	"github.com/RohitKrishnan4943/ProctorVision/internal/repository"
	"github.com/RohitKrishnan4943/ProctorVision/internal/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReportStore is the read side used by the admin reports.
type ReportStore interface {
	SubmissionReader
	CheatingCases(ctx context.Context, examID uint, limit int) ([]models.Submission, error)
	Events(ctx context.Context, submissionID uint) ([]models.CheatingEvent, error)
	AuditLog(ctx context.Context, submissionID uint) ([]models.SystemLog, error)
	Stats(ctx context.Context) (repository.Stats, error)
}

type ReportHandler struct {
	log     *zap.Logger
	reports ReportStore
}

func NewReportHandler(log *zap.Logger, reports ReportStore) *ReportHandler {
	return &ReportHandler{log: log, reports: reports}
}

// CheatingCases handles GET /api/admin/cheating-cases?exam_id=&limit=.
func (h *ReportHandler) CheatingCases(c *gin.Context) {
	var examID uint
	if raw := c.Query("exam_id"); raw != "" {
		id, ok := utils.ParseID(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid exam id"})
			return
		}
		examID = id
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	cases, err := h.reports.CheatingCases(c.Request.Context(), examID, limit)
	if err != nil {
		h.log.Error("Failed to list cheating cases", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list cheating cases"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": cases, "count": len(cases)})
}

// SubmissionEvents handles GET /api/admin/submissions/:submissionID/events.
func (h *ReportHandler) SubmissionEvents(c *gin.Context) {
	id, ok := utils.ParseID(c.Param("submissionID"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid submission id"})
		return
	}
	ctx := c.Request.Context()

	sub, err := h.reports.Get(ctx, id)
	if err != nil {
		if errors.Is(err, proctor.ErrSubmissionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Submission not found"})
			return
		}
		h.log.Error("Failed to load submission", zap.Uint("submissionID", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load submission"})
		return
	}
	events, err := h.reports.Events(ctx, id)
	if err != nil {
		h.log.Error("Failed to list events", zap.Uint("submissionID", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list events"})
		return
	}
	audit, err := h.reports.AuditLog(ctx, id)
	if err != nil {
		h.log.Error("Failed to load audit log", zap.Uint("submissionID", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load audit log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"submission": sub,
		"events":     events,
		"audit_log":  audit,
	})
}

// Stats handles GET /api/admin/stats.
func (h *ReportHandler) Stats(c *gin.Context) {
	stats, err := h.reports.Stats(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to compute stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
