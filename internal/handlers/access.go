package handlers

import (
	"context"
	"errors"
	"net/http"

	logging "github.com/RohitKrishnan4943/ProctorVision/internal/logging"
	"github.com/RohitKrishnan4943/ProctorVision/internal/models"
	"github.com/RohitKrishnan4943/ProctorVision/internal/proctor"
	"github.com/RohitKrishnan4943/ProctorVision/internal/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StudentIDKey is the context key the router's student loader sets.
const StudentIDKey = "studentID"

// SubmissionReader loads a submission by id.
type SubmissionReader interface {
	Get(ctx context.Context, id uint) (*models.Submission, error)
}

func currentStudent(c *gin.Context) (uint, bool) {
	id := c.GetUint(StudentIDKey)
	return id, id != 0
}

// ownedSubmission resolves the :submissionID path parameter to a submission
// belonging to the signed-in student. It writes the error response itself
// and reports false when the handler should stop.
func ownedSubmission(c *gin.Context, subs SubmissionReader, log *zap.Logger) (*models.Submission, bool) {
	studentID, ok := currentStudent(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil, false
	}
	id, ok := utils.ParseID(c.Param("submissionID"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid submission id"})
		return nil, false
	}
	c.Request = c.Request.WithContext(logging.WithFields(c.Request.Context(), zap.Uint("submissionID", id)))

	sub, err := subs.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, proctor.ErrSubmissionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Submission not found"})
			return nil, false
		}
		log.Error("Failed to load submission", zap.Uint("submissionID", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load submission"})
		return nil, false
	}
	if sub.StudentID != studentID {
		log.Warn("Submission accessed by another student",
			zap.Uint("submissionID", id),
			zap.Uint("studentID", studentID),
		)
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return nil, false
	}
	return sub, true
}

func attemptOf(sub *models.Submission) proctor.Attempt {
	return proctor.Attempt{
		SubmissionID: sub.ID,
		Key:          proctor.SessionKey{ExamID: sub.ExamID, StudentID: sub.StudentID},
	}
}
