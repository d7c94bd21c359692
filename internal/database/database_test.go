package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/RohitKrishnan4943/ProctorVision/internal/config"
	"github.com/RohitKrishnan4943/ProctorVision/internal/models"
	"go.uber.org/zap"
)

func TestOpenSQLiteMigrates(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "nested", "proctor.db")}
	db, err := Open(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, table := range []any{&models.Submission{}, &models.CheatingEvent{}, &models.SystemLog{}} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table for %T", table)
		}
	}

	sub := models.Submission{ExamID: 1, StudentID: 2, Status: models.StatusInProgress, StartedAt: time.Now()}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("create submission: %v", err)
	}
	dup := models.Submission{ExamID: 1, StudentID: 2, Status: models.StatusInProgress, StartedAt: time.Now()}
	if err := db.Create(&dup).Error; err == nil {
		t.Fatal("expected a second open attempt to violate the unique index")
	}

	// A completed attempt does not block a new one.
	if err := db.Model(&sub).Update("status", models.StatusCompleted).Error; err != nil {
		t.Fatal(err)
	}
	retake := models.Submission{ExamID: 1, StudentID: 2, Status: models.StatusInProgress, StartedAt: time.Now()}
	if err := db.Create(&retake).Error; err != nil {
		t.Fatalf("expected retake to be allowed: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "oracle"}, zap.NewNop()); err == nil {
		t.Fatal("expected an error for an unknown driver")
	}
}
