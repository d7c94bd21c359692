package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/RohitKrishnan4943/ProctorVision/internal/config"
	logging "github.com/RohitKrishnan4943/ProctorVision/internal/logging"
	"github.com/RohitKrishnan4943/ProctorVision/internal/models"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init opens the configured database into DB and runs migrations. Failure
// is fatal.
func Init(log *zap.Logger) {
	db, err := Open(config.Conf.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	DB = db
}

// Open connects to postgres or sqlite depending on cfg.Driver and migrates
// the schema.
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	gormLogger := logging.NewGormZapLogger(log)
	gormLogger.LogLevel = logger.Warn
	if cfg.SlowThreshold > 0 {
		gormLogger.SlowThreshold = cfg.SlowThreshold
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres", "":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port)
		dialector = postgres.Open(dsn)
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}

	if cfg.Driver == "sqlite" {
		// SQLite allows one writer; a single connection keeps transactions
		// from failing with SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	log.Info("Database connection established successfully.", zap.String("driver", db.Dialector.Name()))
	if err := runMigrations(db, log); err != nil {
		return nil, err
	}
	return db, nil
}

func runMigrations(db *gorm.DB, log *zap.Logger) error {
	// AutoMigrate does not know about partial or composite ordering indexes;
	// those are created below.
	err := db.AutoMigrate(
		&models.Submission{},
		&models.CheatingEvent{},
		&models.SystemLog{},
	)
	if err != nil {
		return fmt.Errorf("run database migrations: %w", err)
	}
	log.Info("Database migrations completed successfully.")

	indexes := []string{
		// At most one open attempt per student and exam.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_open_attempt ON submissions (exam_id, student_id) WHERE status = 'in_progress';`,
		`CREATE INDEX IF NOT EXISTS idx_cheating_events_timeline ON cheating_events (submission_id, "timestamp");`,
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create custom index: %w", err)
		}
	}
	log.Info("Custom indexes ensured successfully.")
	return nil
}
