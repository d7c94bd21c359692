package logger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormZapLogger routes GORM's statements and errors into zap. Lines carry
// the request and submission fields attached to the query context.
type GormZapLogger struct {
	ZapLogger     *zap.Logger
	LogLevel      logger.LogLevel
	SlowThreshold time.Duration
}

// NewGormZapLogger creates a new GormZapLogger at WARN level.
func NewGormZapLogger(zapLogger *zap.Logger) *GormZapLogger {
	return &GormZapLogger{
		ZapLogger:     zapLogger.Named("gorm"),
		LogLevel:      logger.Warn,
		SlowThreshold: 200 * time.Millisecond,
	}
}

func (l *GormZapLogger) LogMode(level logger.LogLevel) logger.Interface {
	next := *l
	next.LogLevel = level
	return &next
}

func (l *GormZapLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, logger.Info, msg, data)
}

func (l *GormZapLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, logger.Warn, msg, data)
}

func (l *GormZapLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, logger.Error, msg, data)
}

func (l *GormZapLogger) message(ctx context.Context, level logger.LogLevel, msg string, data []interface{}) {
	if l.LogLevel < level {
		return
	}
	log := l.ZapLogger.With(Fields(ctx)...)
	text := fmt.Sprintf(msg, data...)
	switch level {
	case logger.Error:
		log.Error(text)
	case logger.Warn:
		log.Warn(text)
	default:
		log.Debug(text)
	}
}

// Trace reports failed statements at ERROR, slow ones at WARN and, in Info
// mode, every statement at DEBUG.
func (l *GormZapLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := l.SlowThreshold > 0 && elapsed > l.SlowThreshold

	var level logger.LogLevel
	switch {
	case failed:
		level = logger.Error
	case slow:
		level = logger.Warn
	default:
		level = logger.Info
	}
	if l.LogLevel < level {
		return
	}

	sql, rows := fc()
	fields := append(slices.Clone(Fields(ctx)),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	)
	switch level {
	case logger.Error:
		l.ZapLogger.Error("Query failed", append(fields, zap.Error(err))...)
	case logger.Warn:
		l.ZapLogger.Warn("Slow query", append(fields, zap.Duration("threshold", l.SlowThreshold))...)
	default:
		l.ZapLogger.Debug("Query", fields...)
	}
}
