package infra

import (
	"context"
	"errors"
	"time"

	"coursechat/internal/logger"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// 慢 SQL 判定阈值
const slowSQLThreshold = 200 * time.Millisecond

// gormZapLogger 把 GORM 日志桥接到 zap
// 摄取流程写任务表时，SQL 日志自动附带 ctx 中的任务 ID，便于按任务聚合排查。
// record-not-found 不算错误：课程查询未命中由上层映射为 ErrNotFound。
type gormZapLogger struct {
	zl    *zap.Logger
	level gormlogger.LogLevel
}

func newGormZapLogger(zl *zap.Logger, level gormlogger.LogLevel) *gormZapLogger {
	return &gormZapLogger{zl: zl, level: level}
}

// LogMode 实现 gorm logger.Interface
func (l *gormZapLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

// Info 实现 gorm logger.Interface
func (l *gormZapLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.zl.Sugar().Infof(msg, data...)
	}
}

// Warn 实现 gorm logger.Interface
func (l *gormZapLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.zl.Sugar().Warnf(msg, data...)
	}
}

// Error 实现 gorm logger.Interface
func (l *gormZapLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.zl.Sugar().Errorf(msg, data...)
	}
}

// Trace 记录每条 SQL：失败 → Error，慢查询 → Warn，其余 Debug
func (l *gormZapLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := l.fieldsFrom(ctx,
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	)

	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound):
		l.zl.Error("SQL 执行失败", append(fields, zap.Error(err))...)
	case l.level >= gormlogger.Warn && elapsed > slowSQLThreshold:
		l.zl.Warn("SQL 慢查询", fields...)
	case l.level >= gormlogger.Info:
		l.zl.Debug("SQL 执行", fields...)
	}
}

// fieldsFrom 组装 SQL 日志字段，ctx 中有摄取任务 ID 时一并带上
func (l *gormZapLogger) fieldsFrom(ctx context.Context, fields ...zap.Field) []zap.Field {
	if jobID := logger.GetJobID(ctx); jobID != "" {
		fields = append(fields, zap.String("job_id", jobID))
	}
	return fields
}
