package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"coursechat/internal/logger"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func newObservedGormLogger(level gormlogger.LogLevel) (*gormZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return newGormZapLogger(zap.New(core), level), logs
}

func selectOne() (string, int64) { return "SELECT 1", 1 }

func TestTraceAttachesJobID(t *testing.T) {
	l, logs := newObservedGormLogger(gormlogger.Info)

	ctx := logger.WithJobID(context.Background(), "job-42")
	l.Trace(ctx, time.Now(), selectOne, nil)

	entries := logs.FilterMessage("SQL 执行").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "job-42", fields["job_id"])
	require.Equal(t, "SELECT 1", fields["sql"])

	// 无任务 ID 的 ctx 不带 job_id 字段
	l.Trace(context.Background(), time.Now(), selectOne, nil)
	entries = logs.FilterMessage("SQL 执行").All()
	require.Len(t, entries, 2)
	require.NotContains(t, entries[1].ContextMap(), "job_id")
}

func TestTraceLogsErrors(t *testing.T) {
	l, logs := newObservedGormLogger(gormlogger.Warn)

	l.Trace(context.Background(), time.Now(), selectOne, errors.New("connection reset"))
	require.Equal(t, 1, logs.FilterMessage("SQL 执行失败").Len())

	// record-not-found 不是错误，上层自行映射 ErrNotFound
	l.Trace(context.Background(), time.Now(), selectOne, gormlogger.ErrRecordNotFound)
	require.Equal(t, 1, logs.FilterMessage("SQL 执行失败").Len())
}

func TestTraceWarnsOnSlowQuery(t *testing.T) {
	l, logs := newObservedGormLogger(gormlogger.Warn)

	begin := time.Now().Add(-slowSQLThreshold - time.Second)
	l.Trace(context.Background(), begin, selectOne, nil)
	require.Equal(t, 1, logs.FilterMessage("SQL 慢查询").Len())
}

func TestTraceSilentLogsNothing(t *testing.T) {
	l, logs := newObservedGormLogger(gormlogger.Silent)

	l.Trace(context.Background(), time.Now(), selectOne, errors.New("boom"))
	require.Equal(t, 0, logs.Len())
}

func TestLogModeReturnsClone(t *testing.T) {
	l, _ := newObservedGormLogger(gormlogger.Warn)

	quiet := l.LogMode(gormlogger.Silent)
	require.NotSame(t, l, quiet)
	require.Equal(t, gormlogger.Warn, l.level)
}
