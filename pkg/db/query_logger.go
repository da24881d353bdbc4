package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

// queryLogger routes GORM output into the service logger. Only slow
// statements and real failures are reported; record-not-found is an
// expected outcome for lookups and is ignored.
type queryLogger struct {
	logg *logger.Logger
	slow time.Duration
}

func newQueryLogger(logg *logger.Logger, slow time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &queryLogger{logg: logg, slow: slow}
}

func (l *queryLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return l }

func (l *queryLogger) Info(ctx context.Context, msg string, args ...any) {
	l.logg.Debug(ctx, fmt.Sprintf(msg, args...))
}

func (l *queryLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.logg.Warn(ctx, fmt.Sprintf(msg, args...))
}

func (l *queryLogger) Error(ctx context.Context, msg string, args ...any) {
	l.logg.Error(ctx, fmt.Sprintf(msg, args...), nil)
}

func (l *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, context.Canceled)
	slow := l.slow > 0 && elapsed > l.slow
	if !failed && !slow {
		return
	}

	sql, rows := fc()
	ctx = l.logg.WithFields(ctx, map[string]any{
		"sql":         sql,
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
	})
	if failed {
		l.logg.Error(ctx, "query failed", err)
		return
	}
	l.logg.Warn(ctx, "slow query")
}
