package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/schoolhub/student-ledger/pkg/logger"
)

// CronSchedule is a parsed cron expression.
// Supports the standard 5-field format and descriptors:
//   - "15 0 * * *"  - every day at 00:15
//   - "5 0 1 * *"   - first day of every month at 00:05
//   - "@every 1h"   - every hour
type CronSchedule struct {
	raw      string
	schedule cron.Schedule
}

// ParseCron parses a standard cron expression.
func ParseCron(expr string) (*CronSchedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &CronSchedule{raw: expr, schedule: schedule}, nil
}

// Next implements cron.Schedule.
func (c *CronSchedule) Next(t time.Time) time.Time {
	return c.schedule.Next(t)
}

// String returns the original expression.
func (c *CronSchedule) String() string {
	return c.raw
}

// cronLogger routes robfig/cron's logging through the ledger logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, pairs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(pairs(keysAndValues), logger.Err(err))...)
}

func pairs(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
