package subs

import (
	"time"

	logx "telegag/pkg/logx"
)

// warmupSchedule fires once after a fixed warm-up, then at a constant
// interval. It implements cron.Schedule.
type warmupSchedule struct {
	notBefore time.Time
	every     time.Duration
}

func (s warmupSchedule) Next(t time.Time) time.Time {
	if t.Before(s.notBefore) {
		return s.notBefore
	}
	return t.Add(s.every)
}

// cronLogger adapts logx to cron.Logger so chain wrappers (skip/recover)
// report through the service logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Warn("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	fields := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, logx.Any(k, kv[i+1]))
	}
	return fields
}
