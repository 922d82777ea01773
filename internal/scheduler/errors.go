package scheduler

import "errors"

var (
	// ErrInvalidCron is returned when a task's cron expression does not parse
	ErrInvalidCron = errors.New("invalid cron expression")
)
