package cron

import apperrors "github.com/goliatone/go-errors"

const (
	ErrCodeSchedulerClosed          = "SCHEDULER_CLOSED"
	ErrCodeSchedulerShutdownTimeout = "SCHEDULER_SHUTDOWN_TIMEOUT"
	ErrCodeInvalidSchedule          = "SCHEDULER_INVALID_SCHEDULE"
)

var (
	ErrSchedulerClosed = apperrors.New("scheduler is closed", apperrors.CategoryConflict).
				WithTextCode(ErrCodeSchedulerClosed)
	// ErrShutdownTimeout is returned when in-flight jobs outlive the graceful
	// shutdown window and had to be cancelled.
	ErrShutdownTimeout = apperrors.New("scheduler shutdown timed out", apperrors.CategoryInternal).
				WithTextCode(ErrCodeSchedulerShutdownTimeout)
	ErrInvalidSchedule = apperrors.New("invalid schedule", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidSchedule)
)
