package pipeline

import "fmt"

// ConfigError reports a violated invariant at pipeline construction time
// (duplicate names, cross-stage edge, missing parent, a service job with
// no image, a non-service job with no command). It is always surfaced
// immediately and aborts before any container runs.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config error: " + e.Reason }

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// TriggerFailed wraps a container-backend rejection of a run call. It is
// recorded as the job's terminal FAILED state and does not abort the
// pipeline; downstream jobs are SKIPPED as normal.
type TriggerFailed struct {
	Job string
	Err error
}

func (e *TriggerFailed) Error() string {
	return fmt.Sprintf("trigger failed for job %q: %v", e.Job, e.Err)
}

func (e *TriggerFailed) Unwrap() error { return e.Err }

// InspectTransient wraps a transient backend error seen while polling job
// status. It causes no state change; the caller retries next tick.
type InspectTransient struct {
	Job string
	Err error
}

func (e *InspectTransient) Error() string {
	return fmt.Sprintf("transient inspect error for job %q: %v", e.Job, e.Err)
}

func (e *InspectTransient) Unwrap() error { return e.Err }

// PlatformError wraps a failure publishing a report. It is logged and the
// pipeline continues.
type PlatformError struct {
	Err error
}

func (e *PlatformError) Error() string { return fmt.Sprintf("platform error: %v", e.Err) }

func (e *PlatformError) Unwrap() error { return e.Err }

// TimeoutError marks wall-clock expiry of a job.
type TimeoutError struct {
	Job     string
	Elapsed string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %q timed out after %s", e.Job, e.Elapsed)
}

// FatalError marks a backend that is unreachable during setup or
// create-network after exhausting retries. The scheduler aborts the
// pipeline after teardown.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }

func (e *FatalError) Unwrap() error { return e.Err }
