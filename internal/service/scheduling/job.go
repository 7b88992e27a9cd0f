package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/procsight/baseline-monitor/internal/domain/errors"
)

// SourceType selects the ingestion mechanism feeding a monitoring job.
type SourceType string

const (
	SourceEventLog   SourceType = "event_log"
	SourceTaskMining SourceType = "task_mining"
	SourceSystemAPI  SourceType = "system_api"
	SourceFileWatch  SourceType = "file_watch"
)

// Status is the lifecycle status of a monitoring job.
type Status string

const (
	StatusConfiguring Status = "configuring"
	StatusActive      Status = "active"
	StatusPaused      Status = "paused"
	StatusError       Status = "error"
	StatusStopped     Status = "stopped"
)

// Job is the monitoring configuration for one engagement and source. The
// cron schedule gates when a batch comparison against the baseline runs.
type Job struct {
	ID           uuid.UUID         `json:"id"`
	EngagementID string            `json:"engagement_id"`
	Name         string            `json:"name"`
	SourceType   SourceType        `json:"source_type"`
	Status       Status            `json:"status"`
	ScheduleCron string            `json:"schedule_cron"`
	Config       map[string]string `json:"config,omitempty"`
	BaselineID   string            `json:"baseline_id,omitempty"`
	LastRunAt    *time.Time        `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time        `json:"next_run_at,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// requiredConfigFields maps each source type to the config field it cannot
// run without.
var requiredConfigFields = map[SourceType]string{
	SourceEventLog:  "log_source",
	SourceSystemAPI: "endpoint_url",
	SourceFileWatch: "watch_path",
}

// ValidateJobConfig checks a job's source configuration and returns one
// human-readable message per problem. Task mining has no required fields.
func ValidateJobConfig(sourceType SourceType, config map[string]string) []string {
	var problems []string

	field, ok := requiredConfigFields[sourceType]
	if !ok {
		return problems
	}
	if config == nil || config[field] == "" {
		problems = append(problems, fmt.Sprintf("%s source requires config field '%s'", sourceType, field))
	}
	return problems
}

// NewJob validates the schedule and source configuration and creates a job
// in configuring status. Configuration errors are rejected here, before the
// job can ever be scheduled.
func NewJob(engagementID, name string, sourceType SourceType, scheduleCron string, config map[string]string) (*Job, error) {
	if engagementID == "" {
		return nil, errors.NewValidationError("MISSING_ENGAGEMENT", "engagement id is required")
	}
	if !ValidateCronExpression(scheduleCron) {
		return nil, errors.ErrInvalidCron.WithDetails(map[string]interface{}{"schedule_cron": scheduleCron})
	}
	if problems := ValidateJobConfig(sourceType, config); len(problems) > 0 {
		return nil, errors.NewConfigurationError("INVALID_SOURCE_CONFIG", problems[0]).
			WithDetails(map[string]interface{}{"problems": problems})
	}

	now := time.Now().UTC()
	return &Job{
		ID:           uuid.New(),
		EngagementID: engagementID,
		Name:         name,
		SourceType:   sourceType,
		Status:       StatusConfiguring,
		ScheduleCron: scheduleCron,
		Config:       config,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Activate marks the job runnable and computes its next run time. A schedule
// with no match within the scan horizon is a configuration error.
func (j *Job) Activate(now time.Time) error {
	next, ok := CalculateNextRun(j.ScheduleCron, now)
	if !ok {
		return errors.NewConfigurationError("UNSATISFIABLE_SCHEDULE",
			fmt.Sprintf("schedule %q has no run time within %d minutes", j.ScheduleCron, NextRunHorizonMinutes))
	}
	j.Status = StatusActive
	j.NextRunAt = &next
	j.UpdatedAt = now
	return nil
}

// MarkRun records a completed evaluation run and advances the next run time.
func (j *Job) MarkRun(now time.Time) {
	j.LastRunAt = &now
	if next, ok := CalculateNextRun(j.ScheduleCron, now); ok {
		j.NextRunAt = &next
	} else {
		j.NextRunAt = nil
	}
	j.UpdatedAt = now
}

// MarkError pauses the job with an error message.
func (j *Job) MarkError(now time.Time, msg string) {
	j.Status = StatusError
	j.ErrorMessage = msg
	j.UpdatedAt = now
}

// Due reports whether the job's schedule matches the given instant and the
// job is active.
func (j *Job) Due(now time.Time) bool {
	return j.Status == StatusActive && ShouldRunNow(j.ScheduleCron, now)
}
