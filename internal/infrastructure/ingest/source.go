// Package ingest provides telemetry sources feeding monitoring jobs. Each
// source turns raw process telemetry (event log files, polled APIs, watched
// directories) into deviation.TelemetryEvent batches for the detection
// engine.
package ingest

import (
	"context"
	"fmt"

	"github.com/procsight/baseline-monitor/internal/domain/deviation"
	"github.com/procsight/baseline-monitor/internal/domain/errors"
	"github.com/procsight/baseline-monitor/internal/service/scheduling"
)

// Source yields telemetry events for one monitoring job. Fetch returns the
// events observed since the previous call; sources keep their own cursor.
type Source interface {
	// Fetch returns new telemetry events. An empty slice means no new
	// activity, which is itself a signal the detection engine evaluates.
	Fetch(ctx context.Context) ([]deviation.TelemetryEvent, error)

	// Close releases watchers, connections and file handles.
	Close() error
}

// NewSource builds the source matching a job's source type. The job config
// must have passed scheduling.ValidateJobConfig; missing fields are rejected
// again here so a source can never start half-configured.
func NewSource(job *scheduling.Job) (Source, error) {
	if problems := scheduling.ValidateJobConfig(job.SourceType, job.Config); len(problems) > 0 {
		return nil, errors.NewConfigurationError("INVALID_SOURCE_CONFIG", problems[0])
	}

	switch job.SourceType {
	case scheduling.SourceEventLog:
		return NewEventLogSource(job.Config["log_source"], job.EngagementID), nil
	case scheduling.SourceSystemAPI:
		return NewAPIPollSource(APIPollConfig{
			EndpointURL:  job.Config["endpoint_url"],
			AuthToken:    job.Config["auth_token"],
			EngagementID: job.EngagementID,
		}), nil
	case scheduling.SourceFileWatch:
		return NewFileWatchSource(job.Config["watch_path"], job.EngagementID)
	case scheduling.SourceTaskMining:
		// Task mining agents push events through the event log path.
		return NewEventLogSource(job.Config["log_source"], job.EngagementID), nil
	default:
		return nil, errors.NewConfigurationError("UNKNOWN_SOURCE_TYPE",
			fmt.Sprintf("no source implementation for type %q", job.SourceType))
	}
}
