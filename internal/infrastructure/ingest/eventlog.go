package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/procsight/baseline-monitor/internal/domain/deviation"
)

// EventLogSource reads JSON-lines telemetry appended to a log file. The
// source remembers its byte offset between fetches so each event is
// delivered once, and detects truncation (log rotation) by a shrinking
// file size.
type EventLogSource struct {
	path         string
	engagementID string
	logger       *zap.Logger

	mu     sync.Mutex
	offset int64
}

// NewEventLogSource creates a source over the given JSONL file. The file
// does not need to exist yet; fetches before it appears return no events.
func NewEventLogSource(path, engagementID string) *EventLogSource {
	return &EventLogSource{
		path:         path,
		engagementID: engagementID,
		logger:       zap.L().Named("ingest.eventlog"),
	}
}

// Fetch reads and decodes lines appended since the previous fetch.
func (s *EventLogSource) Fetch(ctx context.Context) ([]deviation.TelemetryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log %s: %w", s.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stating event log %s: %w", s.path, err)
	}
	if info.Size() < s.offset {
		// File shrank, assume rotation and start over.
		s.logger.Info("event log truncated, resetting cursor",
			zap.String("path", s.path),
			zap.Int64("previous_offset", s.offset))
		s.offset = 0
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking event log %s: %w", s.path, err)
	}

	events, consumed, err := decodeEventLines(ctx, f, s.engagementID, s.logger)
	if err != nil {
		return nil, err
	}
	s.offset += consumed
	return events, nil
}

// Close is a no-op; the file is opened per fetch.
func (s *EventLogSource) Close() error {
	return nil
}

// decodeEventLines parses newline-delimited JSON telemetry events, skipping
// malformed lines rather than failing the whole batch. Only lines terminated
// by a newline count as consumed, so a partially written trailing line is
// retried on the next fetch.
func decodeEventLines(ctx context.Context, r io.Reader, engagementID string, logger *zap.Logger) ([]deviation.TelemetryEvent, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("reading telemetry lines: %w", err)
	}

	// Drop an unterminated trailing fragment.
	end := bytes.LastIndexByte(data, '\n') + 1
	data = data[:end]

	var events []deviation.TelemetryEvent
	for _, line := range bytes.Split(data, []byte("\n")) {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if len(line) == 0 {
			continue
		}

		var ev deviation.TelemetryEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Warn("skipping malformed telemetry line", zap.Error(err))
			continue
		}
		if ev.ActivityName == "" {
			logger.Warn("skipping telemetry event without activity name",
				zap.String("event_id", ev.ID))
			continue
		}
		if ev.EngagementID == "" {
			ev.EngagementID = engagementID
		}
		events = append(events, ev)
	}
	return events, int64(end), nil
}
