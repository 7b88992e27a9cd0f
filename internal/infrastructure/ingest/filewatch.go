package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/procsight/baseline-monitor/internal/domain/deviation"
)

// FileWatchSource watches a directory for JSONL drops from task mining
// agents. Writes and creates are tailed immediately into an in-memory
// buffer; Fetch drains whatever accumulated since the previous call.
type FileWatchSource struct {
	watchPath    string
	engagementID string
	watcher      *fsnotify.Watcher
	logger       *zap.Logger
	done         chan struct{}

	mu      sync.Mutex
	offsets map[string]int64
	buffer  []deviation.TelemetryEvent
}

// NewFileWatchSource starts watching the given directory. The directory
// must exist.
func NewFileWatchSource(watchPath, engagementID string) (*FileWatchSource, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(watchPath); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", watchPath, err)
	}

	s := &FileWatchSource{
		watchPath:    watchPath,
		engagementID: engagementID,
		watcher:      watcher,
		logger:       zap.L().Named("ingest.filewatch"),
		done:         make(chan struct{}),
		offsets:      make(map[string]int64),
	}
	go s.run()

	s.logger.Info("watching for telemetry drops", zap.String("path", watchPath))
	return s, nil
}

func (s *FileWatchSource) run() {
	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			// Editors and agents often save via rename, so catch creates too.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".jsonl") {
				continue
			}
			s.ingestFile(event.Name)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("watcher error", zap.Error(err))
		}
	}
}

// ingestFile tails new lines from one dropped file into the buffer.
func (s *FileWatchSource) ingestFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		s.logger.Warn("cannot open telemetry drop", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()

	offset := s.offsets[path]
	if info, err := f.Stat(); err == nil && info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		s.logger.Warn("cannot seek telemetry drop", zap.String("path", path), zap.Error(err))
		return
	}

	events, consumed, err := decodeEventLines(context.Background(), f, s.engagementID, s.logger)
	if err != nil {
		s.logger.Warn("cannot decode telemetry drop", zap.String("path", path), zap.Error(err))
		return
	}
	s.offsets[path] = offset + consumed
	s.buffer = append(s.buffer, events...)
}

// Fetch drains the buffered events. On the first call it also backfills
// files already present in the watched directory.
func (s *FileWatchSource) Fetch(ctx context.Context) ([]deviation.TelemetryEvent, error) {
	matches, err := filepath.Glob(filepath.Join(s.watchPath, "*.jsonl"))
	if err == nil {
		for _, path := range matches {
			s.mu.Lock()
			_, seen := s.offsets[path]
			s.mu.Unlock()
			if !seen {
				s.ingestFile(path)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.buffer
	s.buffer = nil
	return events, nil
}

// Close stops the watcher goroutine.
func (s *FileWatchSource) Close() error {
	close(s.done)
	return s.watcher.Close()
}
