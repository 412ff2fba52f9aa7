// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/xdg"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// DefaultBufferSize is the capacity of the async queue.
const DefaultBufferSize = 256

// writeTimeout bounds a single backend write from the async consumer.
const writeTimeout = 5 * time.Second

// ErrClosed is returned by LogAction after Close.
var ErrClosed = errors.New("audit logger is closed")

var (
	failuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatehouse_audit_failures_total",
		Help: "Total number of audit logging failures",
	}, []string{"reason"})

	walEntriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gatehouse_audit_wal_entries",
		Help: "Current number of entries in the audit WAL",
	})
)

// DefaultWALPath returns the WAL location in the XDG state directory.
func DefaultWALPath() (string, error) {
	dir, err := xdg.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audit-wal.jsonl"), nil
}

// Logger is an asynchronous Sink. Entries are queued and written by a
// single consumer; when the backend fails or the queue is full the entry
// is appended to a JSONL write-ahead log for later replay.
type Logger struct {
	writer  Writer
	log     *slog.Logger
	now     func() time.Time
	walPath string

	walMu   sync.Mutex
	walFile *os.File

	mu     sync.RWMutex
	closed bool
	queue  chan Entry
	wg     sync.WaitGroup
}

// NewLogger starts a Logger. An empty walPath uses DefaultWALPath.
func NewLogger(writer Writer, walPath string, logger *slog.Logger) (*Logger, error) {
	if writer == nil {
		return nil, oops.Code("AUDIT_INVALID_CONFIG").Errorf("writer is required")
	}
	if logger == nil {
		return nil, oops.Code("AUDIT_INVALID_CONFIG").Errorf("logger is required")
	}
	if walPath == "" {
		var err error
		if walPath, err = DefaultWALPath(); err != nil {
			return nil, oops.Code("AUDIT_INVALID_CONFIG").With("operation", "resolve WAL path").Wrap(err)
		}
	}

	l := &Logger{
		writer:  writer,
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
		walPath: walPath,
		queue:   make(chan Entry, DefaultBufferSize),
	}
	l.wg.Add(1)
	go l.consume()
	return l, nil
}

// LogAction queues an entry. It only fails after Close.
func (l *Logger) LogAction(_ context.Context, userID string, action Action, metadata map[string]string) error {
	entry := NewEntry(userID, action, metadata, l.now())

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}

	select {
	case l.queue <- entry:
	default:
		failuresCounter.WithLabelValues("queue_full").Inc()
		l.fallback(entry, errors.New("audit queue full"))
	}
	return nil
}

func (l *Logger) consume() {
	defer l.wg.Done()
	for entry := range l.queue {
		l.write(entry)
	}
}

func (l *Logger) write(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := l.writer.Write(ctx, entry); err != nil {
		failuresCounter.WithLabelValues("write_failed").Inc()
		l.fallback(entry, err)
	}
}

func (l *Logger) fallback(entry Entry, cause error) {
	if walErr := l.appendWAL(entry); walErr != nil {
		failuresCounter.WithLabelValues("wal_failed").Inc()
		l.log.Error("audit entry dropped: backend and WAL both failed",
			"write_error", cause,
			"wal_error", walErr,
			"user_id", entry.UserID,
			"action", string(entry.Action),
		)
		return
	}
	l.log.Warn("audit entry written to WAL",
		"error", cause,
		"user_id", entry.UserID,
		"action", string(entry.Action),
	)
}

func (l *Logger) appendWAL(entry Entry) error {
	l.walMu.Lock()
	defer l.walMu.Unlock()

	if l.walFile == nil {
		if err := xdg.EnsureDir(filepath.Dir(l.walPath)); err != nil {
			return oops.With("path", l.walPath).Wrap(err)
		}
		file, err := os.OpenFile(l.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_SYNC, 0o600)
		if err != nil {
			return oops.With("path", l.walPath).Wrap(err)
		}
		l.walFile = file
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return oops.Wrap(err)
	}
	if _, err := fmt.Fprintf(l.walFile, "%s\n", data); err != nil {
		return oops.With("path", l.walPath).Wrap(err)
	}
	walEntriesGauge.Inc()
	return nil
}

// ReplayWAL writes every WAL entry to the backend and truncates the WAL.
// Entries that still fail are kept for the next replay.
func (l *Logger) ReplayWAL(ctx context.Context) (int, error) {
	l.walMu.Lock()
	defer l.walMu.Unlock()

	file, err := os.Open(l.walPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, oops.Code("AUDIT_WAL_READ_FAILED").With("path", l.walPath).Wrap(err)
	}

	var (
		replayed int
		retained []Entry
	)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			failuresCounter.WithLabelValues("wal_unmarshal_failed").Inc()
			l.log.Warn("skipping corrupt WAL entry", "error", err)
			continue
		}
		if err := l.writer.Write(ctx, entry); err != nil {
			failuresCounter.WithLabelValues("wal_replay_failed").Inc()
			retained = append(retained, entry)
			continue
		}
		replayed++
	}
	scanErr := scanner.Err()
	_ = file.Close() //nolint:errcheck // read-only handle
	if scanErr != nil {
		return replayed, oops.Code("AUDIT_WAL_READ_FAILED").With("path", l.walPath).Wrap(scanErr)
	}

	if l.walFile != nil {
		if err := l.walFile.Close(); err != nil {
			errutil.LogWarn(l.log, "closing audit WAL", err)
		}
		l.walFile = nil
	}
	if err := rewriteWAL(l.walPath, retained); err != nil {
		return replayed, err
	}
	walEntriesGauge.Set(float64(len(retained)))
	if replayed > 0 {
		l.log.Info("replayed audit WAL", "count", replayed, "retained", len(retained))
	}
	return replayed, nil
}

func rewriteWAL(path string, entries []Entry) error {
	file, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return oops.Code("AUDIT_WAL_WRITE_FAILED").With("path", path).Wrap(err)
	}
	defer file.Close() //nolint:errcheck // best effort after sync

	enc := json.NewEncoder(file)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return oops.Code("AUDIT_WAL_WRITE_FAILED").With("path", path).Wrap(err)
		}
	}
	if err := file.Sync(); err != nil {
		return oops.Code("AUDIT_WAL_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

// Close drains queued entries, then closes the writer and the WAL.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()

	var errs []error
	if err := l.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	l.walMu.Lock()
	if l.walFile != nil {
		if err := l.walFile.Close(); err != nil {
			errs = append(errs, err)
		}
		l.walFile = nil
	}
	l.walMu.Unlock()

	if err := errors.Join(errs...); err != nil {
		return oops.Code("AUDIT_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

var _ Sink = (*Logger)(nil)
