package audit

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatdb/chatdb/internal/auth"
	"github.com/chatdb/chatdb/internal/observability"
	"github.com/chatdb/chatdb/internal/pipeline"
	"github.com/chatdb/chatdb/internal/storage"
)

const shutdownFlushTimeout = 10 * time.Second

type Config struct {
	Service       string
	FlushInterval time.Duration
	MaxBatch      int
	// MaxPending bounds the buffer while the object store is unavailable.
	// The oldest records are dropped first.
	MaxPending int
}

// Archiver buffers finished pipeline runs and writes them to the object
// store as parquet batches. It implements pipeline.Recorder.
type Archiver struct {
	store    storage.ObjectStore
	cfg      Config
	logger   *slog.Logger
	clock    func() time.Time
	instance string

	mu       sync.Mutex
	pending  []Record
	sequence int64
	wake     chan struct{}
	// backoff is set after a failed upload. Full batches then wait for
	// the next interval tick instead of waking Run.
	backoff bool

	flushMu sync.Mutex
}

var _ pipeline.Recorder = (*Archiver)(nil)

func NewArchiver(store storage.ObjectStore, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if cfg.Service == "" {
		cfg.Service = "chatdb-api"
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 500
	}
	if cfg.MaxPending < cfg.MaxBatch {
		cfg.MaxPending = 10 * cfg.MaxBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
		instance: uuid.NewString(),
		wake:     make(chan struct{}, 1),
	}, nil
}

func (a *Archiver) Record(ctx context.Context, question string, outcome pipeline.Outcome) {
	rec := Record{
		TraceID:          observability.TraceIDFromContext(ctx),
		Principal:        auth.PrincipalFromContext(ctx),
		Flow:             string(outcome.Flow),
		Question:         question,
		SQL:              outcome.SQL,
		Outcome:          string(outcome.Kind),
		Stage:            string(outcome.Stage),
		Message:          outcome.Message,
		Rows:             int64(outcome.Rows),
		Degraded:         outcome.Degraded,
		DurationMs:       outcome.Duration.Milliseconds(),
		RecordedAtUnixMs: a.clock().UnixMilli(),
	}
	if outcome.Kind == pipeline.OutcomeAck {
		rec.Rows = outcome.Affected
	}

	a.mu.Lock()
	dropped := a.appendLocked(rec)
	full := len(a.pending) >= a.cfg.MaxBatch && !a.backoff
	a.mu.Unlock()

	if dropped > 0 {
		a.logger.WarnContext(ctx, "audit buffer full, dropping oldest records", slog.Int("dropped", dropped))
	}
	if full {
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of buffered records.
func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Run flushes on every interval tick and whenever a full batch is buffered.
// On cancellation it makes a final flush bounded by shutdownFlushTimeout.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushTimeout)
			defer cancel()
			if _, err := a.Flush(flushCtx); err != nil {
				return fmt.Errorf("final audit flush: %w", err)
			}
			return nil
		case <-ticker.C:
		case <-a.wake:
		}

		if _, err := a.Flush(ctx); err != nil {
			a.logger.ErrorContext(ctx, "audit flush failed", slog.Any("error", err), slog.Int("pending", a.Pending()))
		}
	}
}

// Flush writes every buffered record, MaxBatch records per object. A batch
// that fails to upload is put back at the front of the buffer.
func (a *Archiver) Flush(ctx context.Context) (int, error) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	written := 0
	for {
		batch, sequence := a.take()
		if len(batch) == 0 {
			a.setBackoff(false)
			return written, nil
		}
		key, err := a.write(ctx, batch, sequence)
		if err != nil {
			a.requeue(batch)
			a.setBackoff(true)
			observability.ObserveAuditFlush(0, true)
			return written, err
		}
		observability.ObserveAuditFlush(len(batch), false)
		a.logger.DebugContext(ctx, "audit batch archived", slog.String("key", key), slog.Int("records", len(batch)))
		written += len(batch)
	}
}

func (a *Archiver) write(ctx context.Context, batch []Record, sequence int64) (string, error) {
	data, err := EncodeRecords(batch)
	if err != nil {
		return "", err
	}
	key, err := storage.BuildAuditPath(a.cfg.Service, a.instance, a.clock(), sequence)
	if err != nil {
		return "", err
	}
	_, err = a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: "application/octet-stream",
		Metadata:    map[string]string{"record-count": strconv.Itoa(len(batch))},
	})
	if err != nil {
		return "", fmt.Errorf("archive audit batch: %w", err)
	}
	return key, nil
}

func (a *Archiver) setBackoff(v bool) {
	a.mu.Lock()
	a.backoff = v
	a.mu.Unlock()
}

func (a *Archiver) take() ([]Record, int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return nil, 0
	}
	n := min(len(a.pending), a.cfg.MaxBatch)
	batch := append([]Record(nil), a.pending[:n]...)
	a.pending = append(a.pending[:0:0], a.pending[n:]...)
	a.sequence++
	return batch, a.sequence
}

func (a *Archiver) requeue(batch []Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	merged := make([]Record, 0, len(batch)+len(a.pending))
	merged = append(merged, batch...)
	merged = append(merged, a.pending...)
	a.pending = merged
	if excess := len(a.pending) - a.cfg.MaxPending; excess > 0 {
		a.pending = a.pending[excess:]
	}
}

func (a *Archiver) appendLocked(rec Record) int {
	dropped := 0
	if len(a.pending) >= a.cfg.MaxPending {
		dropped = len(a.pending) - a.cfg.MaxPending + 1
		a.pending = a.pending[dropped:]
	}
	a.pending = append(a.pending, rec)
	return dropped
}
