package metering

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrRecorderQueueFull is returned when the async recorder cannot accept more records
var ErrRecorderQueueFull = errors.New("usage recorder queue is full")

// ErrRecorderStopped is returned when recording on a stopped async recorder
var ErrRecorderStopped = errors.New("usage recorder is stopped")

// RecordUsageInput describes one usage fact to persist
type RecordUsageInput struct {
	Billable       metering.BillableRef
	User           metering.BillableRef
	Tenant         metering.BillableRef
	Provider       string
	Model          string
	Feature        string
	Usage          metering.ProviderUsage
	Meta           map[string]any
	IdempotencyKey string
	OccurredAt     time.Time
}

// UsageWriter persists usage. An asynchronous writer may return a nil
// record when the write is deferred.
type UsageWriter interface {
	Record(ctx context.Context, input RecordUsageInput) (*metering.UsageRecord, error)
}

// CacheInvalidator drops derived state of a billable after a write
type CacheInvalidator interface {
	ClearCache(ctx context.Context, billable metering.BillableRef)
}

// UsageRecorder validates and persists usage records synchronously
type UsageRecorder struct {
	repo        metering.UsageRecordRepository
	security    SecuritySettings
	logEnabled  bool
	logLevel    zapcore.Level
	logFailures bool
	logger      *zap.Logger
}

// NewUsageRecorder creates a UsageRecorder
func NewUsageRecorder(repo metering.UsageRecordRepository, settings Settings, logger *zap.Logger) *UsageRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	level, err := zapcore.ParseLevel(settings.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	return &UsageRecorder{
		repo:        repo,
		security:    settings.Security,
		logEnabled:  settings.Logging.Enabled,
		logLevel:    level,
		logFailures: settings.Logging.LogFailures,
		logger:      logger,
	}
}

// Build validates the input and creates the domain record without storing it
func (r *UsageRecorder) Build(input RecordUsageInput) (*metering.UsageRecord, error) {
	if input.Feature != "" && r.security.ValidateFeatureNames {
		if err := metering.ValidateFeatureName(input.Feature); err != nil {
			return nil, err
		}
	}

	record, err := metering.NewUsageRecord(input.Billable, input.Provider, input.Model, input.Usage, input.OccurredAt)
	if err != nil {
		return nil, err
	}

	meta := input.Meta
	if r.security.SanitizeMetadata {
		meta = metering.SanitizeMeta(meta)
	}
	return record.
		WithFeature(input.Feature).
		WithMeta(meta).
		WithIdempotencyKey(input.IdempotencyKey).
		WithActors(input.User, input.Tenant), nil
}

// Record persists one usage record. A record with an already stored
// idempotency key is returned as stored instead of being inserted twice.
func (r *UsageRecorder) Record(ctx context.Context, input RecordUsageInput) (*metering.UsageRecord, error) {
	record, err := r.Build(input)
	if err != nil {
		return nil, err
	}

	stored, created, err := r.repo.Create(ctx, record)
	if err != nil {
		if r.logFailures {
			r.logger.Error("Failed to record AI usage",
				zap.String("billable", input.Billable.Key()),
				zap.String("provider", input.Provider),
				zap.String("model", input.Model),
				zap.Error(err))
		}
		return nil, err
	}

	if created {
		r.logRecorded(stored)
	}
	return stored, nil
}

// RecordBatch persists records in one transaction and returns how many
// were inserted. Invalid inputs fail the whole batch before any write.
func (r *UsageRecorder) RecordBatch(ctx context.Context, inputs []RecordUsageInput) (int, error) {
	records := make([]*metering.UsageRecord, 0, len(inputs))
	for _, input := range inputs {
		record, err := r.Build(input)
		if err != nil {
			return 0, err
		}
		records = append(records, record)
	}
	return r.insertBatch(ctx, records)
}

func (r *UsageRecorder) insertBatch(ctx context.Context, records []*metering.UsageRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	inserted, err := r.repo.CreateBatch(ctx, records)
	if err != nil {
		if r.logFailures {
			r.logger.Error("Failed to record AI usage batch",
				zap.Int("records", len(records)),
				zap.Error(err))
		}
		return 0, err
	}
	if r.logEnabled {
		r.logger.Debug("AI usage batch recorded",
			zap.Int("records", len(records)),
			zap.Int("inserted", inserted))
	}
	return inserted, nil
}

func (r *UsageRecorder) logRecorded(record *metering.UsageRecord) {
	if !r.logEnabled {
		return
	}
	if ce := r.logger.Check(r.logLevel, "AI usage recorded"); ce != nil {
		ce.Write(
			zap.String("id", record.ID.String()),
			zap.String("billable", record.Billable.Key()),
			zap.String("provider", record.Provider),
			zap.String("model", record.Model),
			zap.Int64("tokens", record.Tokens()),
			zap.String("cost", record.TotalCost.String()),
			zap.String("currency", record.Currency))
	}
}

// AsyncUsageRecorder queues validated records and writes them in batches
// from a background worker. A batch that fails to insert is retried with
// exponential backoff and, if it still fails, kept for the next flush.
// At most maxPending records are held back; the oldest beyond that are
// dropped and logged.
type AsyncUsageRecorder struct {
	recorder      *UsageRecorder
	invalidator   CacheInvalidator
	queue         chan *metering.UsageRecord
	batchSize     int
	maxPending    int
	flushInterval time.Duration
	newBackOff    func() backoff.BackOff
	logger        *zap.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewAsyncUsageRecorder creates an AsyncUsageRecorder. invalidator may be
// nil; when set it is called for every billable after a batch is written.
func NewAsyncUsageRecorder(recorder *UsageRecorder, invalidator CacheInvalidator, settings Settings, logger *zap.Logger) *AsyncUsageRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	batchSize := settings.Performance.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &AsyncUsageRecorder{
		recorder:      recorder,
		invalidator:   invalidator,
		queue:         make(chan *metering.UsageRecord, batchSize*10),
		batchSize:     batchSize,
		maxPending:    batchSize * 10,
		flushInterval: time.Second,
		newBackOff:    defaultFlushBackOff,
		logger:        logger,
	}
}

func defaultFlushBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return b
}

// Start starts the background writer
func (a *AsyncUsageRecorder) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.run(context.WithoutCancel(ctx))
	a.logger.Info("Async usage recorder started", zap.Int("batch_size", a.batchSize))
	return nil
}

// Stop flushes queued records and stops the writer
func (a *AsyncUsageRecorder) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	close(a.stopCh)
	done := a.doneCh
	a.mu.Unlock()

	select {
	case <-done:
		a.logger.Info("Async usage recorder stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record validates the input and queues it. The returned record is nil
// because the write happens later.
func (a *AsyncUsageRecorder) Record(ctx context.Context, input RecordUsageInput) (*metering.UsageRecord, error) {
	record, err := a.recorder.Build(input)
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.running {
		return nil, ErrRecorderStopped
	}
	select {
	case a.queue <- record:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, ErrRecorderQueueFull
	}
}

func (a *AsyncUsageRecorder) run(ctx context.Context) {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	batch := make([]*metering.UsageRecord, 0, a.batchSize)
	// failing is set while a held-back batch waits for the next tick
	failing := false
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := a.flush(ctx, batch); err != nil {
			failing = true
			batch = a.trimPending(batch)
			return
		}
		failing = false
		batch = make([]*metering.UsageRecord, 0, a.batchSize)
	}

	for {
		select {
		case record := <-a.queue:
			batch = append(batch, record)
			if len(batch) >= a.batchSize && !failing {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.stopCh:
			for {
				select {
				case record := <-a.queue:
					batch = append(batch, record)
					if len(batch) >= a.batchSize && !failing {
						flush()
					}
				default:
					flush()
					if failing && len(batch) > 0 {
						a.logger.Error("Dropping queued AI usage records on shutdown",
							zap.Int("records", len(batch)))
					}
					return
				}
			}
		}
	}
}

// trimPending drops the oldest records when more than maxPending are held back
func (a *AsyncUsageRecorder) trimPending(batch []*metering.UsageRecord) []*metering.UsageRecord {
	if len(batch) <= a.maxPending {
		return batch
	}
	dropped := len(batch) - a.maxPending
	a.logger.Error("Dropping AI usage records after failed inserts",
		zap.Int("dropped", dropped),
		zap.Int("pending", a.maxPending))
	return append(make([]*metering.UsageRecord, 0, a.maxPending), batch[dropped:]...)
}

// flush inserts the batch, retrying with backoff, and invalidates the
// caches of the billables it touched. The insert is transactional, so a
// retried batch is never half written.
func (a *AsyncUsageRecorder) flush(ctx context.Context, batch []*metering.UsageRecord) error {
	insert := func() error {
		_, err := a.recorder.insertBatch(ctx, batch)
		return err
	}
	notify := func(err error, wait time.Duration) {
		a.logger.Warn("Retrying AI usage batch insert",
			zap.Int("records", len(batch)),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(insert, backoff.WithContext(a.newBackOff(), ctx), notify); err != nil {
		a.logger.Warn("AI usage batch held back for the next flush",
			zap.Int("records", len(batch)),
			zap.Error(err))
		return err
	}
	if a.invalidator == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(batch))
	for _, record := range batch {
		key := record.Billable.Key()
		if _, ok := seen[key]; ok || record.Billable.IsZero() {
			continue
		}
		seen[key] = struct{}{}
		a.invalidator.ClearCache(ctx, record.Billable)
	}
	return nil
}
