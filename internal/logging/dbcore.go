package logging

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/Alexzz96/nga-monitor/internal/store"
)

const (
	defaultQueueSize     = 1000
	defaultBatchSize     = 10
	defaultFlushInterval = 5 * time.Second
	flushTimeout         = 10 * time.Second
)

// targetUIDKey is the zap field key the core lifts into the persisted row.
const targetUIDKey = "target_uid"

// DatabaseCore is a zapcore.Core that persists warn-and-above entries into
// system_logs through a bounded queue. Writes never block the caller; when
// the queue is full the oldest entry is discarded. A background goroutine
// batches inserts.
type DatabaseCore struct {
	zapcore.LevelEnabler

	repo          store.LogRepository
	queue         chan store.SystemLog
	done          chan struct{}
	batchSize     int
	flushInterval time.Duration

	mu     sync.Mutex
	fields []zapcore.Field
	once   sync.Once
}

// CoreConfig tunes the database core. Zero values take defaults; a nil
// MinLevel persists warn and above.
type CoreConfig struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	MinLevel      zapcore.LevelEnabler
}

// NewDatabaseCore starts the flush goroutine immediately.
func NewDatabaseCore(repo store.LogRepository, cfg CoreConfig) *DatabaseCore {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MinLevel == nil {
		cfg.MinLevel = zapcore.WarnLevel
	}
	c := &DatabaseCore{
		LevelEnabler:  cfg.MinLevel,
		repo:          repo,
		queue:         make(chan store.SystemLog, cfg.QueueSize),
		done:          make(chan struct{}),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
	}
	go c.worker()
	return c
}

func (c *DatabaseCore) With(fields []zapcore.Field) zapcore.Core {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := &DatabaseCore{
		LevelEnabler:  c.LevelEnabler,
		repo:          c.repo,
		queue:         c.queue,
		done:          c.done,
		batchSize:     c.batchSize,
		flushInterval: c.flushInterval,
		fields:        append(append([]zapcore.Field(nil), c.fields...), fields...),
	}
	return clone
}

func (c *DatabaseCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write enqueues the entry, dropping the oldest queued row when full.
func (c *DatabaseCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	row := store.SystemLog{
		Level:     ent.Level.CapitalString(),
		Message:   ent.Message,
		CreatedAt: ent.Time,
	}
	c.mu.Lock()
	all := append(append([]zapcore.Field(nil), c.fields...), fields...)
	c.mu.Unlock()
	for _, f := range all {
		if f.Key == targetUIDKey && f.Type == zapcore.StringType {
			row.TargetUID = f.String
		}
	}

	for {
		select {
		case c.queue <- row:
			return nil
		default:
			select {
			case <-c.queue:
			default:
			}
		}
	}
}

func (c *DatabaseCore) Sync() error { return nil }

// Stop flushes whatever is queued and ends the worker. Safe to call twice.
func (c *DatabaseCore) Stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *DatabaseCore) worker() {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	batch := make([]store.SystemLog, 0, c.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		// Insert failures are unreportable from here; rows are dropped.
		_ = c.repo.InsertLogs(ctx, batch)
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case row := <-c.queue:
			batch = append(batch, row)
			if len(batch) >= c.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-c.done:
			for {
				select {
				case row := <-c.queue:
					batch = append(batch, row)
					if len(batch) >= c.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
