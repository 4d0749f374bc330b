// Package auditlog durably records process termination outcomes (pid, exit
// value or trap text, dead thread count, finish time) to Postgres for
// post-mortem review. How long a process ran is not recorded. It never
// persists VM state — only the fact that a process ended and how.
package auditlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/wasmkernel/internal/logging"
)

// Record is one process termination outcome.
type Record struct {
	PID         uint64
	Outcome     string // "ok" or "trap"
	ReturnValue string // formatted return value, empty on trap
	TrapError   string // trap message, empty on normal exit
	DeadThreads int
	FinishedAt  time.Time
}

const (
	defaultBatchSize     = 100
	defaultBufferSize    = 1000
	defaultFlushInterval = 500 * time.Millisecond
	defaultTimeout       = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = 100 * time.Millisecond
)

// Config tunes the sink's batching behavior.
type Config struct {
	BatchSize     int
	BufferSize    int
	FlushInterval time.Duration
	Timeout       time.Duration
}

// Sink batches Records and flushes them to Postgres on a timer or when a
// batch fills up, mirroring the teacher's invocation-log batcher: a
// buffered channel drained by one goroutine, retried with exponential
// backoff, never blocking the scheduler's hot path.
type Sink struct {
	pool          *pgxpool.Pool
	logger        *logging.Logger
	records       chan Record
	flushInterval time.Duration
	batchSize     int
	timeout       time.Duration
	done          chan struct{}
}

// Open connects to Postgres, ensures the audit table exists, and starts the
// background flush loop.
func Open(ctx context.Context, dsn string, cfg Config) (*Sink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("auditlog: postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("auditlog: create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("auditlog: ping postgres: %w", err)
	}

	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	s := &Sink{
		pool:          pool,
		logger:        logging.Default(),
		records:       make(chan Record, bufferSize),
		flushInterval: flushInterval,
		batchSize:     batchSize,
		timeout:       timeout,
		done:          make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS process_outcomes (
			pid          BIGINT NOT NULL,
			outcome      TEXT NOT NULL,
			return_value TEXT,
			trap_error   TEXT,
			dead_threads INT NOT NULL,
			finished_at  TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("auditlog: ensure schema: %w", err)
	}
	return nil
}

// Record enqueues a termination outcome. Drops and logs a warning if the
// buffer is full rather than blocking the scheduler.
func (s *Sink) Record(rec Record) {
	if s == nil {
		return
	}
	select {
	case s.records <- rec:
	default:
		s.logger.Log(&logging.RunLog{PID: rec.PID, Outcome: "auditlog_dropped"})
	}
}

// Close stops accepting records, flushes what remains, and closes the pool.
func (s *Sink) Close(timeout time.Duration) {
	if s == nil {
		return
	}
	close(s.records)
	select {
	case <-s.done:
	case <-time.After(timeout):
	}
	s.pool.Close()
}

func (s *Sink) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		var lastErr error
		for attempt := 0; attempt < defaultMaxRetries; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			lastErr = s.saveBatch(ctx, batch)
			cancel()
			if lastErr == nil {
				break
			}
			time.Sleep(time.Duration(1<<uint(attempt)) * defaultRetryInterval)
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-s.records:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Sink) saveBatch(ctx context.Context, batch []Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("auditlog: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range batch {
		_, err := tx.Exec(ctx, `
			INSERT INTO process_outcomes (pid, outcome, return_value, trap_error, dead_threads, finished_at)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			rec.PID, rec.Outcome, rec.ReturnValue, rec.TrapError, rec.DeadThreads, rec.FinishedAt)
		if err != nil {
			return fmt.Errorf("auditlog: insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}
