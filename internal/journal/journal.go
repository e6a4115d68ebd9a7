// Package journal persists connection lifecycle events to SQLite.
//
// Writes go through a single writer goroutine; Record never blocks the
// caller. Reads run directly against the pool.
package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

var (
	ErrClosed      = errors.New("journal is closed")
	ErrInvalidSize = errors.New("limit must be greater than 0")
)

type writeOp struct {
	event   types.LifecycleEvent
	flushed chan struct{}
}

// Journal is a SQLite-backed interfaces.Journal.
type Journal struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger

	writes   chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	dropped  atomic.Int64

	closed bool
	mu     sync.RWMutex
}

var _ interfaces.Journal = (*Journal)(nil)

// Open creates the database file if needed, applies the schema and starts
// the writer.
func Open(cfg Config, logger *zap.Logger) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid journal config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create journal directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "open journal database")
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	j := &Journal{
		db:       db,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "journal")),
		writes:   make(chan writeOp, cfg.BufferSize),
		shutdown: make(chan struct{}),
	}
	j.wg.Add(1)
	go j.writeLoop()

	j.logger.Info("journal opened", zap.String("path", cfg.Path))
	return j, nil
}

// Record queues ev for writing. When the queue is full or the journal is
// closed the event is dropped and counted.
func (j *Journal) Record(ev types.LifecycleEvent) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}

	select {
	case j.writes <- writeOp{event: ev}:
	default:
		n := j.dropped.Add(1)
		j.logger.Warn("journal queue full, event dropped",
			zap.String("connection_id", ev.ConnectionID),
			zap.String("kind", ev.Kind),
			zap.Int64("dropped_total", n),
		)
	}
}

// Dropped returns how many events were discarded without being written.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Flush waits until every event queued before the call has been written.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return ErrClosed
	}
	done := make(chan struct{})
	select {
	case j.writes <- writeOp{flushed: done}:
		j.mu.RUnlock()
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()

	for {
		select {
		case op := <-j.writes:
			j.apply(op)
		case <-j.shutdown:
			for {
				select {
				case op := <-j.writes:
					j.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) apply(op writeOp) {
	if op.flushed != nil {
		close(op.flushed)
		return
	}
	if err := j.insert(op.event); err != nil {
		j.dropped.Add(1)
		j.logger.Error("journal write failed",
			zap.String("connection_id", op.event.ConnectionID),
			zap.String("kind", op.event.Kind),
			zap.Error(err),
		)
	}
}

func (j *Journal) insert(ev types.LifecycleEvent) error {
	_, err := j.db.Exec(
		`INSERT INTO lifecycle_events (connection_id, kind, detail, occurred_at) VALUES (?, ?, ?, ?)`,
		ev.ConnectionID, ev.Kind, ev.Detail, ev.Timestamp.UTC(),
	)
	return errors.Wrap(err, "insert lifecycle event")
}

// History returns every recorded event for connectionID, oldest first.
func (j *Journal) History(ctx context.Context, connectionID string) ([]types.LifecycleEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT connection_id, kind, detail, occurred_at
		FROM lifecycle_events
		WHERE connection_id = ?
		ORDER BY id ASC`, connectionID)
	if err != nil {
		return nil, errors.Wrap(err, "query connection history")
	}
	return scanEvents(rows)
}

// Recent returns the newest limit events across all connections, newest
// first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]types.LifecycleEvent, error) {
	if limit <= 0 {
		return nil, ErrInvalidSize
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT connection_id, kind, detail, occurred_at
		FROM lifecycle_events
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query recent events")
	}
	return scanEvents(rows)
}

// Counts returns the number of recorded events per kind.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM lifecycle_events GROUP BY kind`)
	if err != nil {
		return nil, errors.Wrap(err, "count events")
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, errors.Wrap(err, "scan event count")
		}
		counts[kind] = n
	}
	return counts, errors.Wrap(rows.Err(), "iterate event counts")
}

// HealthCheck verifies the database answers and the schema is present.
func (j *Journal) HealthCheck(ctx context.Context) error {
	if err := j.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "journal ping failed")
	}
	ok, err := tableExists(j.db, "lifecycle_events")
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("lifecycle_events table missing")
	}
	return nil
}

// Close writes whatever is still queued, stops the writer and closes the
// database. Calling Close twice is a no-op.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.shutdown)
	j.wg.Wait()

	if err := j.db.Close(); err != nil {
		return errors.Wrap(err, "close journal database")
	}
	j.logger.Info("journal closed", zap.Int64("dropped", j.dropped.Load()))
	return nil
}

func scanEvents(rows *sql.Rows) ([]types.LifecycleEvent, error) {
	defer func() { _ = rows.Close() }()

	events := []types.LifecycleEvent{}
	for rows.Next() {
		var ev types.LifecycleEvent
		if err := rows.Scan(&ev.ConnectionID, &ev.Kind, &ev.Detail, &ev.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan lifecycle event")
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate lifecycle events")
	}
	return events, nil
}
