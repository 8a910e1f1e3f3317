package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/couponclip/idgen"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// RunEvent is one engine operation.
type RunEvent struct {
	ID        string
	Timestamp time.Time
	Op        string // discover | verify | clip | cleanup
	UserID    int64
	Store     string
	// Status is StatusSuccess, StatusFailed (the operation ran but did not
	// achieve its goal) or StatusError (it could not run).
	Status   string
	Error    string
	Clipped  int
	Duration time.Duration
	// Transport is the surface that started the run: http, mcp, cli or
	// janitor. Empty when unknown.
	Transport string
}

// Filter narrows Query results. Zero fields match everything.
type Filter struct {
	Op     string
	UserID int64
	Status    string
	Transport string
	Since     time.Time
	Limit  int // default 100
}

// RunLog persists RunEvents through a buffered background writer.
type RunLog struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	ch     chan *RunEvent
	stop   chan struct{}
	done   chan struct{}
	flush  time.Duration
}

// Option configures a RunLog.
type Option func(*RunLog)

// WithIDGenerator sets the event ID generator. Default: "run_" + UUIDv7.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *RunLog) { l.newID = gen }
}

// WithFlushInterval sets how often buffered events are written. Default: 2s.
func WithFlushInterval(d time.Duration) Option {
	return func(l *RunLog) { l.flush = d }
}

// NewRunLog starts a RunLog on db, which must carry Schema. Close flushes
// and stops it.
func NewRunLog(db *sql.DB, bufferSize int, logger *slog.Logger, opts ...Option) *RunLog {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &RunLog{
		db:     db,
		newID:  idgen.Prefixed("run_", idgen.Default),
		logger: logger,
		ch:     make(chan *RunEvent, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		flush:  2 * time.Second,
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Record queues e. When the buffer is full it is written synchronously.
func (l *RunLog) Record(e RunEvent) {
	l.fill(&e)
	select {
	case l.ch <- &e:
	default:
		l.logger.Warn("observability: buffer full, writing synchronously", "op", e.Op)
		if err := l.insert(context.Background(), l.db, &e); err != nil {
			l.logger.Error("observability: sync write", "error", err)
		}
	}
}

// Query returns events matching f, newest first.
func (l *RunLog) Query(ctx context.Context, f Filter) ([]RunEvent, error) {
	q := `SELECT event_id, timestamp, op, user_id, store, status, error_message, clipped, duration_ms, transport
		FROM run_events WHERE 1=1`
	var args []any
	if f.Op != "" {
		q += " AND op = ?"
		args = append(args, f.Op)
	}
	if f.UserID != 0 {
		q += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Transport != "" {
		q += " AND transport = ?"
		args = append(args, f.Transport)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY timestamp DESC, event_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var (
			e      RunEvent
			ts, ms int64
		)
		if err := rows.Scan(&e.ID, &ts, &e.Op, &e.UserID, &e.Store, &e.Status, &e.Error, &e.Clipped, &ms, &e.Transport); err != nil {
			return nil, fmt.Errorf("observability: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Duration = time.Duration(ms) * time.Millisecond
		events = append(events, e)
	}
	return events, rows.Err()
}

// Cleanup deletes events older than retentionDays.
func (l *RunLog) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM run_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close drains the buffer and stops the writer.
func (l *RunLog) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

func (l *RunLog) fill(e *RunEvent) {
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Status == "" {
		e.Status = StatusSuccess
		if e.Error != "" {
			e.Status = StatusError
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (l *RunLog) insert(ctx context.Context, db execer, e *RunEvent) error {
	_, err := db.ExecContext(ctx, `INSERT INTO run_events
		(event_id, timestamp, op, user_id, store, status, error_message, clipped, duration_ms, transport)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Timestamp.UnixMilli(), e.Op, e.UserID, e.Store, e.Status, e.Error, e.Clipped, e.Duration.Milliseconds(), e.Transport)
	return err
}

func (l *RunLog) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.flush)
	defer ticker.Stop()
	batch := make([]*RunEvent, 0, 64)

	write := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			l.logger.Error("observability: begin", "error", err)
			return
		}
		for _, e := range batch {
			if err := l.insert(ctx, tx, e); err != nil {
				l.logger.Error("observability: insert", "error", err, "event_id", e.ID)
			}
		}
		if err := tx.Commit(); err != nil {
			l.logger.Error("observability: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					write()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= 64 {
				write()
			}
		case <-ticker.C:
			write()
		}
	}
}
