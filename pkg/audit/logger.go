// Package audit records request/response exchanges in an optional SQLite
// database so they can be searched and summarised later.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/linecompute/pkg/config"
	"github.com/pario-ai/linecompute/pkg/models"
)

// maxPayloadSize bounds stored request and response text.
const maxPayloadSize = 8192

// Logger writes and queries exchanges in a dedicated SQLite database.
// A nil *Logger accepts Log calls and discards them.
type Logger struct {
	db   *sql.DB
	cfg  config.AuditConfig
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// New opens the audit SQLite database and creates the schema.
func New(cfg config.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	l := &Logger{
		db:   db,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	if cfg.RetentionDays > 0 {
		l.wg.Add(1)
		go l.retentionLoop()
	}

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS exchanges (
		id          TEXT PRIMARY KEY,
		conn_id     TEXT NOT NULL,
		role        TEXT NOT NULL,
		mode        TEXT NOT NULL,
		ok          INTEGER NOT NULL,
		from_cache  INTEGER NOT NULL,
		error       TEXT,
		request     TEXT,
		response    TEXT,
		took_ms     INTEGER NOT NULL,
		created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_exchanges_conn ON exchanges(conn_id)`)
	return err
}

// Log inserts one exchange. Payloads are kept only when include_payloads is set.
func (l *Logger) Log(ctx context.Context, e models.Exchange) error {
	if l == nil || l.db == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	req, resp := "", ""
	if l.cfg.IncludePayloads {
		req = truncate(e.Request)
		resp = truncate(e.Response)
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO exchanges
		(id, conn_id, role, mode, ok, from_cache, error, request, response, took_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ConnID, e.Role, e.Mode, e.OK, e.FromCache, e.Error,
		req, resp, e.TookMs, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

// LogAsync inserts e in the background. Close waits for every pending
// insert; calls made after Close are dropped. onErr may be nil.
func (l *Logger) LogAsync(e models.Exchange, onErr func(error)) {
	if l == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.pending.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.pending.Done()
		if err := l.Log(context.Background(), e); err != nil && onErr != nil {
			onErr(err)
		}
	}()
}

// Query returns exchanges matching q, newest first.
func (l *Logger) Query(ctx context.Context, q models.ExchangeQuery) ([]models.Exchange, error) {
	stmt := `SELECT id, conn_id, role, mode, ok, from_cache, error, request, response, took_ms, created_at
		FROM exchanges WHERE 1=1`
	var args []any

	if q.Role != "" {
		stmt += " AND role = ?"
		args = append(args, q.Role)
	}
	if q.Mode != "" {
		stmt += " AND mode = ?"
		args = append(args, q.Mode)
	}
	if q.ConnID != "" {
		stmt += " AND conn_id = ?"
		args = append(args, q.ConnID)
	}
	if !q.Since.IsZero() {
		stmt += " AND created_at >= ?"
		args = append(args, q.Since.UTC())
	}
	if q.FailedOnly {
		stmt += " AND ok = 0"
	}

	stmt += " ORDER BY created_at DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	stmt += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var out []models.Exchange
	for rows.Next() {
		var e models.Exchange
		var errText, req, resp sql.NullString
		if err := rows.Scan(
			&e.ID, &e.ConnID, &e.Role, &e.Mode, &e.OK, &e.FromCache,
			&errText, &req, &resp, &e.TookMs, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		e.Error = errText.String
		e.Request = req.String
		e.Response = resp.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats returns aggregate counts grouped by role, mode and day.
func (l *Logger) Stats(ctx context.Context) ([]models.ExchangeStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT role, mode, date(created_at) AS day, count(*),
			sum(from_cache), sum(CASE WHEN ok = 0 THEN 1 ELSE 0 END), avg(took_ms)
		 FROM exchanges GROUP BY role, mode, day ORDER BY day DESC, role, mode`)
	if err != nil {
		return nil, fmt.Errorf("exchange stats: %w", err)
	}
	defer rows.Close()

	var stats []models.ExchangeStat
	for rows.Next() {
		var s models.ExchangeStat
		var day sql.NullString
		if err := rows.Scan(&s.Role, &s.Mode, &day, &s.Count, &s.Hits, &s.Failures, &s.AvgMs); err != nil {
			return nil, fmt.Errorf("scan exchange stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes exchanges older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -l.cfg.RetentionDays).UTC()
	res, err := l.db.ExecContext(ctx, `DELETE FROM exchanges WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("exchange cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes pending inserts, stops the retention goroutine and closes
// the database. Closing twice is a no-op.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.pending.Wait()
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}

// truncate cuts s to at most maxPayloadSize bytes on a rune boundary.
func truncate(s string) string {
	if len(s) <= maxPayloadSize {
		return s
	}
	n := maxPayloadSize
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
