package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelagent.ai/internal/agent"
)

// Index is a queryable sqlite copy of the journal. Writes are queued to a
// single writer goroutine and dropped when it falls behind; the JSONL files
// remain the source of truth.
type Index struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool
	ch     chan req
	wg     sync.WaitGroup
	once   sync.Once

	dropAction   atomic.Uint64
	dropProtocol atomic.Uint64
}

// tsLayout is fixed width so started_at sorts lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type reqKind int

const (
	reqAction reqKind = iota + 1
	reqProtocol
	reqFlush
)

type req struct {
	kind     reqKind
	action   agent.ActionRecord
	protocol agent.ProtocolReport
	done     chan struct{}
}

// IndexStats reports queue health.
type IndexStats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropActionTotal   uint64 `json:"drop_action_total"`
	DropProtocolTotal uint64 `json:"drop_protocol_total"`
}

func OpenIndex(path string) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Index{db: db, ch: make(chan req, 4096)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS actions (
			id TEXT PRIMARY KEY,
			op TEXT NOT NULL,
			source TEXT NOT NULL,
			description TEXT,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			ok INTEGER NOT NULL,
			code TEXT,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_started ON actions(started_at);`,
		`CREATE TABLE IF NOT EXISTS protocol_runs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			protocol TEXT NOT NULL,
			trigger_kind TEXT NOT NULL,
			outcome TEXT NOT NULL,
			threats INTEGER NOT NULL,
			failed_steps INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			steps_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_protocol_runs_protocol ON protocol_runs(protocol, seq);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Index) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Index) WriteAction(r agent.ActionRecord) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- req{kind: reqAction, action: r}:
	default:
		s.dropAction.Add(1)
	}
}

func (s *Index) WriteProtocol(r agent.ProtocolReport) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- req{kind: reqProtocol, protocol: r}:
	default:
		s.dropProtocol.Add(1)
	}
}

// Flush waits until every write queued before it is committed.
func (s *Index) Flush(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil
	}
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Index) Stats() IndexStats {
	if s == nil {
		return IndexStats{}
	}
	return IndexStats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropActionTotal:   s.dropAction.Load(),
		DropProtocolTotal: s.dropProtocol.Load(),
	}
}

func (s *Index) loop() {
	ctx := context.Background()

	insertAction, _ := s.db.Prepare(`INSERT OR REPLACE INTO actions(id,op,source,description,started_at,duration_ms,ok,code,error) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertRun, _ := s.db.Prepare(`INSERT INTO protocol_runs(protocol,trigger_kind,outcome,threats,failed_steps,started_at,duration_ms,steps_json) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertAction != nil {
			_ = insertAction.Close()
		}
		if insertRun != nil {
			_ = insertRun.Close()
		}
	}()

	var tx *sql.Tx
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
	}

	for r := range s.ch {
		switch r.kind {
		case reqFlush:
			commit()
			close(r.done)
			continue
		case reqAction:
			begin()
			if tx == nil || insertAction == nil {
				continue
			}
			a := r.action
			if _, err := tx.Stmt(insertAction).Exec(
				a.ID, a.Op, a.Source, a.Description,
				a.StartedAt.UTC().Format(tsLayout),
				a.Duration.Milliseconds(),
				boolInt(a.OK), string(a.Code), a.Error,
			); err != nil {
				rollback()
				continue
			}
		case reqProtocol:
			begin()
			if tx == nil || insertRun == nil {
				continue
			}
			p := r.protocol
			steps, _ := json.Marshal(p.Steps)
			if _, err := tx.Stmt(insertRun).Exec(
				p.Protocol, p.Trigger, p.Outcome, p.Threats, len(p.FailedSteps()),
				p.StartedAt.UTC().Format(tsLayout),
				p.Duration.Milliseconds(),
				string(steps),
			); err != nil {
				rollback()
				continue
			}
		}
		// Keep transactions short so readers are not starved.
		if len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

// ActionRow is one indexed action.
type ActionRow struct {
	ID          string `json:"id"`
	Op          string `json:"op"`
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
	StartedAt   string `json:"started_at"`
	DurationMS  int64  `json:"duration_ms"`
	OK          bool   `json:"ok"`
	Code        string `json:"code,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ProtocolRow is one indexed reflex protocol run.
type ProtocolRow struct {
	Seq         int64              `json:"seq"`
	Protocol    string             `json:"protocol"`
	Trigger     string             `json:"trigger"`
	Outcome     string             `json:"outcome"`
	Threats     int                `json:"threats"`
	FailedSteps int                `json:"failed_steps"`
	StartedAt   string             `json:"started_at"`
	DurationMS  int64              `json:"duration_ms"`
	Steps       []agent.StepResult `json:"steps"`
}

// RecentActions returns up to limit actions, newest first.
func (s *Index) RecentActions(ctx context.Context, limit int) ([]ActionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,op,source,COALESCE(description,''),started_at,duration_ms,ok,COALESCE(code,''),COALESCE(error,'')
		 FROM actions ORDER BY started_at DESC, rowid DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ActionRow{}
	for rows.Next() {
		var r ActionRow
		var ok int
		if err := rows.Scan(&r.ID, &r.Op, &r.Source, &r.Description, &r.StartedAt, &r.DurationMS, &ok, &r.Code, &r.Error); err != nil {
			return nil, err
		}
		r.OK = ok != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentProtocols returns up to limit protocol runs, newest first.
func (s *Index) RecentProtocols(ctx context.Context, limit int) ([]ProtocolRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq,protocol,trigger_kind,outcome,threats,failed_steps,started_at,duration_ms,steps_json
		 FROM protocol_runs ORDER BY seq DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ProtocolRow{}
	for rows.Next() {
		var r ProtocolRow
		var steps string
		if err := rows.Scan(&r.Seq, &r.Protocol, &r.Trigger, &r.Outcome, &r.Threats, &r.FailedSteps, &r.StartedAt, &r.DurationMS, &steps); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(steps), &r.Steps); err != nil {
			return nil, fmt.Errorf("protocol run %d: %w", r.Seq, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 50
	case n > 1000:
		return 1000
	}
	return n
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
