// Package indexdb keeps a queryable SQLite index of matches, sessions and
// ticks next to the JSONL logs. Writes are queued to a single writer
// goroutine and dropped when it falls behind.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	plog "ticksync.dev/internal/persistence/log"
	"ticksync.dev/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick    atomic.Uint64
	dropSession atomic.Uint64
}

type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropTickTotal    uint64
	DropSessionTotal uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSession
)

type req struct {
	kind reqKind

	tick    plog.TickEntry
	session plog.SessionEvent
}

type SessionRow struct {
	MatchID    string
	SessionID  uint64
	Name       string
	Players    []uint32
	JoinedTick int64
	JoinedAt   string
	LeftTick   sql.NullInt64
	LeftAt     sql.NullString
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
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

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
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
		"PRAGMA foreign_keys=ON;",
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
		`CREATE TABLE IF NOT EXISTS matches (
			match_id TEXT PRIMARY KEY,
			tick_rate INTEGER NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			match_id TEXT NOT NULL,
			session_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			players_json TEXT NOT NULL,
			joined_tick INTEGER NOT NULL,
			joined_at TEXT NOT NULL,
			left_tick INTEGER,
			left_at TEXT,
			PRIMARY KEY (match_id, session_id)
		);`,
		// tick wraps; seq is the writer's running count per match.
		`CREATE TABLE IF NOT EXISTS ticks (
			match_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			entities INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (match_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_match_tick ON ticks(match_id, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropTickTotal:    s.dropTick.Load(),
		DropSessionTotal: s.dropSession.Load(),
	}
}

// RecordMatch stores the match and the tuning it runs with. It writes
// synchronously.
func (s *SQLiteIndex) RecordMatch(ctx context.Context, matchID string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO matches(match_id,tick_rate,tuning_digest,tuning_json,started_at) VALUES(?,?,?,?,?)`,
		matchID, tune.TickRateHz, hex.EncodeToString(sum[:]), string(b), now,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) WriteTick(entry plog.TickEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSession(ev plog.SessionEvent) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSession, session: ev}:
	default:
		s.dropSession.Add(1)
	}
}

func (s *SQLiteIndex) Sessions(ctx context.Context, matchID string) ([]SessionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id,name,players_json,joined_tick,joined_at,left_tick,left_at
		 FROM sessions WHERE match_id=? ORDER BY session_id`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		r := SessionRow{MatchID: matchID}
		var players string
		if err := rows.Scan(&r.SessionID, &r.Name, &players, &r.JoinedTick, &r.JoinedAt, &r.LeftTick, &r.LeftAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(players), &r.Players); err != nil {
			return nil, fmt.Errorf("session %d players: %w", r.SessionID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) TickCount(ctx context.Context, matchID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticks WHERE match_id=?`, matchID).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(match_id,seq,tick,entities,raw_json) VALUES(?,?,?,?,?)`)
	insertJoin, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(match_id,session_id,name,players_json,joined_tick,joined_at) VALUES(?,?,?,?,?,?)`)
	updateLeave, _ := s.db.Prepare(`UPDATE sessions SET left_tick=?, left_at=? WHERE match_id=? AND session_id=?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertJoin, updateLeave} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		tickSeq = map[string]int64{}
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			seq := tickSeq[t.MatchID]
			tickSeq[t.MatchID] = seq + 1
			b, _ := json.Marshal(t)
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(t.MatchID, seq, int64(t.Tick), len(t.Entities), string(b)); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSession:
			ev := r.session
			at := ev.Time.UTC().Format(time.RFC3339Nano)
			switch ev.Event {
			case plog.EventJoin:
				players, _ := json.Marshal(ev.Players)
				if players == nil || string(players) == "null" {
					players = []byte("[]")
				}
				if insertJoin != nil {
					if _, err := tx.Stmt(insertJoin).Exec(ev.MatchID, int64(ev.Session), ev.Name, string(players), int64(ev.Tick), at); err != nil {
						rollback()
						continue
					}
					opCount++
				}
			case plog.EventLeave:
				if updateLeave != nil {
					if _, err := tx.Stmt(updateLeave).Exec(int64(ev.Tick), at, ev.MatchID, int64(ev.Session)); err != nil {
						rollback()
						continue
					}
					opCount++
				}
			}
		}
		flushIfNeeded()
	}

	commit()
}
