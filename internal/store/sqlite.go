package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is the default Gateway, backed by a single-connection pure Go
// SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
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
	return &SQLite{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS players (
			username_key  TEXT PRIMARY KEY,
			username      TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			current_room  TEXT NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL,
			last_login    INTEGER NOT NULL DEFAULT 0,
			total_logins  INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS npc_state (
			npc_id       TEXT PRIMARY KEY,
			current_room TEXT NOT NULL,
			last_moved   INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS npc_memory (
			npc_id            TEXT NOT NULL REFERENCES npc_state(npc_id) ON DELETE CASCADE,
			player_key        TEXT NOT NULL,
			player_name       TEXT NOT NULL,
			interaction_count INTEGER NOT NULL,
			first_met         INTEGER NOT NULL,
			last_seen         INTEGER NOT NULL,
			topics            TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (npc_id, player_key)
		);`,
		`CREATE INDEX IF NOT EXISTS npc_memory_last_seen ON npc_memory(last_seen);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (s *SQLite) LoadPlayer(ctx context.Context, username string) (PlayerRecord, error) {
	var rec PlayerRecord
	var created, last int64
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, current_room, created_at, last_login, total_logins
		 FROM players WHERE username_key = ?`, Key(username),
	).Scan(&rec.Username, &rec.PasswordHash, &rec.CurrentRoom, &created, &last, &rec.TotalLogins)
	if errors.Is(err, sql.ErrNoRows) {
		return PlayerRecord{}, ErrNotFound
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("load player %s: %w", username, err)
	}
	rec.CreatedAt = fromMillis(created)
	rec.LastLogin = fromMillis(last)
	return rec, nil
}

func (s *SQLite) CreatePlayer(ctx context.Context, rec PlayerRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO players (username_key, username, password_hash, current_room, created_at, last_login, total_logins)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(username_key) DO NOTHING`,
		Key(rec.Username), rec.Username, rec.PasswordHash, rec.CurrentRoom,
		toMillis(rec.CreatedAt), toMillis(rec.LastLogin), rec.TotalLogins,
	)
	if err != nil {
		return fmt.Errorf("create player %s: %w", rec.Username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExists
	}
	return nil
}

func (s *SQLite) RecordLogin(ctx context.Context, username string, at time.Time) error {
	return s.updatePlayer(ctx, username,
		`UPDATE players SET last_login = ?, total_logins = total_logins + 1 WHERE username_key = ?`,
		toMillis(at), Key(username))
}

func (s *SQLite) SavePlayerRoom(ctx context.Context, username, room string) error {
	return s.updatePlayer(ctx, username,
		`UPDATE players SET current_room = ? WHERE username_key = ?`,
		room, Key(username))
}

func (s *SQLite) updatePlayer(ctx context.Context, username, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update player %s: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListPlayers(ctx context.Context) ([]PlayerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, password_hash, current_room, created_at, last_login, total_logins
		 FROM players ORDER BY username_key`)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()
	var out []PlayerRecord
	for rows.Next() {
		var rec PlayerRecord
		var created, last int64
		if err := rows.Scan(&rec.Username, &rec.PasswordHash, &rec.CurrentRoom, &created, &last, &rec.TotalLogins); err != nil {
			return nil, err
		}
		rec.CreatedAt = fromMillis(created)
		rec.LastLogin = fromMillis(last)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) LoadNPCState(ctx context.Context, id string) (NPCState, error) {
	st := NPCState{ID: id}
	var moved int64
	err := s.db.QueryRowContext(ctx,
		`SELECT current_room, last_moved FROM npc_state WHERE npc_id = ?`, id,
	).Scan(&st.CurrentRoom, &moved)
	if errors.Is(err, sql.ErrNoRows) {
		return NPCState{}, ErrNotFound
	}
	if err != nil {
		return NPCState{}, fmt.Errorf("load npc %s: %w", id, err)
	}
	st.LastMoved = fromMillis(moved)

	rows, err := s.db.QueryContext(ctx,
		`SELECT player_key, player_name, interaction_count, first_met, last_seen, topics
		 FROM npc_memory WHERE npc_id = ?`, id)
	if err != nil {
		return NPCState{}, fmt.Errorf("load npc %s memory: %w", id, err)
	}
	defer rows.Close()
	st.Memories = make(map[string]MemoryRecord)
	for rows.Next() {
		var key, topics string
		var first, last int64
		var m MemoryRecord
		if err := rows.Scan(&key, &m.Player, &m.InteractionCount, &first, &last, &topics); err != nil {
			return NPCState{}, err
		}
		m.FirstMet = fromMillis(first)
		m.LastSeen = fromMillis(last)
		if err := json.Unmarshal([]byte(topics), &m.Topics); err != nil {
			return NPCState{}, fmt.Errorf("decode topics for %s/%s: %w", id, key, err)
		}
		st.Memories[key] = m
	}
	return st, rows.Err()
}

func (s *SQLite) SaveNPCState(ctx context.Context, st NPCState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO npc_state (npc_id, current_room, last_moved) VALUES (?, ?, ?)
		 ON CONFLICT(npc_id) DO UPDATE SET current_room = excluded.current_room, last_moved = excluded.last_moved`,
		st.ID, st.CurrentRoom, toMillis(st.LastMoved)); err != nil {
		return fmt.Errorf("save npc %s: %w", st.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM npc_memory WHERE npc_id = ?`, st.ID); err != nil {
		return fmt.Errorf("clear npc %s memory: %w", st.ID, err)
	}
	for key, m := range st.Memories {
		topics := m.Topics
		if topics == nil {
			topics = []string{}
		}
		b, err := json.Marshal(topics)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO npc_memory (npc_id, player_key, player_name, interaction_count, first_met, last_seen, topics)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			st.ID, key, m.Player, m.InteractionCount, toMillis(m.FirstMet), toMillis(m.LastSeen), string(b)); err != nil {
			return fmt.Errorf("save npc %s memory: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) PruneNPCMemory(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM npc_memory WHERE last_seen < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("prune npc memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) Close() error { return s.db.Close() }
