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

	"github.com/dkeye/Canvas/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var ErrRoomNotFound = errors.New("room not found")

// Room is the stored metadata of a room.
type Room struct {
	ID           domain.RoomID `json:"id"`
	Name         string        `json:"name"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	LastActiveAt *time.Time    `json:"lastActiveAt,omitempty"`
}

// SQLite is the persistence collaborator backed by a single database file.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	log.Info().Str("module", "store").Str("path", path).Msg("database initialized")
	return &SQLite{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_active_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS room_snapshots (
		room_id TEXT PRIMARY KEY,
		snapshot_data BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS room_operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		conn_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		payload BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_room_operations_room_id ON room_operations(room_id, id);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Room operations

func (s *SQLite) CreateRoom(ctx context.Context, id domain.RoomID, name string) error {
	if name == "" {
		name = domain.DefaultRoomName(id)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO rooms (id, name) VALUES (?, ?)",
		string(id), name,
	)
	return err
}

func (s *SQLite) GetRoom(ctx context.Context, id domain.RoomID) (*Room, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at, updated_at, last_active_at FROM rooms WHERE id = ?",
		string(id),
	)
	var (
		room       Room
		lastActive sql.NullTime
	)
	err := row.Scan(&room.ID, &room.Name, &room.CreatedAt, &room.UpdatedAt, &lastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastActive.Valid {
		room.LastActiveAt = &lastActive.Time
	}
	return &room, nil
}

func (s *SQLite) TouchActivity(ctx context.Context, id domain.RoomID) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE rooms SET last_active_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(id),
	)
	return err
}

// Snapshot operations

func (s *SQLite) SaveSnapshot(ctx context.Context, id domain.RoomID, snap domain.Snapshot) error {
	data, err := json.Marshal(snap.Normalize())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.CreateRoom(ctx, id, ""); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO room_snapshots (room_id, snapshot_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			snapshot_data = excluded.snapshot_data,
			updated_at = CURRENT_TIMESTAMP
	`, string(id), data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(id),
	)
	return err
}

// LoadRoom returns the stored snapshot; found is false when none was saved.
func (s *SQLite) LoadRoom(ctx context.Context, id domain.RoomID) (domain.Snapshot, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT snapshot_data FROM room_snapshots WHERE room_id = ?",
		string(id),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap.Normalize(), true, nil
}

// History operations

func (s *SQLite) AppendOperation(ctx context.Context, op domain.Operation) error {
	if err := s.CreateRoom(ctx, op.RoomID, ""); err != nil {
		return err
	}
	at := op.At
	if at.IsZero() {
		at = time.Now()
	}
	var payload []byte
	if len(op.Payload) > 0 {
		payload = op.Payload
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO room_operations (room_id, conn_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		string(op.RoomID), string(op.ConnID), string(op.Kind), payload, at.UTC(),
	)
	return err
}

// ListOperations returns the newest operations of a room, oldest first.
// An empty kind lists every kind.
func (s *SQLite) ListOperations(ctx context.Context, id domain.RoomID, kind domain.EventType, limit int) ([]domain.Operation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, conn_id, kind, payload, created_at FROM (
			SELECT id, room_id, conn_id, kind, payload, created_at
			FROM room_operations
			WHERE room_id = ? AND (? = '' OR kind = ?)
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`, string(id), string(kind), string(kind), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []domain.Operation
	for rows.Next() {
		var (
			op      domain.Operation
			payload []byte
		)
		if err := rows.Scan(&op.RoomID, &op.ConnID, &op.Kind, &payload, &op.At); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			op.Payload = payload
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ClearOperations drops the operation log of a room.
func (s *SQLite) ClearOperations(ctx context.Context, id domain.RoomID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM room_operations WHERE room_id = ?", string(id))
	return err
}
