package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/eleven-am/researchflow/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS flows (
	flow_id    TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	document   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flows_created ON flows(created_at DESC);
`

// SQLiteStore keeps each flow as a JSON document in a single table. Writes
// go through one mutex; reads are concurrent under WAL.
type SQLiteStore struct {
	conn   *sql.DB
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, domain.NewInternalError("create db directory", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.NewInternalError("open database", err)
	}
	if path == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, domain.NewInternalError(strings.ToLower(pragma), err)
		}
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, domain.NewInternalError("create schema", err)
	}

	return &SQLiteStore{
		conn:   conn,
		path:   path,
		logger: logger.With("component", "flow-store", "driver", "sqlite"),
	}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, flow *domain.Flow) error {
	data, err := encodeFlow(flow)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err = s.conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM flows WHERE flow_id = ?`, flow.ID).Scan(&exists)
	if err != nil {
		return wrapStoreErr("create", flow.ID, err)
	}
	if exists > 0 {
		return flowExists(flow.ID)
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO flows (flow_id, status, created_at, updated_at, document) VALUES (?, ?, ?, ?, ?)`,
		flow.ID, string(flow.Status), flow.CreatedAt.UnixNano(), flow.UpdatedAt.UnixNano(), string(data))
	if err != nil {
		return wrapStoreErr("create", flow.ID, err)
	}

	s.logger.Debug("flow created", "flow_id", flow.ID)
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, flowID string) (*domain.Flow, error) {
	var doc string
	err := s.conn.QueryRowContext(ctx, `SELECT document FROM flows WHERE flow_id = ?`, flowID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("flow", flowID)
	}
	if err != nil {
		return nil, wrapStoreErr("get", flowID, err)
	}
	return decodeFlow([]byte(doc))
}

func (s *SQLiteStore) List(ctx context.Context) ([]*domain.Flow, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT document FROM flows ORDER BY created_at DESC, flow_id DESC`)
	if err != nil {
		return nil, wrapStoreErr("list", "", err)
	}
	defer rows.Close()

	var flows []*domain.Flow
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, wrapStoreErr("list", "", err)
		}
		flow, err := decodeFlow([]byte(doc))
		if err != nil {
			s.logger.Warn("skipping undecodable flow", "error", err)
			continue
		}
		flows = append(flows, flow)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("list", "", err)
	}
	return flows, nil
}

func (s *SQLiteStore) Update(ctx context.Context, flow *domain.Flow) error {
	data, err := encodeFlow(flow)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.ExecContext(ctx,
		`UPDATE flows SET status = ?, updated_at = ?, document = ? WHERE flow_id = ?`,
		string(flow.Status), flow.UpdatedAt.UnixNano(), string(data), flow.ID)
	if err != nil {
		return wrapStoreErr("update", flow.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("flow", flow.ID)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.ExecContext(ctx, `DELETE FROM flows WHERE flow_id = ?`, flowID)
	if err != nil {
		return wrapStoreErr("delete", flowID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("flow", flowID)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
