// Package sqlitestore implements cache.Backend against a local SQLite file,
// grounded on aristath-sentinel's internal/database/db.go WAL-mode
// database/sql wrapper (modernc.org/sqlite, a pure-Go driver requiring no
// cgo toolchain).
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gateway/cex-gateway/pkg/types"
)

// Store is a SQLite-backed cache.Backend. Table names are prefixed so
// multiple strategy/user pairs can safely share one database file.
type Store struct {
	db     *sql.DB
	prefix string
}

// Open creates (or reuses) a WAL-mode SQLite database at path and ensures
// the prefixed schema exists.
func Open(path, prefix string) (*Store, error) {
	if path != "file::memory:" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlitestore: create dir: %w", err)
		}
	}

	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY
	db.SetConnMaxLifetime(24 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}

	s := &Store{db: db, prefix: prefix}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_orders (
			oid TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			data BLOB NOT NULL
		)`, s.prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_positions (
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (exchange, symbol)
		)`, s.prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_balances (
			account_type TEXT NOT NULL,
			asset TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (account_type, asset)
		)`, s.prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_pnl_snapshots (
			timestamp INTEGER PRIMARY KEY,
			data BLOB NOT NULL
		)`, s.prefix),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlitestore: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) UpsertOrder(ctx context.Context, oid, symbol string, timestampMs int64, data []byte) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s_orders (oid, symbol, timestamp, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(oid) DO UPDATE SET symbol=excluded.symbol, timestamp=excluded.timestamp, data=excluded.data`,
		s.prefix), oid, symbol, timestampMs, data)
	return err
}

func (s *Store) UpsertPosition(ctx context.Context, exchange, symbol string, data []byte) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s_positions (exchange, symbol, data) VALUES (?, ?, ?)
		 ON CONFLICT(exchange, symbol) DO UPDATE SET data=excluded.data`,
		s.prefix), exchange, symbol, data)
	return err
}

func (s *Store) UpsertBalance(ctx context.Context, accountType, asset string, data []byte) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s_balances (account_type, asset, data) VALUES (?, ?, ?)
		 ON CONFLICT(account_type, asset) DO UPDATE SET data=excluded.data`,
		s.prefix), accountType, asset, data)
	return err
}

func (s *Store) InsertPnLSnapshot(ctx context.Context, timestampMs int64, data []byte) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s_pnl_snapshots (timestamp, data) VALUES (?, ?)
		 ON CONFLICT(timestamp) DO UPDATE SET data=excluded.data`,
		s.prefix), timestampMs, data)
	return err
}

func (s *Store) LoadOrders(ctx context.Context) ([]types.Order, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT data FROM %s_orders`, s.prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Order
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var o types.Order
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) LoadPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT data FROM %s_positions`, s.prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p types.Position
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) LoadBalances(ctx context.Context) (map[string][]types.Balance, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT account_type, data FROM %s_balances`, s.prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]types.Balance)
	for rows.Next() {
		var accountType string
		var data []byte
		if err := rows.Scan(&accountType, &data); err != nil {
			return nil, err
		}
		var b types.Balance
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		out[accountType] = append(out[accountType], b)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
