// Package pgstore implements cache.Backend against PostgreSQL for
// deployments using storage_backend: postgresql. No example repo in the
// pack wires Postgres for this shape of workload; github.com/jackc/pgx/v5
// is the ecosystem-standard driver, named here rather than grounded on a
// specific teacher/example file.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gateway/cex-gateway/pkg/types"
)

// Store is a PostgreSQL-backed cache.Backend.
type Store struct {
	pool   *pgxpool.Pool
	prefix string
}

// Open connects to connString and ensures the prefixed schema exists.
func Open(ctx context.Context, connString, prefix string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	s := &Store{pool: pool, prefix: prefix}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_orders (
			oid TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			"timestamp" BIGINT NOT NULL,
			data JSONB NOT NULL
		)`, s.prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_positions (
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			data JSONB NOT NULL,
			PRIMARY KEY (exchange, symbol)
		)`, s.prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_balances (
			account_type TEXT NOT NULL,
			asset TEXT NOT NULL,
			data JSONB NOT NULL,
			PRIMARY KEY (account_type, asset)
		)`, s.prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_pnl_snapshots (
			"timestamp" BIGINT PRIMARY KEY,
			data JSONB NOT NULL
		)`, s.prefix),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) UpsertOrder(ctx context.Context, oid, symbol string, timestampMs int64, data []byte) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s_orders (oid, symbol, "timestamp", data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (oid) DO UPDATE SET symbol=excluded.symbol, "timestamp"=excluded."timestamp", data=excluded.data`,
		s.prefix), oid, symbol, timestampMs, data)
	return err
}

func (s *Store) UpsertPosition(ctx context.Context, exchange, symbol string, data []byte) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s_positions (exchange, symbol, data) VALUES ($1, $2, $3)
		 ON CONFLICT (exchange, symbol) DO UPDATE SET data=excluded.data`,
		s.prefix), exchange, symbol, data)
	return err
}

func (s *Store) UpsertBalance(ctx context.Context, accountType, asset string, data []byte) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s_balances (account_type, asset, data) VALUES ($1, $2, $3)
		 ON CONFLICT (account_type, asset) DO UPDATE SET data=excluded.data`,
		s.prefix), accountType, asset, data)
	return err
}

func (s *Store) InsertPnLSnapshot(ctx context.Context, timestampMs int64, data []byte) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s_pnl_snapshots ("timestamp", data) VALUES ($1, $2)
		 ON CONFLICT ("timestamp") DO UPDATE SET data=excluded.data`,
		s.prefix), timestampMs, data)
	return err
}

func (s *Store) LoadOrders(ctx context.Context) ([]types.Order, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT data FROM %s_orders`, s.prefix))
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
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT data FROM %s_positions`, s.prefix))
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
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT account_type, data FROM %s_balances`, s.prefix))
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

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
