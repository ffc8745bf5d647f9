package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lendingScope/internal/lending"
	"lendingScope/internal/model"
)

// Schema creates the ledger tables. Records are stored as JSONB documents with
// a few columns lifted out for querying; uint64 values use NUMERIC(20,0).
const Schema = `
CREATE TABLE IF NOT EXISTS lending_pools (
	asset       TEXT PRIMARY KEY,
	state       JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lending_positions (
	owner          TEXT PRIMARY KEY,
	state          JSONB NOT NULL,
	health_factor  NUMERIC(20,0) NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lending_health_snapshots (
	owner          TEXT NOT NULL,
	snapshot_index NUMERIC(20,0) NOT NULL,
	health_factor  NUMERIC(20,0) NOT NULL,
	taken_at       BIGINT NOT NULL,
	state          JSONB NOT NULL,
	PRIMARY KEY (owner, snapshot_index)
);
`

// Store is a Postgres-backed lending.Ledger. Each Atomic call is one database
// transaction; records are locked with SELECT ... FOR UPDATE on first access.
type Store struct {
	pool *pgxpool.Pool
}

var _ lending.Ledger = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Atomic(ctx context.Context, fn func(tx lending.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(dbTx pgx.Tx) error {
		tx := &pgTx{
			db:        dbTx,
			pools:     make(map[string]*model.Pool),
			positions: make(map[common.Address]*model.Position),
		}
		if err := fn(tx); err != nil {
			return err
		}
		return tx.flush(ctx)
	})
}

func (s *Store) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT state FROM lending_pools ORDER BY asset`)
	if err != nil {
		return nil, fmt.Errorf("query pools: %w", err)
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		var p model.Pool
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode pool: %w", err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func (s *Store) Snapshots(ctx context.Context, owner common.Address) ([]model.HealthSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT state FROM lending_health_snapshots
		WHERE owner = $1
		ORDER BY snapshot_index
	`, owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []model.HealthSnapshot
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var snap model.HealthSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

type pgTx struct {
	db pgx.Tx

	pools     map[string]*model.Pool
	positions map[common.Address]*model.Position

	newPools     []*model.Pool
	newPositions []*model.Position
	snapshots    []model.HealthSnapshot
}

func (tx *pgTx) Pool(ctx context.Context, asset string) (*model.Pool, error) {
	if p, ok := tx.pools[asset]; ok {
		return p, nil
	}
	for _, p := range tx.newPools {
		if p.Asset == asset {
			return p, nil
		}
	}

	var raw []byte
	row := tx.db.QueryRow(ctx, `SELECT state FROM lending_pools WHERE asset = $1 FOR UPDATE`, asset)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", lending.ErrPoolNotFound, asset)
		}
		return nil, fmt.Errorf("select pool: %w", err)
	}
	var p model.Pool
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode pool: %w", err)
	}
	tx.pools[asset] = &p
	return &p, nil
}

func (tx *pgTx) Position(ctx context.Context, owner common.Address) (*model.Position, error) {
	if p, ok := tx.positions[owner]; ok {
		return p, nil
	}
	for _, p := range tx.newPositions {
		if p.Owner == owner {
			return p, nil
		}
	}

	var raw []byte
	row := tx.db.QueryRow(ctx, `SELECT state FROM lending_positions WHERE owner = $1 FOR UPDATE`, owner.Hex())
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", lending.ErrPositionNotFound, owner.Hex())
		}
		return nil, fmt.Errorf("select position: %w", err)
	}
	var p model.Position
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	if p.Assets == nil {
		p.Assets = make(map[string]*model.AssetLedger)
	}
	tx.positions[owner] = &p
	return &p, nil
}

func (tx *pgTx) InsertPool(ctx context.Context, pool *model.Pool) error {
	tx.newPools = append(tx.newPools, pool.Clone())
	return nil
}

func (tx *pgTx) InsertPosition(ctx context.Context, pos *model.Position) error {
	tx.newPositions = append(tx.newPositions, pos.Clone())
	return nil
}

func (tx *pgTx) AppendSnapshot(ctx context.Context, snap model.HealthSnapshot) error {
	tx.snapshots = append(tx.snapshots, snap)
	return nil
}

// flush writes every touched record in one batch. Inserts that hit an existing
// key surface as the matching exists error and roll the transaction back.
func (tx *pgTx) flush(ctx context.Context) error {
	type pending struct {
		exists error
	}
	batch := &pgx.Batch{}
	var queued []pending

	assets := make([]string, 0, len(tx.pools))
	for asset := range tx.pools {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		raw, err := json.Marshal(tx.pools[asset])
		if err != nil {
			return fmt.Errorf("encode pool: %w", err)
		}
		batch.Queue(`UPDATE lending_pools SET state = $2, updated_at = now() WHERE asset = $1`, asset, raw)
		queued = append(queued, pending{})
	}
	for _, p := range tx.newPools {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode pool: %w", err)
		}
		batch.Queue(`
			INSERT INTO lending_pools (asset, state, created_at, updated_at)
			VALUES ($1, $2, now(), now())
			ON CONFLICT (asset) DO NOTHING
		`, p.Asset, raw)
		queued = append(queued, pending{exists: lending.ErrPoolExists})
	}

	for _, p := range tx.positions {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode position: %w", err)
		}
		batch.Queue(`
			UPDATE lending_positions
			SET state = $2, health_factor = ($3::text)::numeric, updated_at = now()
			WHERE owner = $1
		`, p.Owner.Hex(), raw, strconv.FormatUint(p.HealthFactor, 10))
		queued = append(queued, pending{})
	}
	for _, p := range tx.newPositions {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode position: %w", err)
		}
		batch.Queue(`
			INSERT INTO lending_positions (owner, state, health_factor, created_at, updated_at)
			VALUES ($1, $2, ($3::text)::numeric, now(), now())
			ON CONFLICT (owner) DO NOTHING
		`, p.Owner.Hex(), raw, strconv.FormatUint(p.HealthFactor, 10))
		queued = append(queued, pending{exists: lending.ErrPositionExists})
	}

	for _, snap := range tx.snapshots {
		raw, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		batch.Queue(`
			INSERT INTO lending_health_snapshots (owner, snapshot_index, health_factor, taken_at, state)
			VALUES ($1, ($2::text)::numeric, ($3::text)::numeric, $4, $5)
			ON CONFLICT (owner, snapshot_index) DO NOTHING
		`,
			snap.Owner.Hex(),
			strconv.FormatUint(snap.Index, 10),
			strconv.FormatUint(snap.HealthFactor, 10),
			snap.Timestamp,
			raw,
		)
		queued = append(queued, pending{exists: lending.ErrSnapshotExists})
	}

	if len(queued) == 0 {
		return nil
	}

	br := tx.db.SendBatch(ctx, batch)
	defer br.Close()

	for _, q := range queued {
		tag, err := br.Exec()
		if err != nil {
			return err
		}
		if q.exists != nil && tag.RowsAffected() == 0 {
			return q.exists
		}
	}
	return nil
}
