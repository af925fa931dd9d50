// Copyright 2025 Settlenet
//
// Repository persists the shadow-indexer projections (ownership, balances,
// item_history, indexer_cursor): one struct per concern wrapping
// *database.Client, idempotent upserts guarded by a per-key
// last-applied-batch column.
package indexer

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/settlenet/engine/pkg/database"
	"github.com/settlenet/engine/pkg/domain"
)

// Repository persists the projections the shadow indexer builds from
// settled batches (spec.md §4.6). Every Apply* method is idempotent at the
// (key, game, batch_id) grain: applying the same batch twice, or applying
// batches out of order, never double-counts.
type Repository interface {
	// ApplyOwnership upserts item's owner for game if batchID is newer
	// than the last batch applied to that (item, game) key. Returns
	// applied=false when the upsert was skipped as stale/duplicate.
	ApplyOwnership(ctx context.Context, item, game, fromOwner, toOwner string, batchID uint64) (applied bool, err error)

	// ApplyBalance adds delta to wallet's running balance for game if
	// batchID is newer than the last batch applied to that (wallet, game)
	// key.
	ApplyBalance(ctx context.Context, wallet, game string, delta domain.Amount, batchID uint64) (applied bool, err error)

	Cursor(ctx context.Context) (uint64, error)
	AdvanceCursor(ctx context.Context, batchID uint64) error

	GetOwnership(ctx context.Context, item, game string) (domain.OwnershipEntry, bool, error)
	GetBalance(ctx context.Context, wallet, game string) (domain.BalanceEntry, bool, error)

	// ListByOwner returns every item currently owned by owner, for the
	// inventory read endpoint (spec.md §4.7).
	ListByOwner(ctx context.Context, owner string) ([]domain.OwnershipEntry, error)
}

// MemoryRepository is an in-process Repository for tests and single-node
// deployments.
type MemoryRepository struct {
	mu        sync.Mutex
	ownership map[ownerKey]domain.OwnershipEntry
	balances  map[ownerKey]domain.BalanceEntry
	cursor    uint64
}

type ownerKey struct {
	key, game string
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		ownership: make(map[ownerKey]domain.OwnershipEntry),
		balances:  make(map[ownerKey]domain.BalanceEntry),
	}
}

func (r *MemoryRepository) ApplyOwnership(_ context.Context, item, game, _, toOwner string, batchID uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ownerKey{item, game}
	if existing, ok := r.ownership[key]; ok && existing.BatchID >= batchID {
		return false, nil
	}
	r.ownership[key] = domain.OwnershipEntry{Item: item, Game: game, Owner: toOwner, BatchID: batchID}
	return true, nil
}

func (r *MemoryRepository) ApplyBalance(_ context.Context, wallet, game string, delta domain.Amount, batchID uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ownerKey{wallet, game}
	existing, ok := r.balances[key]
	if ok && existing.LastBatchID >= batchID {
		return false, nil
	}
	sum := domain.ZeroAmount()
	if ok {
		sum = existing.DeltaSum
	}
	next, err := sum.Add(delta)
	if err != nil {
		return false, fmt.Errorf("indexer: balance overflow for %s/%s: %w", wallet, game, err)
	}
	r.balances[key] = domain.BalanceEntry{Wallet: wallet, Game: game, DeltaSum: next, LastBatchID: batchID}
	return true, nil
}

func (r *MemoryRepository) Cursor(_ context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor, nil
}

func (r *MemoryRepository) AdvanceCursor(_ context.Context, batchID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if batchID > r.cursor {
		r.cursor = batchID
	}
	return nil
}

func (r *MemoryRepository) GetOwnership(_ context.Context, item, game string) (domain.OwnershipEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.ownership[ownerKey{item, game}]
	return e, ok, nil
}

func (r *MemoryRepository) ListByOwner(_ context.Context, owner string) ([]domain.OwnershipEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OwnershipEntry
	for _, e := range r.ownership {
		if e.Owner == owner {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetBalance(_ context.Context, wallet, game string) (domain.BalanceEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.balances[ownerKey{wallet, game}]
	if !ok {
		return domain.BalanceEntry{Wallet: wallet, Game: game, DeltaSum: domain.ZeroAmount()}, false, nil
	}
	return e, true, nil
}

// PostgresRepository persists projections to ownership, balances,
// item_history, and indexer_cursor.
type PostgresRepository struct {
	client *database.Client
}

// NewPostgresRepository constructs a durable Repository over client.
func NewPostgresRepository(client *database.Client) *PostgresRepository {
	return &PostgresRepository{client: client}
}

func (r *PostgresRepository) ApplyOwnership(ctx context.Context, item, game, fromOwner, toOwner string, batchID uint64) (bool, error) {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("indexer: begin tx: %w", err)
	}
	defer tx.Rollback()

	var existingBatch sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT batch_id FROM ownership WHERE item = $1 AND game = $2`, item, game).Scan(&existingBatch)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("indexer: read ownership: %w", err)
	}
	if existingBatch.Valid && uint64(existingBatch.Int64) >= batchID {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ownership (item, game, owner, batch_id, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (item, game) DO UPDATE SET owner = EXCLUDED.owner, batch_id = EXCLUDED.batch_id, updated_at = now()`,
		item, game, toOwner, int64(batchID)); err != nil {
		return false, fmt.Errorf("indexer: upsert ownership: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO item_history (item, game, batch_id, from_owner, to_owner, applied_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (item, game, batch_id) DO NOTHING`,
		item, game, int64(batchID), fromOwner, toOwner); err != nil {
		return false, fmt.Errorf("indexer: insert item_history: %w", err)
	}

	return true, tx.Commit()
}

func (r *PostgresRepository) ApplyBalance(ctx context.Context, wallet, game string, delta domain.Amount, batchID uint64) (bool, error) {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("indexer: begin tx: %w", err)
	}
	defer tx.Rollback()

	var sumStr sql.NullString
	var lastBatch sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT delta_sum, last_batch_id FROM balances WHERE wallet = $1 AND game = $2`, wallet, game).
		Scan(&sumStr, &lastBatch)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("indexer: read balance: %w", err)
	}
	if lastBatch.Valid && uint64(lastBatch.Int64) >= batchID {
		return false, nil
	}

	sum := domain.ZeroAmount()
	if sumStr.Valid {
		sum, err = domain.ParseAmount(sumStr.String)
		if err != nil {
			return false, err
		}
	}
	next, err := sum.Add(delta)
	if err != nil {
		return false, fmt.Errorf("indexer: balance overflow for %s/%s: %w", wallet, game, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (wallet, game, delta_sum, last_batch_id)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (wallet, game) DO UPDATE SET delta_sum = EXCLUDED.delta_sum, last_batch_id = EXCLUDED.last_batch_id`,
		wallet, game, next.String(), int64(batchID)); err != nil {
		return false, fmt.Errorf("indexer: upsert balance: %w", err)
	}

	return true, tx.Commit()
}

func (r *PostgresRepository) Cursor(ctx context.Context) (uint64, error) {
	var seq int64
	if err := r.client.QueryRowContext(ctx, `SELECT last_batch_sequence FROM indexer_cursor WHERE id = 1`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("indexer: read cursor: %w", err)
	}
	return uint64(seq), nil
}

func (r *PostgresRepository) AdvanceCursor(ctx context.Context, batchID uint64) error {
	_, err := r.client.ExecContext(ctx, `
		UPDATE indexer_cursor SET last_batch_sequence = $1, updated_at = now()
		WHERE id = 1 AND last_batch_sequence < $1`, int64(batchID))
	if err != nil {
		return fmt.Errorf("indexer: advance cursor: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetOwnership(ctx context.Context, item, game string) (domain.OwnershipEntry, bool, error) {
	e := domain.OwnershipEntry{Item: item, Game: game}
	var batchID int64
	err := r.client.QueryRowContext(ctx, `SELECT owner, batch_id, updated_at FROM ownership WHERE item = $1 AND game = $2`, item, game).
		Scan(&e.Owner, &batchID, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.OwnershipEntry{}, false, nil
	}
	if err != nil {
		return domain.OwnershipEntry{}, false, fmt.Errorf("indexer: get ownership: %w", err)
	}
	e.BatchID = uint64(batchID)
	return e, true, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, owner string) ([]domain.OwnershipEntry, error) {
	rows, err := r.client.QueryContext(ctx, `SELECT item, game, owner, batch_id, updated_at FROM ownership WHERE owner = $1`, owner)
	if err != nil {
		return nil, fmt.Errorf("indexer: list by owner: %w", err)
	}
	defer rows.Close()

	var out []domain.OwnershipEntry
	for rows.Next() {
		var e domain.OwnershipEntry
		var batchID int64
		if err := rows.Scan(&e.Item, &e.Game, &e.Owner, &batchID, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.BatchID = uint64(batchID)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetBalance(ctx context.Context, wallet, game string) (domain.BalanceEntry, bool, error) {
	e := domain.BalanceEntry{Wallet: wallet, Game: game, DeltaSum: domain.ZeroAmount()}
	var sumStr string
	var lastBatch int64
	err := r.client.QueryRowContext(ctx, `SELECT delta_sum, last_batch_id FROM balances WHERE wallet = $1 AND game = $2`, wallet, game).
		Scan(&sumStr, &lastBatch)
	if err == sql.ErrNoRows {
		return e, false, nil
	}
	if err != nil {
		return domain.BalanceEntry{}, false, fmt.Errorf("indexer: get balance: %w", err)
	}
	sum, err := domain.ParseAmount(sumStr)
	if err != nil {
		return domain.BalanceEntry{}, false, err
	}
	e.DeltaSum = sum
	e.LastBatchID = uint64(lastBatch)
	return e, true, nil
}
