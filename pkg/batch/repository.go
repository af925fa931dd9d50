// Copyright 2025 Settlenet
//
// Repository persists netting batches idempotently: one struct per
// concern wrapping *database.Client, upserts keyed by the primary id.
package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/settlenet/engine/pkg/database"
	"github.com/settlenet/engine/pkg/domain"
)

// ErrNotFound is returned when a batch_id has no persisted record.
var ErrNotFound = errors.New("batch: not found")

// Repository persists the batch record and its settled_items /
// net_cash_deltas sub-tables in a single transaction (spec.md §4.4).
type Repository interface {
	Save(ctx context.Context, b *domain.NettingBatch) error
	Get(ctx context.Context, batchID string) (*domain.NettingBatch, error)

	// GetBySettlementID looks a batch up by its ledger-assigned sequence
	// number, used by the shadow indexer (C6) to resolve a SettlementEvent
	// back to the local batch record.
	GetBySettlementID(ctx context.Context, settlementID uint64) (*domain.NettingBatch, error)

	// ListByState returns every batch currently in state, ordered by
	// settlement id ascending, used by the indexer's resync sweep.
	ListByState(ctx context.Context, state domain.BatchState) ([]*domain.NettingBatch, error)
}

// MemoryRepository is an in-process Repository for tests and single-node
// deployments that accept restart data loss.
type MemoryRepository struct {
	mu      sync.Mutex
	batches map[string]*domain.NettingBatch
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{batches: make(map[string]*domain.NettingBatch)}
}

func (r *MemoryRepository) Save(_ context.Context, b *domain.NettingBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *b
	r.batches[b.BatchID] = &cp
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, batchID string) (*domain.NettingBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *MemoryRepository) GetBySettlementID(_ context.Context, settlementID uint64) (*domain.NettingBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.batches {
		if b.SettlementID == settlementID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) ListByState(_ context.Context, state domain.BatchState) ([]*domain.NettingBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.NettingBatch
	for _, b := range r.batches {
		if b.State == state {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettlementID < out[j].SettlementID })
	return out, nil
}

// PostgresRepository persists batches to netting_batches, settled_items,
// and net_cash_deltas.
type PostgresRepository struct {
	client *database.Client
}

// NewPostgresRepository constructs a durable Repository over client.
func NewPostgresRepository(client *database.Client) *PostgresRepository {
	return &PostgresRepository{client: client}
}

func (r *PostgresRepository) Save(ctx context.Context, b *domain.NettingBatch) error {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("batch: begin tx: %w", err)
	}
	defer tx.Rollback()

	var root, daHash []byte
	if len(b.BatchHash) > 0 {
		root = b.BatchHash
	}
	if len(b.DAHash) > 0 {
		daHash = b.DAHash
	}

	// ConsumedIDs isn't reloaded by getWhere (settled_items/net_cash_deltas
	// don't carry it), so a batch fetched via Get and re-saved — e.g. by the
	// indexer marking it INDEXED — would submit numIntents=0 here. The
	// upsert's CASE below keeps the previously stored count in that case.
	numIntents, numItems, numWallets := 0, 0, 0
	if b.Result != nil {
		numIntents = len(b.Result.ConsumedIDs)
		numItems = b.Result.NumItems
		numWallets = b.Result.NumWallets
	}

	var committedAt, settledAt any
	switch b.State {
	case domain.BatchStateCommitted, domain.BatchStateSettled, domain.BatchStateIndexed:
		committedAt = b.NettedAt
	}
	if b.State == domain.BatchStateSettled || b.State == domain.BatchStateIndexed {
		settledAt = b.NettedAt
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO netting_batches (batch_id, sequence, status, num_intents, num_items, num_wallets, merkle_root, da_pointer, tx_ref, opened_at, committed_at, settled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (batch_id) DO UPDATE SET
			sequence = EXCLUDED.sequence,
			status = EXCLUDED.status,
			num_intents = CASE WHEN EXCLUDED.num_intents > 0 THEN EXCLUDED.num_intents ELSE netting_batches.num_intents END,
			num_items = EXCLUDED.num_items,
			num_wallets = EXCLUDED.num_wallets,
			merkle_root = EXCLUDED.merkle_root,
			da_pointer = EXCLUDED.da_pointer,
			tx_ref = EXCLUDED.tx_ref,
			committed_at = EXCLUDED.committed_at,
			settled_at = EXCLUDED.settled_at`,
		b.BatchID, b.SettlementID, string(b.State), numIntents, numItems, numWallets,
		root, daHash, b.TxRef, b.CreatedAt, committedAt, settledAt,
	); err != nil {
		return fmt.Errorf("batch: upsert batch: %w", err)
	}

	if b.Result != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM settled_items WHERE batch_id = $1`, b.BatchID); err != nil {
			return fmt.Errorf("batch: clear settled_items: %w", err)
		}
		for item, owner := range b.Result.FinalOwners {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO settled_items (batch_id, item, game, final_owner) VALUES ($1,$2,$3,$4)`,
				b.BatchID, item, b.Result.ItemGames[item], owner); err != nil {
				return fmt.Errorf("batch: insert settled_items: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM net_cash_deltas WHERE batch_id = $1`, b.BatchID); err != nil {
			return fmt.Errorf("batch: clear net_cash_deltas: %w", err)
		}
		for wallet, amount := range b.Result.NetCashDeltas {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO net_cash_deltas (batch_id, wallet, game, delta) VALUES ($1,$2,$3,$4)`,
				b.BatchID, wallet, b.Result.WalletGames[wallet], amount.String()); err != nil {
				return fmt.Errorf("batch: insert net_cash_deltas: %w", err)
			}
		}
	}

	return tx.Commit()
}

func (r *PostgresRepository) Get(ctx context.Context, batchID string) (*domain.NettingBatch, error) {
	return r.getWhere(ctx, "batch_id = $1", batchID)
}

func (r *PostgresRepository) GetBySettlementID(ctx context.Context, settlementID uint64) (*domain.NettingBatch, error) {
	return r.getWhere(ctx, "sequence = $1", int64(settlementID))
}

func (r *PostgresRepository) ListByState(ctx context.Context, state domain.BatchState) ([]*domain.NettingBatch, error) {
	rows, err := r.client.QueryContext(ctx, `SELECT batch_id FROM netting_batches WHERE status = $1 ORDER BY sequence ASC`, string(state))
	if err != nil {
		return nil, fmt.Errorf("batch: list by state: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*domain.NettingBatch, 0, len(ids))
	for _, id := range ids {
		b, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *PostgresRepository) getWhere(ctx context.Context, where string, arg any) (*domain.NettingBatch, error) {
	b := &domain.NettingBatch{}
	var state string
	var sequence int64
	var root, daHash sql.NullString
	var txRef sql.NullString
	var nettedAt sql.NullTime

	err := r.client.QueryRowContext(ctx, `
		SELECT batch_id, sequence, status, merkle_root, da_pointer, tx_ref, opened_at, committed_at
		FROM netting_batches WHERE `+where, arg,
	).Scan(&b.BatchID, &sequence, &state, &root, &daHash, &txRef, &b.CreatedAt, &nettedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("batch: get: %w", err)
	}

	b.SettlementID = uint64(sequence)
	b.State = domain.BatchState(state)
	if txRef.Valid {
		b.TxRef = txRef.String
	}
	if nettedAt.Valid {
		t := nettedAt.Time
		b.NettedAt = &t
	}

	owners, itemGames, err := r.loadOwners(ctx, b.BatchID)
	if err != nil {
		return nil, err
	}
	deltas, walletGames, err := r.loadDeltas(ctx, b.BatchID)
	if err != nil {
		return nil, err
	}
	b.Result = &domain.NettingResult{
		FinalOwners:   owners,
		NetCashDeltas: deltas,
		NumItems:      len(owners),
		NumWallets:    len(deltas),
		ItemGames:     itemGames,
		WalletGames:   walletGames,
	}

	return b, nil
}

func (r *PostgresRepository) loadOwners(ctx context.Context, batchID string) (map[string]string, map[string]string, error) {
	rows, err := r.client.QueryContext(ctx, `SELECT item, game, final_owner FROM settled_items WHERE batch_id = $1`, batchID)
	if err != nil {
		return nil, nil, fmt.Errorf("batch: load settled_items: %w", err)
	}
	defer rows.Close()

	owners := make(map[string]string)
	games := make(map[string]string)
	for rows.Next() {
		var item, game, owner string
		if err := rows.Scan(&item, &game, &owner); err != nil {
			return nil, nil, err
		}
		owners[item] = owner
		games[item] = game
	}
	return owners, games, rows.Err()
}

func (r *PostgresRepository) loadDeltas(ctx context.Context, batchID string) (map[string]domain.Amount, map[string]string, error) {
	rows, err := r.client.QueryContext(ctx, `SELECT wallet, game, delta FROM net_cash_deltas WHERE batch_id = $1`, batchID)
	if err != nil {
		return nil, nil, fmt.Errorf("batch: load net_cash_deltas: %w", err)
	}
	defer rows.Close()

	deltas := make(map[string]domain.Amount)
	games := make(map[string]string)
	for rows.Next() {
		var wallet, game, delta string
		if err := rows.Scan(&wallet, &game, &delta); err != nil {
			return nil, nil, err
		}
		amt, err := domain.ParseAmount(delta)
		if err != nil {
			return nil, nil, err
		}
		deltas[wallet] = amt
		games[wallet] = game
	}
	return deltas, games, rows.Err()
}
