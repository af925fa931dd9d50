// Copyright 2025 Settlenet

package queue

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/settlenet/engine/pkg/database"
	"github.com/settlenet/engine/pkg/domain"
	domainerrors "github.com/settlenet/engine/pkg/errors"
	"github.com/settlenet/engine/pkg/session"
)

// PostgresQueue is the durable Queue backed by the trade_intents,
// used_nonces, and processed_intents tables: a thin struct wrapping
// *database.Client with one method per queue operation.
type PostgresQueue struct {
	Submitter

	client *database.Client
}

// NewPostgresQueue constructs a durable queue over client.
func NewPostgresQueue(client *database.Client, gate *session.Gate) *PostgresQueue {
	return &PostgresQueue{Submitter: Submitter{Gate: gate}, client: client}
}

func (q *PostgresQueue) Submit(ctx context.Context, intent *domain.TradeIntent) error {
	tx, err := q.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("queue: begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM trade_intents WHERE id = $1 UNION SELECT 1 FROM processed_intents WHERE id = $1)`,
		intent.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("queue: check duplicate: %w", err)
	}
	if exists {
		return domainerrors.Reject("queue", "PostgresQueue.Submit", domainerrors.CodeDuplicateID, nil).
			WithField("id", intent.ID)
	}

	var nonceUsed bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM used_nonces WHERE session = $1 AND nonce = $2)`,
		string(intent.Session), intent.Nonce,
	).Scan(&nonceUsed); err != nil {
		return fmt.Errorf("queue: check nonce: %w", err)
	}
	if nonceUsed {
		return domainerrors.Reject("queue", "PostgresQueue.Submit", domainerrors.CodeNonceReused, nil).
			WithField("session", string(intent.Session)).WithField("nonce", intent.Nonce)
	}

	if err := q.validate(ctx, intent); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trade_intents (id, session, owner, item, from_wallet, to_wallet, amount, nonce, action, signature, game, listing, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,'pending',$13)`,
		intent.ID, string(intent.Session), string(intent.Owner), intent.Item, intent.From, intent.To,
		intent.Amount.String(), intent.Nonce, string(intent.EffectiveAction()), string(intent.Signature),
		intent.Game, intent.Listing, intent.CreatedAt,
	); err != nil {
		return fmt.Errorf("queue: insert intent: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO used_nonces (session, nonce) VALUES ($1, $2)`,
		string(intent.Session), intent.Nonce); err != nil {
		return fmt.Errorf("queue: record nonce: %w", err)
	}

	return tx.Commit()
}

func (q *PostgresQueue) Peek(ctx context.Context, maxCount int, maxAge time.Duration) ([]*domain.TradeIntent, error) {
	var cutoff time.Time // zero value: no age filter, matches maxAge <= 0
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge)
	}
	rows, err := q.client.QueryContext(ctx, `
		SELECT id, session, owner, item, from_wallet, to_wallet, amount, nonce, action, signature, game, listing, created_at
		FROM trade_intents
		WHERE status = 'pending' AND created_at >= $1
		  AND item NOT IN (SELECT item FROM trade_intents WHERE status = 'locked')
		ORDER BY created_at ASC
		LIMIT NULLIF($2, 0)`, cutoff, maxCount)
	if err != nil {
		return nil, fmt.Errorf("queue: peek: %w", err)
	}
	defer rows.Close()

	var out []*domain.TradeIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

// Lock claims intents into batchID using SELECT ... FOR UPDATE SKIP LOCKED
// so concurrent batchers never claim the same row twice (spec.md §4.2).
func (q *PostgresQueue) Lock(ctx context.Context, batchID string, intents []*domain.TradeIntent) (*Handle, error) {
	tx, err := q.client.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: begin tx: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, len(intents))
	for i, intent := range intents {
		ids[i] = intent.ID
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, session, owner, item, from_wallet, to_wallet, amount, nonce, action, signature, game, listing, created_at
		FROM trade_intents
		WHERE id = ANY($1) AND status = 'pending'
		FOR UPDATE SKIP LOCKED`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("queue: lock select: %w", err)
	}

	handle := &Handle{BatchID: batchID}
	claimedIDs := make(map[string]bool)
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		handle.IntentIDs = append(handle.IntentIDs, intent.ID)
		handle.Items = append(handle.Items, intent.Item)
		handle.Intents = append(handle.Intents, intent)
		claimedIDs[intent.ID] = true
	}
	rows.Close()

	if len(claimedIDs) != len(intents) {
		return nil, domainerrors.Reject("queue", "PostgresQueue.Lock", domainerrors.CodeChainSequenceMismatch, nil).
			WithField("requested", len(intents)).WithField("claimed", len(claimedIDs))
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE trade_intents SET status = 'locked', locked_by_batch = $1 WHERE id = ANY($2)`,
		batchID, pq.Array(handle.IntentIDs)); err != nil {
		return nil, fmt.Errorf("queue: mark locked: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return handle, nil
}

func (q *PostgresQueue) Finalise(ctx context.Context, handle *Handle, outcome Outcome, requeueSkipped bool) error {
	tx, err := q.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("queue: begin tx: %w", err)
	}
	defer tx.Rollback()

	switch outcome {
	case OutcomeSettled:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO processed_intents (id) SELECT unnest($1::text[]) ON CONFLICT DO NOTHING`,
			pq.Array(handle.IntentIDs)); err != nil {
			return fmt.Errorf("queue: mark processed: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM trade_intents WHERE id = ANY($1)`, pq.Array(handle.IntentIDs)); err != nil {
			return fmt.Errorf("queue: remove settled intents: %w", err)
		}
	case OutcomeAborted:
		if requeueSkipped {
			if _, err := tx.ExecContext(ctx,
				`UPDATE trade_intents SET status = 'pending', locked_by_batch = NULL WHERE id = ANY($1)`,
				pq.Array(handle.IntentIDs)); err != nil {
				return fmt.Errorf("queue: requeue intents: %w", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx,
				`UPDATE trade_intents SET status = 'skipped', locked_by_batch = NULL WHERE id = ANY($1)`,
				pq.Array(handle.IntentIDs)); err != nil {
				return fmt.Errorf("queue: mark skipped: %w", err)
			}
		}
	}

	return tx.Commit()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanIntent(rows scannable) (*domain.TradeIntent, error) {
	var (
		id, sessionKey, owner, item, from, to, amount, action, signature, game, listing string
		nonce                                                                           int64
		createdAt                                                                       time.Time
	)
	if err := rows.Scan(&id, &sessionKey, &owner, &item, &from, &to, &amount, &nonce, &action, &signature, &game, &listing, &createdAt); err != nil {
		return nil, fmt.Errorf("queue: scan intent: %w", err)
	}
	amt, err := domain.ParseAmount(amount)
	if err != nil {
		return nil, fmt.Errorf("queue: parse amount for %s: %w", id, err)
	}
	return &domain.TradeIntent{
		ID:        id,
		Session:   ed25519.PublicKey(sessionKey),
		Owner:     ed25519.PublicKey(owner),
		Item:      item,
		From:      from,
		To:        to,
		Amount:    amt,
		Nonce:     nonce,
		Action:    domain.Action(action),
		Signature: []byte(signature),
		Game:      game,
		Listing:   listing,
		CreatedAt: createdAt,
	}, nil
}
