// Copyright 2025 Settlenet

package session

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/settlenet/engine/pkg/domain"
	domainerrors "github.com/settlenet/engine/pkg/errors"
)

// MemoryPolicyStore is an in-process PolicyStore. It is used by tests and
// by single-process deployments that accept the durability tradeoff.
type MemoryPolicyStore struct {
	mu       sync.Mutex
	policies map[string]*domain.SessionKeyPolicy
	spent    map[string]domain.Amount
}

// NewMemoryPolicyStore constructs an empty store.
func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{
		policies: make(map[string]*domain.SessionKeyPolicy),
		spent:    make(map[string]domain.Amount),
	}
}

func policyKey(owner, session ed25519.PublicKey) string {
	return string(owner) + "|" + string(session)
}

// Register installs or replaces a policy for (owner, session).
func (m *MemoryPolicyStore) Register(policy *domain.SessionKeyPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := policyKey(policy.Owner, policy.Session)
	m.policies[key] = policy
	if _, ok := m.spent[key]; !ok {
		m.spent[key] = domain.ZeroAmount()
	}
}

// GetPolicy implements PolicyStore.
func (m *MemoryPolicyStore) GetPolicy(_ context.Context, owner, session ed25519.PublicKey) (*domain.SessionKeyPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[policyKey(owner, session)]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	return p, nil
}

// IncrementSpent implements PolicyStore with a mutex-guarded
// check-then-increment, the in-process equivalent of the store's CAS.
func (m *MemoryPolicyStore) IncrementSpent(_ context.Context, owner, session ed25519.PublicKey, amount, cap domain.Amount) (domain.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := policyKey(owner, session)
	current := m.spent[key]
	next, err := current.Add(amount)
	if err != nil {
		return domain.Amount{}, err
	}
	if next.Cmp(cap) > 0 {
		return domain.Amount{}, domainerrors.ErrConflict
	}
	m.spent[key] = next
	return next, nil
}
