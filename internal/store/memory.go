package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/procurehub/approvald/internal/models"
)

// MemStore is an in-memory Store for tests and local development. The single
// mutex stands in for row-level locking: decisions on any order serialize,
// which is stricter than Postgres but preserves the same observable ordering.
type MemStore struct {
	mu         sync.Mutex
	orders     map[int64]models.Order
	tokens     map[string]models.ActionToken
	bulkTokens map[string]models.BulkActionToken
	approvers  map[int64]models.Approver
}

func NewMemStore() *MemStore {
	return &MemStore{
		orders:     make(map[int64]models.Order),
		tokens:     make(map[string]models.ActionToken),
		bulkTokens: make(map[string]models.BulkActionToken),
		approvers:  make(map[int64]models.Approver),
	}
}

// PutOrder seeds or replaces an order.
func (m *MemStore) PutOrder(o models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

// PutApprover seeds or replaces a directory entry.
func (m *MemStore) PutApprover(a models.Approver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvers[a.ID] = a
}

func (m *MemStore) GetOrder(ctx context.Context, id int64) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return o, nil
}

func (m *MemStore) ApplyDecision(ctx context.Context, orderID int64, consumeToken string, decide DecideFunc) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	next, err := decide(o)
	if err != nil {
		return models.Order{}, err
	}
	if consumeToken != "" {
		t, ok := m.tokens[consumeToken]
		if !ok || t.IsUsed {
			return models.Order{}, ErrTokenSpent
		}
		now := time.Now().UTC()
		t.IsUsed = true
		t.UsedAt = &now
		m.tokens[consumeToken] = t
	}
	next.UpdatedAt = time.Now().UTC()
	m.orders[orderID] = next
	return next, nil
}

func (m *MemStore) CreateActionToken(ctx context.Context, t models.ActionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.tokens[t.Token] = t
	return nil
}

func (m *MemStore) GetActionToken(ctx context.Context, token string) (models.ActionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return models.ActionToken{}, ErrNotFound
	}
	return t, nil
}

func (m *MemStore) CreateBulkActionToken(ctx context.Context, t models.BulkActionToken) error {
	if err := t.OrderIDs.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.bulkTokens[t.Token] = t
	return nil
}

func (m *MemStore) GetBulkActionToken(ctx context.Context, token string) (models.BulkActionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.bulkTokens[token]
	if !ok {
		return models.BulkActionToken{}, ErrNotFound
	}
	return t, nil
}

func (m *MemStore) MarkBulkTokenUsed(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.bulkTokens[token]
	if !ok || t.IsUsed {
		return ErrTokenSpent
	}
	now := time.Now().UTC()
	t.IsUsed = true
	t.UsedAt = &now
	m.bulkTokens[token] = t
	return nil
}

func (m *MemStore) GetApprover(ctx context.Context, id int64) (models.Approver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvers[id]
	if !ok {
		return models.Approver{}, ErrNotFound
	}
	return a, nil
}

func (m *MemStore) FindApproversByTier(ctx context.Context, tier int, plant *string) ([]models.Approver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Approver
	for _, a := range m.approvers {
		if a.AuthorizationLevel != tier {
			continue
		}
		switch {
		case a.Plant == nil:
			out = append(out, a)
		case plant != nil && *a.Plant == *plant:
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		iLocal := out[i].Plant != nil
		jLocal := out[j].Plant != nil
		if iLocal != jLocal {
			return iLocal
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemStore) Ping(ctx context.Context) error { return nil }
