// Package memory provides an in-process implementation of storage.Store.
// Records are copied on the way in and out so callers never share state with the store.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps every collection in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	expenses    map[string]*models.Expense
	groups      map[string]*models.Group
	settlements map[string]*models.Settlement
	journal     map[string]*models.JournalLine

	// pending indexes the PENDING settlement id per key.
	pending map[models.SettlementKey]string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		expenses:    make(map[string]*models.Expense),
		groups:      make(map[string]*models.Group),
		settlements: make(map[string]*models.Settlement),
		journal:     make(map[string]*models.JournalLine),
		pending:     make(map[models.SettlementKey]string),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ==================== Expenses ====================

func (s *Store) CreateExpense(_ context.Context, e *models.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.expenses[e.ID]; exists {
		return storage.ErrAlreadyExists
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	e.Version = 1
	s.expenses[e.ID] = e.Clone()
	return nil
}

func (s *Store) GetExpense(_ context.Context, expenseID string) (*models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.expenses[expenseID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *Store) UpdateExpense(_ context.Context, e *models.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.expenses[e.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if current.Version != e.Version {
		return storage.ErrConflict
	}
	e.Version++
	e.UpdatedAt = time.Now().UTC()
	s.expenses[e.ID] = e.Clone()
	return nil
}

func (s *Store) DeleteExpense(_ context.Context, expenseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expenses[expenseID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.expenses, expenseID)
	return nil
}

func (s *Store) ListExpenses(_ context.Context, groupID string) ([]*models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Expense, 0)
	for _, e := range s.expenses {
		if groupID == "" || e.GroupID == groupID {
			result = append(result, e.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *models.Expense) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return result, nil
}

// ==================== Groups ====================

func (s *Store) CreateGroup(_ context.Context, g *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[g.ID]; exists {
		return storage.ErrAlreadyExists
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	s.groups[g.ID] = cloneGroup(g)
	return nil
}

func (s *Store) GetGroup(_ context.Context, groupID string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneGroup(g), nil
}

func (s *Store) ListGroups(_ context.Context, groupIDs ...string) ([]*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Group, 0)
	for _, g := range s.groups {
		if len(groupIDs) == 0 || slices.Contains(groupIDs, g.ID) {
			result = append(result, cloneGroup(g))
		}
	}
	slices.SortFunc(result, func(a, b *models.Group) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) UpdateGroup(_ context.Context, g *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.groups[g.ID]
	if !ok {
		return storage.ErrNotFound
	}
	current.Name = g.Name
	current.Description = g.Description
	current.Category = g.Category
	return nil
}

func (s *Store) AdjustGroupTotal(_ context.Context, groupID string, delta decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return decimal.Zero, storage.ErrNotFound
	}
	g.TotalExpenses = g.TotalExpenses.Add(delta)
	return g.TotalExpenses, nil
}

func cloneGroup(g *models.Group) *models.Group {
	c := *g
	c.Members = slices.Clone(g.Members)
	return &c
}

// ==================== Settlements ====================

func (s *Store) CreateSettlement(_ context.Context, st *models.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.settlements[st.ID]; exists {
		return storage.ErrAlreadyExists
	}
	if st.IsPending() {
		if _, exists := s.pending[st.Key()]; exists {
			return storage.ErrAlreadyExists
		}
	}

	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	if st.Date.IsZero() {
		st.Date = now
	}
	st.UpdatedAt = now
	st.Version = 1

	s.settlements[st.ID] = st.Clone()
	if st.IsPending() {
		s.pending[st.Key()] = st.ID
	}
	return nil
}

func (s *Store) GetSettlement(_ context.Context, settlementID string) (*models.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settlements[settlementID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return st.Clone(), nil
}

func (s *Store) FindPendingSettlement(_ context.Context, key models.SettlementKey) (*models.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settlementID, ok := s.pending[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.settlements[settlementID].Clone(), nil
}

func (s *Store) UpdateSettlement(_ context.Context, st *models.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.settlements[st.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if current.Version != st.Version {
		return storage.ErrConflict
	}
	if st.IsPending() && current.Key() != st.Key() {
		if _, exists := s.pending[st.Key()]; exists {
			return storage.ErrAlreadyExists
		}
	}

	if current.IsPending() {
		delete(s.pending, current.Key())
	}
	st.Version++
	st.UpdatedAt = time.Now().UTC()
	s.settlements[st.ID] = st.Clone()
	if st.IsPending() {
		s.pending[st.Key()] = st.ID
	}
	return nil
}

func (s *Store) DeleteSettlement(_ context.Context, settlementID string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.settlements[settlementID]
	if !ok {
		return storage.ErrNotFound
	}
	if current.Version != version {
		return storage.ErrConflict
	}
	if current.IsPending() {
		delete(s.pending, current.Key())
	}
	delete(s.settlements, settlementID)
	return nil
}

func (s *Store) ListSettlements(_ context.Context, filter storage.SettlementFilter) ([]*models.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Settlement, 0)
	for _, st := range s.settlements {
		if filter.Matches(st) {
			result = append(result, st.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *models.Settlement) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return result, nil
}

// ==================== Journal ====================

func (s *Store) AppendJournalLine(_ context.Context, l *models.JournalLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.journal[l.ID]; exists {
		return storage.ErrAlreadyExists
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	c := *l
	s.journal[l.ID] = &c
	return nil
}

func (s *Store) GetJournalLine(_ context.Context, lineID string) (*models.JournalLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.journal[lineID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *l
	return &c, nil
}

func (s *Store) DeleteJournalLine(_ context.Context, lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.journal[lineID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.journal, lineID)
	return nil
}

func (s *Store) ListJournalLines(_ context.Context, filter storage.JournalFilter) ([]*models.JournalLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.JournalLine, 0)
	for _, l := range s.journal {
		if filter.Matches(l) {
			c := *l
			result = append(result, &c)
		}
	}
	slices.SortFunc(result, func(a, b *models.JournalLine) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) SettleJournalLines(_ context.Context, settlementID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, l := range s.journal {
		if l.SettlementID == settlementID && !l.Settled {
			l.Settled = true
			n++
		}
	}
	return n, nil
}
