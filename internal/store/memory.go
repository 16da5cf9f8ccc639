package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/vtrade/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Per-account mutexes give WithAccount the same mutual
// exclusion the PostgreSQL row lock provides.
type MemoryStore struct {
	mu         sync.RWMutex
	accounts   map[string]*model.Account
	byUsername map[string]string // username → account ID
	positions  map[string]map[string]*model.Position // account ID → ticker → position
	orders     map[string]*model.ReservationOrder
	trades     []model.TradeRecord

	accountLocks sync.Map // account ID → *sync.Mutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[string]*model.Account),
		byUsername: make(map[string]string),
		positions:  make(map[string]map[string]*model.Position),
		orders:     make(map[string]*model.ReservationOrder),
	}
}

func (s *MemoryStore) accountLock(id string) *sync.Mutex {
	l, _ := s.accountLocks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (s *MemoryStore) CreateAccount(_ context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[acct.Username]; ok {
		return fmt.Errorf("username %s: %w", acct.Username, model.ErrAlreadyExists)
	}
	cp := *acct
	s.accounts[acct.ID] = &cp
	s.byUsername[acct.Username] = acct.ID
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetAccountByUsername(_ context.Context, username string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, fmt.Errorf("username %s: %w", username, model.ErrNotFound)
	}
	cp := *s.accounts[id]
	return &cp, nil
}

// WithAccount serializes all ledger mutations for one account. The callback
// works on copies; staged mutations are swapped in only when it succeeds.
func (s *MemoryStore) WithAccount(ctx context.Context, accountID string, fn func(txn *AccountTxn) error) error {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStoreFailure, err)
	}

	s.mu.RLock()
	acct, ok := s.accounts[accountID]
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("account %s: %w", accountID, model.ErrNotFound)
	}
	acctCopy := *acct

	var positions []model.Position
	for _, p := range s.positions[accountID] {
		positions = append(positions, *p)
	}
	var orders []model.ReservationOrder
	for _, o := range s.orders {
		if o.AccountID == accountID {
			orders = append(orders, *o)
		}
	}
	s.mu.RUnlock()

	txn := NewAccountTxn(&acctCopy, positions, orders)
	if err := fn(txn); err != nil {
		return err
	}

	s.commit(accountID, txn)
	return nil
}

func (s *MemoryStore) commit(accountID string, txn *AccountTxn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := *txn.Account
	s.accounts[accountID] = &acct

	book := s.positions[accountID]
	if book == nil {
		book = make(map[string]*model.Position)
		s.positions[accountID] = book
	}
	for ticker, p := range txn.positions {
		cp := *p
		book[ticker] = &cp
	}
	for ticker := range txn.removedPositions {
		delete(book, ticker)
	}

	s.trades = append(s.trades, txn.trades...)

	for id, status := range txn.statusChanges {
		if o, ok := s.orders[id]; ok && o.IsPending() {
			o.Status = status
		}
	}
}

func (s *MemoryStore) GetPositions(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions[accountID] {
		result = append(result, *p)
	}
	return result, nil
}

func (s *MemoryStore) GetTrades(_ context.Context, accountID string) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeRecord
	for _, t := range s.trades {
		if t.AccountID == accountID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, order *model.ReservationOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("order %s: %w", order.ID, model.ErrAlreadyExists)
	}
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrdersByAccount(_ context.Context, accountID string) ([]model.ReservationOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ReservationOrder
	for _, o := range s.orders {
		if o.AccountID == accountID {
			result = append(result, *o)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListPendingOrders(_ context.Context) ([]model.ReservationOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ReservationOrder
	for _, o := range s.orders {
		if o.IsPending() {
			result = append(result, *o)
		}
	}
	return result, nil
}
