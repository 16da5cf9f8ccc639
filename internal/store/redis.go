package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vtrade/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the read-heavy account/position/history queries. Writes go to
// the primary store and invalidate the cache; reads check Redis first then
// fall back to the primary. The transactional WithAccount path is never
// served from cache — the primary store is the sole authority for atomicity.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (primary first, then invalidate) ---

func (s *CachedStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	return s.primary.CreateAccount(ctx, acct)
}

func (s *CachedStore) WithAccount(ctx context.Context, accountID string, fn func(txn *AccountTxn) error) error {
	if err := s.primary.WithAccount(ctx, accountID, fn); err != nil {
		return err
	}
	// A committed ledger mutation may have touched balance, positions,
	// trades, and order statuses; drop all views for this account.
	s.rdb.Del(ctx,
		accountKey(accountID),
		positionsKey(accountID),
		tradesKey(accountID),
	)
	return nil
}

func (s *CachedStore) CreateOrder(ctx context.Context, order *model.ReservationOrder) error {
	return s.primary.CreateOrder(ctx, order)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(id), data, s.ttl)
	}
	return a, nil
}

func (s *CachedStore) GetPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(accountID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(accountID), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) GetTrades(ctx context.Context, accountID string) ([]model.TradeRecord, error) {
	data, err := s.rdb.Get(ctx, tradesKey(accountID)).Bytes()
	if err == nil {
		var trades []model.TradeRecord
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	trades, err := s.primary.GetTrades(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, tradesKey(accountID), data, s.ttl)
	}
	return trades, nil
}

// --- Passthrough (not cached) ---

// GetAccountByUsername backs login; credentials always read the primary.
func (s *CachedStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.primary.GetAccountByUsername(ctx, username)
}

// GetOrdersByAccount is not cached: order status flips asynchronously under
// the matcher, and a stale "pending" invites doomed cancel attempts.
func (s *CachedStore) GetOrdersByAccount(ctx context.Context, accountID string) ([]model.ReservationOrder, error) {
	return s.primary.GetOrdersByAccount(ctx, accountID)
}

func (s *CachedStore) ListPendingOrders(ctx context.Context) ([]model.ReservationOrder, error) {
	return s.primary.ListPendingOrders(ctx)
}

// --- Cache keys ---

func accountKey(id string) string   { return fmt.Sprintf("account:%s", id) }
func positionsKey(id string) string { return fmt.Sprintf("positions:%s", id) }
func tradesKey(id string) string    { return fmt.Sprintf("trades:%s", id) }
