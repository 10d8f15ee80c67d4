package credits

import (
	"context"
	"sync"
	"time"

	"metagate.io/internal/ids"
	"metagate.io/internal/kmutex"
)

// InMemory implements Ledger with per-balance linearization through a
// keyed mutex. Used in DSN-less development and as the reference
// implementation for tests.
type InMemory struct {
	locks *kmutex.KeyedMutex

	// mapMu only guards map lookups; balance contents are protected by the
	// per-key lock.
	mapMu sync.Mutex
	accts map[string]*Balance
	idem  map[string]Balance // purchase idemKey -> resulting balance
	now   func() time.Time
}

var _ Ledger = (*InMemory)(nil)

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		locks: kmutex.New(),
		accts: make(map[string]*Balance),
		idem:  make(map[string]Balance),
		now:   time.Now,
	}
}

func (s *InMemory) balance(id string, create bool) *Balance {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	b, ok := s.accts[id]
	if !ok && create {
		b = &Balance{ID: id, CreatedAt: s.now().UTC()}
		s.accts[id] = b
	}
	return b
}

func (s *InMemory) Get(ctx context.Context, balanceID string) (Balance, error) {
	var out Balance
	err := s.locks.RunExclusive(balanceID, func() error {
		b := s.balance(balanceID, false)
		if b == nil {
			out = Balance{ID: balanceID}
			return nil
		}
		out = snapshot(b)
		return nil
	})
	return out, err
}

func (s *InMemory) Purchase(ctx context.Context, balanceID string, amount int64, idemKey string) (Balance, error) {
	if amount <= 0 {
		return Balance{}, ErrInvalidAmount
	}
	var out Balance
	err := s.locks.RunExclusive(balanceID, func() error {
		if idemKey != "" {
			s.mapMu.Lock()
			prev, ok := s.idem[idemKey]
			s.mapMu.Unlock()
			if ok {
				out = prev
				return nil
			}
		}
		b := s.balance(balanceID, true)
		b.Credits += amount
		appendEntry(b, Entry{
			ID:             ids.New(),
			Kind:           KindPurchase,
			Amount:         amount,
			CreatedAt:      s.now().UTC(),
			IdempotencyKey: idemKey,
		})
		out = snapshot(b)
		if idemKey != "" {
			s.mapMu.Lock()
			s.idem[idemKey] = out
			s.mapMu.Unlock()
		}
		return nil
	})
	return out, err
}

func (s *InMemory) Reserve(ctx context.Context, balanceID string, amount int64) (Reservation, error) {
	if amount <= 0 {
		return Reservation{}, ErrInvalidAmount
	}
	var res Reservation
	err := s.locks.RunExclusive(balanceID, func() error {
		b := s.balance(balanceID, false)
		if b == nil || b.Available() < amount {
			return ErrInsufficientCredits
		}
		b.Reserved += amount
		appendEntry(b, Entry{
			ID:        ids.New(),
			Kind:      KindReserve,
			Amount:    amount,
			CreatedAt: s.now().UTC(),
		})
		res = Reservation{ID: ids.New(), BalanceID: balanceID, Amount: amount}
		return nil
	})
	return res, err
}

func (s *InMemory) Commit(ctx context.Context, res Reservation) (Balance, error) {
	var out Balance
	err := s.locks.RunExclusive(res.BalanceID, func() error {
		b := s.balance(res.BalanceID, false)
		if b == nil {
			return ErrNotFound
		}
		b.Credits -= res.Amount
		b.Reserved -= res.Amount
		appendEntry(b, Entry{
			ID:        ids.New(),
			Kind:      KindCommit,
			Amount:    res.Amount,
			CreatedAt: s.now().UTC(),
		})
		out = snapshot(b)
		return nil
	})
	return out, err
}

func (s *InMemory) Release(ctx context.Context, res Reservation) (Balance, error) {
	var out Balance
	err := s.locks.RunExclusive(res.BalanceID, func() error {
		b := s.balance(res.BalanceID, false)
		if b == nil {
			return ErrNotFound
		}
		b.Reserved -= res.Amount
		if b.Reserved < 0 {
			b.Reserved = 0
		}
		appendEntry(b, Entry{
			ID:        ids.New(),
			Kind:      KindRelease,
			Amount:    res.Amount,
			CreatedAt: s.now().UTC(),
		})
		out = snapshot(b)
		return nil
	})
	return out, err
}

func appendEntry(b *Balance, e Entry) {
	b.History = append(b.History, e)
	if len(b.History) > historyLimit {
		b.History = b.History[len(b.History)-historyLimit:]
	}
}

func snapshot(b *Balance) Balance {
	out := *b
	out.History = append([]Entry(nil), b.History...)
	return out
}
