package credits

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"metagate.io/internal/ids"
)

// PG is the durable ledger.
//
// Expected schema (migrations are managed outside this service):
//
//	create table credit_balances (
//	    balance_id text primary key,
//	    credits    bigint not null default 0 check (credits >= 0),
//	    reserved   bigint not null default 0 check (reserved >= 0),
//	    created_at timestamptz not null default now()
//	);
//	create table credit_history (
//	    id              text primary key,
//	    balance_id      text not null references credit_balances(balance_id),
//	    kind            text not null,
//	    amount          bigint not null,
//	    idempotency_key text unique,
//	    created_at      timestamptz not null default now()
//	);
type PG struct {
	db *sql.DB
}

var _ Ledger = (*PG)(nil)

// NewPG wraps an open database handle.
func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

func (s *PG) Get(ctx context.Context, balanceID string) (Balance, error) {
	var b Balance
	var created time.Time
	err := s.db.QueryRowContext(ctx, `
		select credits, reserved, created_at
		from credit_balances where balance_id=$1
	`, balanceID).Scan(&b.Credits, &b.Reserved, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Balance{ID: balanceID}, nil
	}
	if err != nil {
		return Balance{}, err
	}
	b.ID = balanceID
	b.CreatedAt = created

	rows, err := s.db.QueryContext(ctx, `
		select id, kind, amount, coalesce(idempotency_key,''), created_at
		from credit_history
		where balance_id=$1
		order by created_at desc
		limit $2
	`, balanceID, historyLimit)
	if err != nil {
		return Balance{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Amount, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return Balance{}, err
		}
		b.History = append(b.History, e)
	}
	return b, rows.Err()
}

func (s *PG) Purchase(ctx context.Context, balanceID string, amount int64, idemKey string) (Balance, error) {
	if amount <= 0 {
		return Balance{}, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return Balance{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Idempotency: a replayed purchase returns the balance as-is.
	if idemKey != "" {
		var existing string
		err := tx.QueryRowContext(ctx,
			`select id from credit_history where idempotency_key=$1`, idemKey).Scan(&existing)
		if err == nil {
			if err := tx.Commit(); err != nil {
				return Balance{}, err
			}
			return s.Get(ctx, balanceID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Balance{}, err
		}
	}

	var credits, reserved int64
	if err := tx.QueryRowContext(ctx, `
		insert into credit_balances(balance_id, credits)
		values ($1, $2)
		on conflict (balance_id) do update
		set credits = credit_balances.credits + excluded.credits
		returning credits, reserved
	`, balanceID, amount).Scan(&credits, &reserved); err != nil {
		return Balance{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into credit_history(id, balance_id, kind, amount, idempotency_key)
		values ($1,$2,$3,$4,nullif($5,''))
	`, ids.New(), balanceID, KindPurchase, amount, idemKey); err != nil {
		return Balance{}, err
	}
	if err := tx.Commit(); err != nil {
		return Balance{}, err
	}
	return Balance{ID: balanceID, Credits: credits, Reserved: reserved}, nil
}

func (s *PG) Reserve(ctx context.Context, balanceID string, amount int64) (Reservation, error) {
	if amount <= 0 {
		return Reservation{}, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return Reservation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var credits, reserved int64
	err = tx.QueryRowContext(ctx, `
		select credits, reserved from credit_balances
		where balance_id=$1 for update
	`, balanceID).Scan(&credits, &reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return Reservation{}, ErrInsufficientCredits
	}
	if err != nil {
		return Reservation{}, err
	}
	if credits-reserved < amount {
		return Reservation{}, ErrInsufficientCredits
	}

	if _, err := tx.ExecContext(ctx, `
		update credit_balances set reserved = reserved + $2
		where balance_id=$1
	`, balanceID, amount); err != nil {
		return Reservation{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into credit_history(id, balance_id, kind, amount)
		values ($1,$2,$3,$4)
	`, ids.New(), balanceID, KindReserve, amount); err != nil {
		return Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Reservation{}, err
	}
	return Reservation{ID: ids.New(), BalanceID: balanceID, Amount: amount}, nil
}

func (s *PG) Commit(ctx context.Context, res Reservation) (Balance, error) {
	return s.settle(ctx, res, KindCommit)
}

func (s *PG) Release(ctx context.Context, res Reservation) (Balance, error) {
	return s.settle(ctx, res, KindRelease)
}

func (s *PG) settle(ctx context.Context, res Reservation, kind string) (Balance, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return Balance{}, err
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		update credit_balances
		set reserved = greatest(reserved - $2, 0)
		where balance_id=$1
		returning credits, reserved
	`
	if kind == KindCommit {
		query = `
		update credit_balances
		set credits = credits - $2, reserved = greatest(reserved - $2, 0)
		where balance_id=$1
		returning credits, reserved
	`
	}

	var credits, reserved int64
	err = tx.QueryRowContext(ctx, query, res.BalanceID, res.Amount).Scan(&credits, &reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return Balance{}, ErrNotFound
	}
	if err != nil {
		return Balance{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into credit_history(id, balance_id, kind, amount)
		values ($1,$2,$3,$4)
	`, ids.New(), res.BalanceID, kind, res.Amount); err != nil {
		return Balance{}, err
	}
	if err := tx.Commit(); err != nil {
		return Balance{}, err
	}
	return Balance{ID: res.BalanceID, Credits: credits, Reserved: reserved}, nil
}
