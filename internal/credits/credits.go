// Package credits keeps per-user credit balances. Every mutation of one
// balance is linearized; different balances interleave freely.
package credits

import (
	"context"
	"errors"
	"time"
)

// Entry kinds recorded in balance history.
const (
	KindPurchase = "purchase"
	KindReserve  = "reserve"
	KindCommit   = "commit"
	KindRelease  = "release"
)

// historyLimit bounds the per-balance history kept in memory and returned
// by Get.
const historyLimit = 100

// Entry is one movement on a balance.
type Entry struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Amount         int64     `json:"amount"`
	CreatedAt      time.Time `json:"created_at"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

// Balance is a credit account. Available credits are Credits - Reserved.
type Balance struct {
	ID        string    `json:"id"`
	Credits   int64     `json:"credits"`
	Reserved  int64     `json:"reserved"`
	History   []Entry   `json:"history,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Available reports credits not held by an open reservation.
func (b Balance) Available() int64 { return b.Credits - b.Reserved }

// Reservation is a hold on credits pending the outcome of an extraction.
type Reservation struct {
	ID        string
	BalanceID string
	Amount    int64
}

var (
	ErrNotFound            = errors.New("credits: balance not found")
	ErrInvalidAmount       = errors.New("credits: amount must be > 0")
	ErrInsufficientCredits = errors.New("credits: insufficient credits")
)

// Ledger defines credit balance operations. A paid extraction reserves
// first, then commits on engine success or releases on engine failure, so
// a failed extraction never costs a credit.
type Ledger interface {
	Get(ctx context.Context, balanceID string) (Balance, error)
	Purchase(ctx context.Context, balanceID string, amount int64, idemKey string) (Balance, error)
	Reserve(ctx context.Context, balanceID string, amount int64) (Reservation, error)
	Commit(ctx context.Context, res Reservation) (Balance, error)
	Release(ctx context.Context, res Reservation) (Balance, error)
}
