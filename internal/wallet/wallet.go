package wallet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/DoyleJ11/round-sync/internal/engine"
	"github.com/google/uuid"
)

var ErrInsufficientFunds = errors.New("insufficient funds")
var ErrInvalidAmount = errors.New("invalid amount")
var ErrUnknownHold = errors.New("unknown hold")

type Balance struct {
	Chips   int64 `json:"chips"`
	Coupons int64 `json:"coupons"`
}

func (b Balance) Of(t engine.BalanceType) int64 {
	if t == engine.BalanceCoupon {
		return b.Coupons
	}
	return b.Chips
}

func (b *Balance) add(t engine.BalanceType, delta int64) {
	if t == engine.BalanceCoupon {
		b.Coupons += delta
		return
	}
	b.Chips += delta
}

type hold struct {
	UserID string
	Type   engine.BalanceType
	Amount int64
}

// Wallet tracks balances as the client sees them: bets are taken out immediately
// and the server later confirms, rejects or overwrites.
type Wallet struct {
	mu       sync.Mutex
	balances map[string]Balance
	holds    map[string]hold
}

func New() *Wallet {
	return &Wallet{
		balances: make(map[string]Balance),
		holds:    make(map[string]hold),
	}
}

func (w *Wallet) Get(userID string) Balance {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID]
}

// Set applies the authoritative server balance. Outstanding holds for the user are dropped
// since the server figure already accounts for them.
func (w *Wallet) Set(userID string, b Balance) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.balances[userID] = b
	for id, h := range w.holds {
		if h.UserID == userID {
			delete(w.holds, id)
		}
	}
}

func (w *Wallet) Reserve(userID string, t engine.BalanceType, amount int64) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	b := w.balances[userID]
	if b.Of(t) < amount {
		return "", fmt.Errorf("reserve %s %s for %s: %w", FormatAmount(amount), t, userID, ErrInsufficientFunds)
	}
	b.add(t, -amount)
	w.balances[userID] = b

	id := uuid.NewString()
	w.holds[id] = hold{UserID: userID, Type: t, Amount: amount}
	return id, nil
}

// Confirm keeps the optimistic decrement of a hold.
func (w *Wallet) Confirm(holdID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.holds[holdID]; !ok {
		return ErrUnknownHold
	}
	delete(w.holds, holdID)
	return nil
}

// Release gives a held amount back.
func (w *Wallet) Release(holdID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	h, ok := w.holds[holdID]
	if !ok {
		return ErrUnknownHold
	}
	delete(w.holds, holdID)

	b := w.balances[h.UserID]
	b.add(h.Type, h.Amount)
	w.balances[h.UserID] = b
	return nil
}

func (w *Wallet) Holds(userID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for _, h := range w.holds {
		if h.UserID == userID {
			n++
		}
	}
	return n
}
