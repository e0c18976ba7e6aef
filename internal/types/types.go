package types

import (
	"github.com/DoyleJ11/round-sync/internal/countdown"
	"github.com/DoyleJ11/round-sync/internal/engine"
)

type ClientMessage struct {
	Type        string             `json:"type"` // "PlaceBet" | "Cashout"
	RoundID     string             `json:"round_id,omitempty"`
	BetID       string             `json:"bet_id,omitempty"`
	UserID      string             `json:"user_id,omitempty"`
	Username    string             `json:"username,omitempty"`
	Amount      int64              `json:"amount,omitempty"`
	AmountText  string             `json:"amount_text,omitempty"`
	BalanceType engine.BalanceType `json:"balance_type,omitempty"`
	Data        map[string]any     `json:"data,omitempty"`
}

type ServerMessage struct {
	Type      string        `json:"type"` // "StateSnapshot" | "Countdown" | "BetAccepted" | "CashoutRequested" | "Error"
	Room      string        `json:"room,omitempty"`
	Version   int           `json:"version,omitempty"`
	State     *engine.State `json:"state,omitempty"`
	Countdown []RoundClock  `json:"countdown,omitempty"`
	Bet       *engine.Bet   `json:"bet,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// RoundClock is the countdown of one active round.
type RoundClock struct {
	RoundID string `json:"round_id"`
	countdown.Reading
}
