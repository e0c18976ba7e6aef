package engine

import (
	"encoding/json"
	"math"
	"slices"
)

func NewState(g Game, rules Rules) State {
	return State{
		Game:    g,
		Active:  []Round{},
		History: []Round{},
		Filter:  HistoryFilter{Kind: FilterAll},
		Rules:   rules,
	}
}

func NewEmptyState(g Game) State {
	return NewState(g, DefaultRules(g))
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// TrimHistory cuts h down to the largest multiple of window once it grows past one window.
func TrimHistory(h []Round, window int) []Round {
	if window <= 0 || len(h) <= window {
		return h
	}
	return h[:len(h)/window*window]
}

// Profit is the realized gain of a bet cashed out at m. Losing bets return -amount.
func Profit(amount int64, m float64) int64 {
	if m <= 0 {
		return -amount
	}
	// Multipliers carry two decimals. Working in hundredths keeps 1.15 from becoming 1.1499...
	return amount*int64(math.Round(m*100))/100 - amount
}

func (s State) isRetired(id string) bool {
	return slices.Contains(s.Retired, id)
}

func retire(retired []string, id string, limit int) []string {
	if limit <= 0 {
		limit = defaultRetiredCap
	}
	out := make([]string, 0, len(retired)+1)
	out = append(out, retired...)
	out = append(out, id)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func indexOf(rounds []Round, id string) int {
	return slices.IndexFunc(rounds, func(r Round) bool { return r.RoundID == id })
}

func betIndex(bets []Bet, id string) int {
	return slices.IndexFunc(bets, func(b Bet) bool { return b.BetID == id })
}

func cloneRounds(rounds []Round) []Round {
	out := make([]Round, len(rounds))
	for i, r := range rounds {
		r.Bets = append([]Bet{}, r.Bets...)
		out[i] = r
	}
	return out
}

func cloneData(d map[string]json.RawMessage) map[string]json.RawMessage {
	if d == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func upsertBets(existing, incoming []Bet) []Bet {
	out := append([]Bet{}, existing...)
	for _, b := range incoming {
		if i := betIndex(out, b.BetID); i >= 0 {
			out[i] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

func totalAmount(bets []Bet) int64 {
	var total int64
	for _, b := range bets {
		total += b.Amount
	}
	return total
}
