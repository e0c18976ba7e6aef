package engine

import (
	"cmp"
	"slices"
	"strings"
)

// CompareBets orders bets for display: largest first, then oldest, then by id.
func CompareBets(a, b Bet) int {
	if c := cmp.Compare(b.Amount, a.Amount); c != 0 {
		return c
	}
	if c := a.PlacedAt.Compare(b.PlacedAt); c != 0 {
		return c
	}
	return strings.Compare(a.BetID, b.BetID)
}

func SortedBets(r Round) []Bet {
	out := append([]Bet{}, r.Bets...)
	slices.SortStableFunc(out, CompareBets)
	return out
}

// WithSortedBets returns a copy of s whose active rounds list bets in display order.
func (s State) WithSortedBets() State {
	out := s
	out.Active = make([]Round, len(s.Active))
	for i, r := range s.Active {
		r.Bets = SortedBets(r)
		out.Active[i] = r
	}
	return out
}
