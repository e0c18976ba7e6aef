package engine

type FilterKind string

const (
	FilterAll  FilterKind = "all"
	FilterMine FilterKind = "mine"
	FilterBig  FilterKind = "big"
)

// HistoryFilter decides which ended rounds are prepended to the visible history.
type HistoryFilter struct {
	Kind      FilterKind `json:"kind" validate:"omitempty,oneof=all mine big"`
	UserID    string     `json:"userId,omitempty" validate:"required_if=Kind mine"`
	MinAmount int64      `json:"minAmount,omitempty" validate:"gte=0"`
}

func (f HistoryFilter) Match(r Round) bool {
	switch f.Kind {
	case FilterMine:
		return betIndexByUser(r.Bets, f.UserID) >= 0
	case FilterBig:
		return r.TotalAmount >= f.MinAmount
	default:
		return true
	}
}

func betIndexByUser(bets []Bet, user string) int {
	for i, b := range bets {
		if b.UserID == user {
			return i
		}
	}
	return -1
}
