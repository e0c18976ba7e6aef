package engine

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrUnknownRound = errors.New("unknown round")
var ErrRoundRetired = errors.New("round already closed")
var ErrUnknownBet = errors.New("unknown bet")
var ErrAlreadyCashedOut = errors.New("bet already cashed out")
var ErrMissingRoundID = errors.New("missing round id")
var ErrUnsupportedAction = errors.New("unsupported action")

type Game string

const (
	GameCoinflip   Game = "coinflip"
	GameCrash      Game = "crash"
	GameJackpot    Game = "jackpot"
	GamePlinko     Game = "plinko"
	GameDreamTower Game = "dreamtower"
)

type Status string

const (
	StatusBetting   Status = "betting"
	StatusPlaying   Status = "playing"
	StatusResolved  Status = "resolved"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

type BalanceType string

const (
	BalanceChip   BalanceType = "chip"
	BalanceCoupon BalanceType = "coupon"
)

type Bet struct {
	BetID             string      `json:"betId"`
	UserID            string      `json:"userId"`
	Username          string      `json:"username,omitempty"`
	Amount            int64       `json:"amount"`
	BalanceType       BalanceType `json:"balanceType"`
	CashoutMultiplier float64     `json:"cashoutMultiplier,omitempty"`
	Profit            int64       `json:"profit,omitempty"`
	Pending           bool        `json:"pending,omitempty"`
	PlacedAt          time.Time   `json:"placedAt"`
}

type Round struct {
	RoundID     string    `json:"roundId"`
	Game        Game      `json:"game"`
	Status      Status    `json:"status"`
	Bets        []Bet     `json:"bets"`
	TotalAmount int64     `json:"totalAmount"`
	Multiplier  float64   `json:"multiplier,omitempty"`
	Winner      string    `json:"winner,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	// PhaseStartedAt is when the current status began. Countdowns run from it.
	PhaseStartedAt time.Time                  `json:"phaseStartedAt"`
	EndedAt        time.Time                  `json:"endedAt"`
	Data           map[string]json.RawMessage `json:"data,omitempty"`
}

// RoundPatch is a server delta for one round. Nil fields were absent from the payload.
type RoundPatch struct {
	RoundID        string                     `json:"roundId"`
	Status         *Status                    `json:"status,omitempty"`
	Bets           []Bet                      `json:"bets,omitempty"`
	Multiplier     *float64                   `json:"multiplier,omitempty"`
	Winner         *string                    `json:"winner,omitempty"`
	StartedAt      *time.Time                 `json:"startedAt,omitempty"`
	PhaseStartedAt *time.Time                 `json:"phaseStartedAt,omitempty"`
	EndedAt        *time.Time                 `json:"endedAt,omitempty"`
	Data           map[string]json.RawMessage `json:"data,omitempty"`
}

func (p RoundPatch) empty() bool {
	return p.Status == nil && p.Bets == nil && p.Multiplier == nil && p.Winner == nil &&
		p.StartedAt == nil && p.PhaseStartedAt == nil && p.EndedAt == nil && p.Data == nil
}

type State struct {
	Game    Game          `json:"game"`
	Active  []Round       `json:"active"`
	History []Round       `json:"history"`
	Filter  HistoryFilter `json:"filter"`
	Pending bool          `json:"pending"`
	// HistoryCursor counts the ended rounds already covered by History, matching or not.
	// It is the store offset of the next "Show More" page.
	HistoryCursor int      `json:"historyCursor"`
	Rules         Rules    `json:"-"`
	Retired       []string `json:"-"`
}

type ActionType string

const (
	ActSetRound    ActionType = "SetRound"
	ActEndRound    ActionType = "EndRound"
	ActCancelRound ActionType = "CancelRound"
	ActSetPending  ActionType = "SetPending"
	ActPlaceBet    ActionType = "PlaceBet"
	ActRemoveBet   ActionType = "RemoveBet"
	ActCashout     ActionType = "Cashout"
	ActCashoutAck  ActionType = "CashoutAck"
	// ActCashoutFailed undoes an optimistic Cashout that never reached the server.
	ActCashoutFailed ActionType = "CashoutFailed"

	ActSetFilter   ActionType = "SetFilter"
	ActLoadHistory ActionType = "LoadHistory"
	ActReset       ActionType = "Reset"
)

/*
	SetRound      -> RoundAdded | RoundUpdated (+ RoundSuperseded when MaxActive is exceeded)
	EndRound      -> RoundEnded (+ RoundHistorized when the filter matches, HistoryTrimmed)
	CancelRound   -> RoundCancelled
	PlaceBet      -> BetPlaced
	RemoveBet     -> BetRemoved
	Cashout       -> CashoutRequested
	CashoutAck    -> CashoutAcknowledged
	CashoutFailed -> CashoutFailed
	SetFilter     -> FilterChanged
	LoadHistory   -> HistoryLoaded (+ HistoryTrimmed)
	Reset         -> StateReset
*/

type Action struct {
	Type       ActionType
	Round      RoundPatch
	RoundID    string
	Bet        Bet
	BetID      string
	Multiplier float64
	Pending    bool
	Filter     HistoryFilter
	History    []Round
	At         time.Time
}

type EventType string

const (
	EvtRoundAdded          EventType = "RoundAdded"
	EvtRoundUpdated        EventType = "RoundUpdated"
	EvtRoundSuperseded     EventType = "RoundSuperseded"
	EvtRoundEnded          EventType = "RoundEnded"
	EvtRoundHistorized     EventType = "RoundHistorized"
	EvtRoundCancelled      EventType = "RoundCancelled"
	EvtHistoryTrimmed      EventType = "HistoryTrimmed"
	EvtHistoryLoaded       EventType = "HistoryLoaded"
	EvtPendingChanged      EventType = "PendingChanged"
	EvtBetPlaced           EventType = "BetPlaced"
	EvtBetRemoved          EventType = "BetRemoved"
	EvtCashoutRequested    EventType = "CashoutRequested"
	EvtCashoutAcknowledged EventType = "CashoutAcknowledged"
	EvtCashoutFailed       EventType = "CashoutFailed"
	EvtFilterChanged       EventType = "FilterChanged"
	EvtStateReset          EventType = "StateReset"
)

type Event struct {
	Type    EventType
	RoundID string
	BetID   string
	// Round is set on RoundEnded so observers can persist the final state.
	Round *Round
}

// Apply returns the events and the next state for a. s is never modified.
func Apply(s State, a Action) ([]Event, State, error) {
	switch a.Type {
	case ActSetRound:
		return setRound(s, a)

	case ActEndRound:
		return endRound(s, a)

	case ActCancelRound:
		id := a.RoundID
		if id == "" {
			id = a.Round.RoundID
		}
		return cancelRound(s, id)

	case ActSetPending:
		if s.Pending == a.Pending {
			return nil, s, nil
		}
		newState := s
		newState.Pending = a.Pending
		return []Event{{Type: EvtPendingChanged}}, newState, nil

	case ActPlaceBet:
		return placeBet(s, a)

	case ActRemoveBet:
		return removeBet(s, a)

	case ActCashout:
		return cashout(s, a)

	case ActCashoutAck:
		return cashoutAck(s, a)

	case ActCashoutFailed:
		return cashoutFailed(s, a)

	case ActSetFilter:
		newState := s
		newState.Filter = a.Filter
		newState.History = []Round{}
		newState.HistoryCursor = 0
		return []Event{{Type: EvtFilterChanged}}, newState, nil

	case ActLoadHistory:
		return loadHistory(s, a)

	case ActReset:
		newState := NewState(s.Game, s.Rules)
		newState.Filter = s.Filter
		newState.Retired = s.Retired
		return []Event{{Type: EvtStateReset}}, newState, nil

	default:
		return nil, s, ErrUnsupportedAction
	}
}

func setRound(s State, a Action) ([]Event, State, error) {
	p := a.Round
	if p.RoundID == "" {
		return nil, s, ErrMissingRoundID
	}
	if s.isRetired(p.RoundID) {
		return nil, s, ErrRoundRetired
	}

	if p.Status != nil && p.Status.Terminal() {
		if *p.Status == StatusCancelled {
			return cancelRound(s, p.RoundID)
		}
		return endRound(s, Action{Type: ActEndRound, RoundID: p.RoundID, Round: p, At: a.At})
	}

	newState := s
	newState.Active = cloneRounds(s.Active)

	if i := indexOf(newState.Active, p.RoundID); i >= 0 {
		newState.Active[i] = applyPatch(newState.Active[i], p, s.Rules.Merge, a.At)
		return []Event{{Type: EvtRoundUpdated, RoundID: p.RoundID}}, newState, nil
	}

	events := []Event{}
	r := applyPatch(Round{RoundID: p.RoundID, Game: s.Game, Status: StatusBetting}, p, s.Rules.Merge, a.At)
	if s.Rules.MaxActive > 0 {
		for len(newState.Active) >= s.Rules.MaxActive {
			old := newState.Active[0]
			newState.Active = newState.Active[1:]
			newState.Retired = retire(newState.Retired, old.RoundID, s.Rules.RetiredCap)
			events = append(events, Event{Type: EvtRoundSuperseded, RoundID: old.RoundID})
		}
	}
	newState.Active = append(newState.Active, r)
	events = append(events, Event{Type: EvtRoundAdded, RoundID: p.RoundID})
	return events, newState, nil
}

func endRound(s State, a Action) ([]Event, State, error) {
	id := a.RoundID
	if id == "" {
		id = a.Round.RoundID
	}
	if id == "" {
		return nil, s, ErrMissingRoundID
	}
	if s.isRetired(id) {
		return nil, s, nil
	}

	newState := s
	newState.Active = cloneRounds(s.Active)

	var r Round
	wasPlaying := false
	if i := indexOf(newState.Active, id); i >= 0 {
		r = newState.Active[i]
		wasPlaying = r.Status == StatusPlaying
		newState.Active = append(newState.Active[:i], newState.Active[i+1:]...)
	} else {
		// Joined mid-round: only the final payload is known.
		if a.Round.empty() {
			return nil, s, nil
		}
		r = Round{RoundID: id, Game: s.Game}
	}

	if !a.Round.empty() {
		r = applyPatch(r, a.Round, s.Rules.Merge, a.At)
	}
	if !r.Status.Terminal() {
		r.Status = StatusResolved
	}
	if r.EndedAt.IsZero() && wasPlaying && r.Game == GameCrash && r.Multiplier > 0 && !r.PhaseStartedAt.IsZero() {
		// The curve is deterministic, so the crash point gives the crash time.
		r.EndedAt = r.PhaseStartedAt.Add(CrashElapsed(r.Multiplier))
	}
	if r.EndedAt.IsZero() {
		r.EndedAt = a.At
	}

	ended := r
	events := []Event{{Type: EvtRoundEnded, RoundID: id, Round: &ended}}
	newState.Retired = retire(s.Retired, id, s.Rules.RetiredCap)
	newState.HistoryCursor = s.HistoryCursor + 1

	if s.Filter.Match(r) {
		history := make([]Round, 0, len(s.History)+1)
		history = append(history, r)
		history = append(history, s.History...)
		events = append(events, Event{Type: EvtRoundHistorized, RoundID: id})

		trimmed := TrimHistory(history, s.Rules.HistoryWindow)
		if len(trimmed) < len(history) {
			events = append(events, Event{Type: EvtHistoryTrimmed})
		}
		newState.History = trimmed
	}

	return events, newState, nil
}

func cancelRound(s State, id string) ([]Event, State, error) {
	i := indexOf(s.Active, id)
	if i < 0 {
		return nil, s, nil
	}

	newState := s
	newState.Active = cloneRounds(s.Active)
	newState.Active = append(newState.Active[:i], newState.Active[i+1:]...)
	newState.Retired = retire(s.Retired, id, s.Rules.RetiredCap)
	return []Event{{Type: EvtRoundCancelled, RoundID: id}}, newState, nil
}

func placeBet(s State, a Action) ([]Event, State, error) {
	i := indexOf(s.Active, a.RoundID)
	if i < 0 {
		return nil, s, ErrUnknownRound
	}

	newState := s
	newState.Active = cloneRounds(s.Active)
	r := newState.Active[i]
	r.Bets = upsertBets(r.Bets, []Bet{a.Bet})
	r.TotalAmount = totalAmount(r.Bets)
	newState.Active[i] = r

	return []Event{{Type: EvtBetPlaced, RoundID: a.RoundID, BetID: a.Bet.BetID}}, newState, nil
}

// removeBet drops a bet the server refused. Unknown rounds or bets are a no-op.
func removeBet(s State, a Action) ([]Event, State, error) {
	i := indexOf(s.Active, a.RoundID)
	if i < 0 {
		return nil, s, nil
	}
	j := betIndex(s.Active[i].Bets, a.BetID)
	if j < 0 {
		return nil, s, nil
	}

	newState := s
	newState.Active = cloneRounds(s.Active)
	r := newState.Active[i]
	r.Bets = append(r.Bets[:j], r.Bets[j+1:]...)
	r.TotalAmount = totalAmount(r.Bets)
	newState.Active[i] = r

	return []Event{{Type: EvtBetRemoved, RoundID: a.RoundID, BetID: a.BetID}}, newState, nil
}

func cashout(s State, a Action) ([]Event, State, error) {
	i := indexOf(s.Active, a.RoundID)
	if i < 0 {
		return nil, s, ErrUnknownRound
	}
	j := betIndex(s.Active[i].Bets, a.BetID)
	if j < 0 {
		return nil, s, ErrUnknownBet
	}
	if s.Active[i].Bets[j].CashoutMultiplier > 0 {
		return nil, s, ErrAlreadyCashedOut
	}

	newState := s
	newState.Active = cloneRounds(s.Active)
	newState.Active[i].Bets[j].Pending = true

	return []Event{{Type: EvtCashoutRequested, RoundID: a.RoundID, BetID: a.BetID}}, newState, nil
}

func cashoutAck(s State, a Action) ([]Event, State, error) {
	i := indexOf(s.Active, a.RoundID)
	if i < 0 {
		return nil, s, ErrUnknownRound
	}
	j := betIndex(s.Active[i].Bets, a.BetID)
	if j < 0 {
		return nil, s, ErrUnknownBet
	}

	newState := s
	newState.Active = cloneRounds(s.Active)
	bet := &newState.Active[i].Bets[j]
	bet.CashoutMultiplier = a.Multiplier
	bet.Profit = Profit(bet.Amount, a.Multiplier)
	bet.Pending = false

	return []Event{{Type: EvtCashoutAcknowledged, RoundID: a.RoundID, BetID: a.BetID}}, newState, nil
}

// cashoutFailed clears the pending flag set by Cashout. Bets that are not waiting on a
// cash-out are left alone.
func cashoutFailed(s State, a Action) ([]Event, State, error) {
	i := indexOf(s.Active, a.RoundID)
	if i < 0 {
		return nil, s, nil
	}
	j := betIndex(s.Active[i].Bets, a.BetID)
	if j < 0 {
		return nil, s, nil
	}
	if b := s.Active[i].Bets[j]; !b.Pending || b.CashoutMultiplier > 0 {
		return nil, s, nil
	}

	newState := s
	newState.Active = cloneRounds(s.Active)
	newState.Active[i].Bets[j].Pending = false

	return []Event{{Type: EvtCashoutFailed, RoundID: a.RoundID, BetID: a.BetID}}, newState, nil
}

// loadHistory appends a fetched page. a.History is the raw page: rounds that do not match
// the filter are skipped but still advance HistoryCursor.
func loadHistory(s State, a Action) ([]Event, State, error) {
	newState := s
	newState.HistoryCursor = s.HistoryCursor + len(a.History)

	history := make([]Round, 0, len(s.History)+len(a.History))
	history = append(history, s.History...)
	for _, r := range a.History {
		if !s.Filter.Match(r) || indexOf(history, r.RoundID) >= 0 {
			continue
		}
		history = append(history, r)
	}

	events := []Event{{Type: EvtHistoryLoaded}}
	trimmed := TrimHistory(history, s.Rules.HistoryWindow)
	if len(trimmed) < len(history) {
		events = append(events, Event{Type: EvtHistoryTrimmed})
	}
	newState.History = trimmed
	return events, newState, nil
}

// applyPatch merges p into r. at stamps PhaseStartedAt when the status changes and the
// server did not send one.
func applyPatch(r Round, p RoundPatch, policy MergePolicy, at time.Time) Round {
	prev := r.Status
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Multiplier != nil {
		r.Multiplier = *p.Multiplier
	}
	if p.Winner != nil {
		r.Winner = *p.Winner
	}
	if p.StartedAt != nil {
		r.StartedAt = *p.StartedAt
	}
	if p.EndedAt != nil {
		r.EndedAt = *p.EndedAt
	}

	switch {
	case p.PhaseStartedAt != nil:
		r.PhaseStartedAt = *p.PhaseStartedAt
	case r.Status != prev:
		r.PhaseStartedAt = at
	case r.PhaseStartedAt.IsZero() && !r.StartedAt.IsZero():
		r.PhaseStartedAt = r.StartedAt
	case r.PhaseStartedAt.IsZero():
		r.PhaseStartedAt = at
	}

	switch policy {
	case ReplaceKeys:
		if p.Bets != nil {
			r.Bets = append([]Bet{}, p.Bets...)
		}
		if p.Data != nil {
			r.Data = cloneData(p.Data)
		}
	default:
		if p.Bets != nil {
			r.Bets = upsertBets(r.Bets, p.Bets)
		}
		if p.Data != nil {
			merged := cloneData(r.Data)
			if merged == nil {
				merged = make(map[string]json.RawMessage, len(p.Data))
			}
			for k, v := range p.Data {
				merged[k] = v
			}
			r.Data = merged
		}
	}

	if r.Bets == nil {
		r.Bets = []Bet{}
	}
	r.TotalAmount = totalAmount(r.Bets)
	return r
}
