package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/DoyleJ11/round-sync/internal/engine"
	"github.com/DoyleJ11/round-sync/internal/hub"
	"github.com/DoyleJ11/round-sync/internal/room"
	"github.com/DoyleJ11/round-sync/internal/wallet"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var ErrBadEnvelope = errors.New("bad envelope")
var ErrUnknownEvent = errors.New("unknown event")
var ErrUnknownRoom = errors.New("unknown room")

const (
	TypeEvent = "event"
	TypeVisit = "visit"
)

// Envelope is the frame exchanged with the game server. Content is itself JSON, encoded as a string.
type Envelope struct {
	Type    string `json:"type" validate:"required,oneof=event visit"`
	Room    string `json:"room" validate:"required"`
	Content string `json:"content"`
}

type Content struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data"`
}

// VisitContent is the full room state sent in reply to a visit.
type VisitContent struct {
	Active  []engine.RoundPatch `json:"active"`
	History []engine.Round      `json:"history"`
	Pending bool                `json:"pending"`
}

type roundRef struct {
	RoundID string `json:"roundId" validate:"required"`
}

type betPayload struct {
	RoundID string     `json:"roundId" validate:"required"`
	Bet     engine.Bet `json:"bet"`
}

type betRef struct {
	RoundID string `json:"roundId" validate:"required"`
	BetID   string `json:"betId" validate:"required"`
}

type cashoutAckPayload struct {
	RoundID    string  `json:"roundId" validate:"required"`
	BetID      string  `json:"betId" validate:"required"`
	Multiplier float64 `json:"multiplier" validate:"gt=0"`
}

type pendingPayload struct {
	Pending bool `json:"pending"`
}

type balancePayload struct {
	UserID  string `json:"userId" validate:"required"`
	Chips   int64  `json:"chips" validate:"gte=0"`
	Coupons int64  `json:"coupons" validate:"gte=0"`
}

type Dispatcher struct {
	hub      *hub.Hub
	wallet   *wallet.Wallet
	games    map[string]engine.Game
	validate *validator.Validate
	log      *zap.Logger
}

// New builds a dispatcher. games maps room names to the game they host; rooms not listed
// fall back to the name prefix before '-' or ':'.
func New(h *hub.Hub, w *wallet.Wallet, games map[string]engine.Game, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		hub:      h,
		wallet:   w,
		games:    games,
		validate: validator.New(),
		log:      log.Named("dispatch"),
	}
}

func (d *Dispatcher) GameFor(roomName string) (engine.Game, error) {
	if g, ok := d.games[roomName]; ok {
		return g, nil
	}
	prefix, _, _ := strings.Cut(roomName, "-")
	prefix, _, _ = strings.Cut(prefix, ":")
	if g, ok := engine.ParseGame(prefix); ok {
		return g, nil
	}
	return "", fmt.Errorf("%q: %w", roomName, ErrUnknownRoom)
}

// Room returns the room actor for name, creating it with the game's default rules.
func (d *Dispatcher) Room(ctx context.Context, name string) (*room.Room, error) {
	g, err := d.GameFor(name)
	if err != nil {
		return nil, err
	}
	return d.hub.Ensure(ctx, name, engine.NewEmptyState(g))
}

func (d *Dispatcher) Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if err := d.validate.Struct(env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	return env, nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) error {
	env, err := d.Decode(raw)
	if err != nil {
		return err
	}
	return d.Handle(ctx, env)
}

func (d *Dispatcher) Handle(ctx context.Context, env Envelope) error {
	rm, err := d.Room(ctx, env.Room)
	if err != nil {
		return err
	}

	switch env.Type {
	case TypeVisit:
		return d.visit(ctx, rm, env.Content)
	default:
		var c Content
		if err := json.Unmarshal([]byte(env.Content), &c); err != nil {
			return fmt.Errorf("%w: content: %v", ErrBadEnvelope, err)
		}
		if err := d.validate.Struct(c); err != nil {
			return fmt.Errorf("%w: content: %v", ErrBadEnvelope, err)
		}
		return d.event(ctx, rm, c)
	}
}

func (d *Dispatcher) event(ctx context.Context, rm *room.Room, c Content) error {
	switch c.Event {
	case "setRound", "setGameData":
		var p engine.RoundPatch
		if err := d.decode(c, &p); err != nil {
			return err
		}
		return rm.Do(ctx, engine.Action{Type: engine.ActSetRound, Round: p})

	case "endRound":
		var p engine.RoundPatch
		if err := d.decode(c, &p); err != nil {
			return err
		}
		return rm.Do(ctx, engine.Action{Type: engine.ActEndRound, RoundID: p.RoundID, Round: p})

	case "cancelRound":
		var ref roundRef
		if err := d.decode(c, &ref); err != nil {
			return err
		}
		return rm.Do(ctx, engine.Action{Type: engine.ActCancelRound, RoundID: ref.RoundID})

	case "setPending":
		var p pendingPayload
		if err := d.decode(c, &p); err != nil {
			return err
		}
		return rm.Do(ctx, engine.Action{Type: engine.ActSetPending, Pending: p.Pending})

	case "newBet":
		var p betPayload
		if err := d.decode(c, &p); err != nil {
			return err
		}
		p.Bet.Pending = false
		if err := rm.Do(ctx, engine.Action{Type: engine.ActPlaceBet, RoundID: p.RoundID, Bet: p.Bet}); err != nil {
			return err
		}
		// Bets placed from here are held under their bet id.
		if err := d.wallet.Confirm(p.Bet.BetID); err != nil && !errors.Is(err, wallet.ErrUnknownHold) {
			return err
		}
		return nil

	case "betRejected":
		var ref betRef
		if err := d.decode(c, &ref); err != nil {
			return err
		}
		if err := d.wallet.Release(ref.BetID); err != nil && !errors.Is(err, wallet.ErrUnknownHold) {
			return err
		}
		return rm.Do(ctx, engine.Action{Type: engine.ActRemoveBet, RoundID: ref.RoundID, BetID: ref.BetID})

	case "cashoutAck":
		var p cashoutAckPayload
		if err := d.decode(c, &p); err != nil {
			return err
		}
		return rm.Do(ctx, engine.Action{Type: engine.ActCashoutAck, RoundID: p.RoundID, BetID: p.BetID, Multiplier: p.Multiplier})

	case "setBalance":
		var p balancePayload
		if err := d.decode(c, &p); err != nil {
			return err
		}
		d.wallet.Set(p.UserID, wallet.Balance{Chips: p.Chips, Coupons: p.Coupons})
		return nil

	default:
		return fmt.Errorf("%q: %w", c.Event, ErrUnknownEvent)
	}
}

func (d *Dispatcher) visit(ctx context.Context, rm *room.Room, content string) error {
	if err := rm.Do(ctx, engine.Action{Type: engine.ActReset}); err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	var v VisitContent
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return fmt.Errorf("%w: visit: %v", ErrBadEnvelope, err)
	}

	for _, p := range v.Active {
		if err := rm.Do(ctx, engine.Action{Type: engine.ActSetRound, Round: p}); err != nil {
			d.log.Warn("skipping round from visit", zap.String("room", rm.Name()), zap.String("round_id", p.RoundID), zap.Error(err))
		}
	}
	if len(v.History) > 0 {
		if err := rm.Do(ctx, engine.Action{Type: engine.ActLoadHistory, History: v.History}); err != nil {
			return err
		}
	}
	return rm.Do(ctx, engine.Action{Type: engine.ActSetPending, Pending: v.Pending})
}

func (d *Dispatcher) decode(c Content, dst any) error {
	if err := json.Unmarshal(c.Data, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadEnvelope, c.Event, err)
	}
	if err := d.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadEnvelope, c.Event, err)
	}
	return nil
}

// Encode builds an event envelope for the game server.
func Encode(roomName, event string, data any) (Envelope, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	content, err := json.Marshal(Content{Event: event, Data: payload})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeEvent, Room: roomName, Content: string(content)}, nil
}
