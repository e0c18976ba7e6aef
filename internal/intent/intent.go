// Package intent turns local user actions into optimistic room updates and upstream events.
package intent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/round-sync/internal/dispatch"
	"github.com/DoyleJ11/round-sync/internal/engine"
	"github.com/DoyleJ11/round-sync/internal/wallet"
	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("upstream not connected")
var ErrInvalidRequest = errors.New("invalid request")

// Sender delivers an envelope to the game server.
type Sender interface {
	Send(ctx context.Context, env dispatch.Envelope) error
}

type BetRequest struct {
	RoundID     string             `json:"roundId" validate:"required"`
	UserID      string             `json:"userId" validate:"required"`
	Username    string             `json:"username"`
	Amount      int64              `json:"amount" validate:"gt=0"`
	BalanceType engine.BalanceType `json:"balanceType" validate:"omitempty,oneof=chip coupon"`
	// AmountText is a decimal chip amount such as "12.50", used when Amount is zero.
	AmountText string `json:"amountText,omitempty"`
	// Data carries game-specific choices such as coin side or tower difficulty.
	Data map[string]any `json:"data,omitempty"`
}

type CashoutRequest struct {
	RoundID string `json:"roundId" validate:"required"`
	BetID   string `json:"betId" validate:"required"`
}

type Service struct {
	dispatcher *dispatch.Dispatcher
	wallet     *wallet.Wallet
	upstream   Sender
	validate   *validator.Validate
	now        func() time.Time
	log        *zap.Logger
}

func NewService(d *dispatch.Dispatcher, w *wallet.Wallet, upstream Sender, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		dispatcher: d,
		wallet:     w,
		upstream:   upstream,
		validate:   validator.New(),
		now:        time.Now,
		log:        log.Named("intent"),
	}
}

// PlaceBet takes the stake out of the wallet, shows the bet as pending in the room and
// forwards it. The returned bet id is also the wallet hold id.
func (s *Service) PlaceBet(ctx context.Context, roomName string, req BetRequest) (engine.Bet, error) {
	if req.Amount == 0 && req.AmountText != "" {
		units, err := wallet.ParseAmount(req.AmountText)
		if err != nil {
			return engine.Bet{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		req.Amount = units
	}
	if err := s.validate.Struct(req); err != nil {
		return engine.Bet{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.BalanceType == "" {
		req.BalanceType = engine.BalanceChip
	}

	rm, err := s.dispatcher.Room(ctx, roomName)
	if err != nil {
		return engine.Bet{}, err
	}

	holdID, err := s.wallet.Reserve(req.UserID, req.BalanceType, req.Amount)
	if err != nil {
		return engine.Bet{}, err
	}

	bet := engine.Bet{
		BetID:       holdID,
		UserID:      req.UserID,
		Username:    req.Username,
		Amount:      req.Amount,
		BalanceType: req.BalanceType,
		Pending:     true,
		PlacedAt:    s.now(),
	}
	if err := rm.Do(ctx, engine.Action{Type: engine.ActPlaceBet, RoundID: req.RoundID, Bet: bet}); err != nil {
		return engine.Bet{}, multierr.Append(err, s.wallet.Release(holdID))
	}

	env, err := dispatch.Encode(roomName, "placeBet", map[string]any{
		"roundId":     req.RoundID,
		"betId":       bet.BetID,
		"amount":      bet.Amount,
		"balanceType": bet.BalanceType,
		"data":        req.Data,
	})
	if err == nil {
		err = s.upstream.Send(ctx, env)
	}
	if err != nil {
		s.log.Warn("bet not forwarded, rolling back",
			zap.String("room", roomName), zap.String("bet_id", holdID), zap.Error(err))
		rollback := multierr.Append(
			s.wallet.Release(holdID),
			rm.Do(context.WithoutCancel(ctx), engine.Action{Type: engine.ActRemoveBet, RoundID: req.RoundID, BetID: holdID}),
		)
		return engine.Bet{}, multierr.Append(fmt.Errorf("forward bet: %w", err), rollback)
	}
	return bet, nil
}

// Cashout marks the bet pending and asks the server to cash it out. The multiplier arrives
// later with cashoutAck. If the request cannot be forwarded the pending flag is cleared so
// the user can try again.
func (s *Service) Cashout(ctx context.Context, roomName string, req CashoutRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	rm, err := s.dispatcher.Room(ctx, roomName)
	if err != nil {
		return err
	}
	if err := rm.Do(ctx, engine.Action{Type: engine.ActCashout, RoundID: req.RoundID, BetID: req.BetID}); err != nil {
		return err
	}

	env, err := dispatch.Encode(roomName, "cashout", req)
	if err == nil {
		err = s.upstream.Send(ctx, env)
	}
	if err != nil {
		s.log.Warn("cashout not forwarded, rolling back",
			zap.String("room", roomName), zap.String("bet_id", req.BetID), zap.Error(err))
		rollback := rm.Do(context.WithoutCancel(ctx), engine.Action{Type: engine.ActCashoutFailed, RoundID: req.RoundID, BetID: req.BetID})
		return multierr.Append(fmt.Errorf("forward cashout: %w", err), rollback)
	}
	return nil
}
