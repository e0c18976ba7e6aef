package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/DoyleJ11/round-sync/internal/countdown"
	"github.com/DoyleJ11/round-sync/internal/engine"
	"github.com/DoyleJ11/round-sync/internal/hub"
	"github.com/DoyleJ11/round-sync/internal/intent"
	"github.com/DoyleJ11/round-sync/internal/room"
	"github.com/DoyleJ11/round-sync/internal/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Handler streams a room to a subscriber: snapshots on every change and a countdown
// every second. Subscribers may place bets and cash out over the same socket.
// origins lists the cross-origin hosts allowed to connect, e.g. "localhost:*".
func Handler(h *hub.Hub, svc *intent.Service, ticker *countdown.Ticker, origins []string, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")
	if ticker == nil {
		ticker = countdown.NewTicker()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("room")
		if name == "" {
			http.Error(w, "missing room", http.StatusBadRequest)
			return
		}

		rm, err := h.Get(r.Context(), name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
		if err != nil {
			log.Debug("websocket accept failed", zap.String("room", name), zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan room.Snapshot, 8)
		clientID := uuid.NewString()
		clog := log.With(zap.String("room", name), zap.String("client_id", clientID))

		if err := rm.Send(r.Context(), room.Join{ClientID: clientID, Outbox: out}); err != nil {
			return
		}
		defer func() { _ = rm.Send(context.Background(), room.Leave{ClientID: clientID}) }()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		s := &subscriber{conn: conn, log: clog}

		// Snapshot writer
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case snap, ok := <-out:
					if !ok {
						// Dropped as a slow subscriber or the room shut down.
						return
					}
					s.setLatest(snap.State)
					st := snap.State.WithSortedBets()
					s.write(ctx, types.ServerMessage{Type: "StateSnapshot", Room: name, Version: snap.Version, State: &st})
				}
			}
		}()

		// Countdown writer
		go ticker.Run(ctx, func(now time.Time) {
			clocks := s.clocks(now)
			if len(clocks) == 0 {
				return
			}
			s.write(ctx, types.ServerMessage{Type: "Countdown", Room: name, Countdown: clocks})
		})

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					clog.Debug("subscriber read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				s.write(ctx, types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}
			s.write(ctx, handleIntent(ctx, svc, name, cm))
		}
	}
}

func handleIntent(ctx context.Context, svc *intent.Service, roomName string, cm types.ClientMessage) types.ServerMessage {
	switch cm.Type {
	case "PlaceBet":
		bet, err := svc.PlaceBet(ctx, roomName, intent.BetRequest{
			RoundID:     cm.RoundID,
			UserID:      cm.UserID,
			Username:    cm.Username,
			Amount:      cm.Amount,
			AmountText:  cm.AmountText,
			BalanceType: cm.BalanceType,
			Data:        cm.Data,
		})
		if err != nil {
			return types.ServerMessage{Type: "Error", Room: roomName, Error: err.Error()}
		}
		return types.ServerMessage{Type: "BetAccepted", Room: roomName, Bet: &bet}

	case "Cashout":
		if err := svc.Cashout(ctx, roomName, intent.CashoutRequest{RoundID: cm.RoundID, BetID: cm.BetID}); err != nil {
			return types.ServerMessage{Type: "Error", Room: roomName, Error: err.Error()}
		}
		return types.ServerMessage{Type: "CashoutRequested", Room: roomName}

	default:
		return types.ServerMessage{Type: "Error", Room: roomName, Error: "unknown type"}
	}
}

type subscriber struct {
	conn *websocket.Conn
	log  *zap.Logger

	mu     sync.Mutex
	latest engine.State
}

func (s *subscriber) setLatest(st engine.State) {
	s.mu.Lock()
	s.latest = st
	s.mu.Unlock()
}

func (s *subscriber) clocks(now time.Time) []types.RoundClock {
	s.mu.Lock()
	active := s.latest.Active
	d := countdown.DefaultDurations[s.latest.Game]
	s.mu.Unlock()

	clocks := make([]types.RoundClock, 0, len(active))
	for _, r := range active {
		clocks = append(clocks, types.RoundClock{RoundID: r.RoundID, Reading: countdown.ReadRound(r, now, d)})
	}
	return clocks
}

func (s *subscriber) write(ctx context.Context, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("encode message", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = s.conn.Write(ctx, websocket.MessageText, payload)
}
