package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/DoyleJ11/round-sync/internal/dispatch"
	"github.com/DoyleJ11/round-sync/internal/hub"
	"github.com/DoyleJ11/round-sync/internal/intent"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const readLimit = 1 << 20

// Upstream keeps one connection to the game server. Every frame it reads goes through the
// dispatcher. When the connection drops all rooms go back to their initial state until the
// next visit replies arrive.
type Upstream struct {
	url        string
	rooms      []string
	delay      time.Duration
	dispatcher *dispatch.Dispatcher
	hub        *hub.Hub
	log        *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewUpstream(url string, rooms []string, delay time.Duration, d *dispatch.Dispatcher, h *hub.Hub, log *zap.Logger) *Upstream {
	if log == nil {
		log = zap.NewNop()
	}
	return &Upstream{
		url:        url,
		rooms:      rooms,
		delay:      delay,
		dispatcher: d,
		hub:        h,
		log:        log.Named("upstream"),
	}
}

// Run dials, reads and redials until ctx is done.
func (u *Upstream) Run(ctx context.Context) error {
	for {
		err := u.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		u.log.Warn("upstream disconnected", zap.String("url", u.url), zap.Error(err))

		if err := u.hub.ResetAll(ctx); err != nil && !errors.Is(err, hub.ErrClosed) {
			u.log.Error("reset rooms", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(u.delay):
		}
	}
}

func (u *Upstream) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, u.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(readLimit)
	defer conn.CloseNow()

	u.mu.Lock()
	u.conn = conn
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.conn = nil
		u.mu.Unlock()
	}()

	u.log.Info("upstream connected", zap.String("url", u.url), zap.Int("rooms", len(u.rooms)))
	for _, name := range u.rooms {
		if err := u.write(ctx, conn, dispatch.Envelope{Type: dispatch.TypeVisit, Room: name}); err != nil {
			return err
		}
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if err := u.dispatcher.Dispatch(ctx, data); err != nil {
			u.log.Warn("frame dropped", zap.Error(err), zap.ByteString("frame", data))
		}
	}
}

// Send forwards env on the current connection.
func (u *Upstream) Send(ctx context.Context, env dispatch.Envelope) error {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return intent.ErrNotConnected
	}
	return u.write(ctx, conn, env)
}

func (u *Upstream) write(ctx context.Context, conn *websocket.Conn, env dispatch.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
