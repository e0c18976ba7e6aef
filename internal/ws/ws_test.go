package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DoyleJ11/round-sync/internal/countdown"
	"github.com/DoyleJ11/round-sync/internal/dispatch"
	"github.com/DoyleJ11/round-sync/internal/engine"
	"github.com/DoyleJ11/round-sync/internal/hub"
	"github.com/DoyleJ11/round-sync/internal/intent"
	"github.com/DoyleJ11/round-sync/internal/room"
	"github.com/DoyleJ11/round-sync/internal/types"
	"github.com/DoyleJ11/round-sync/internal/wallet"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopSender struct{}

func (nopSender) Send(context.Context, dispatch.Envelope) error { return nil }

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// helper: read server messages until one of the wanted type arrives
func readUntil(t *testing.T, ctx context.Context, c *websocket.Conn, msgType string) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for {
		_, data, err := c.Read(ctx)
		require.NoError(t, err, "waiting for %s", msgType)
		var msg types.ServerMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func readEnvelope(t *testing.T, ctx context.Context, c *websocket.Conn) dispatch.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var env dispatch.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHandler_StreamsSnapshotsAndCountdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Server goroutines outlive the test, so no zaptest here.
	log := zap.NewNop()

	h := hub.NewHub(ctx, room.Options{Logger: log})
	w := wallet.New()
	w.Set("u1", wallet.Balance{Chips: 1000})
	d := dispatch.New(h, w, nil, log)
	svc := intent.NewService(d, w, nopSender{}, log)

	rm, err := h.Ensure(ctx, "crash", engine.NewEmptyState(engine.GameCrash))
	require.NoError(t, err)
	started := time.Now()
	require.NoError(t, rm.Do(ctx, engine.Action{Type: engine.ActSetRound, Round: engine.RoundPatch{RoundID: "c1", StartedAt: &started}}))

	ticker := &countdown.Ticker{Interval: 20 * time.Millisecond, Now: time.Now}
	srv := httptest.NewServer(Handler(h, svc, ticker, nil, log))
	defer srv.Close()

	c, _, err := websocket.Dial(ctx, wsURL(srv.URL)+"?room=crash", nil)
	require.NoError(t, err)
	defer c.CloseNow()

	snap := readUntil(t, ctx, c, "StateSnapshot")
	require.NotNil(t, snap.State)
	require.Len(t, snap.State.Active, 1)
	assert.Equal(t, "c1", snap.State.Active[0].RoundID)

	clock := readUntil(t, ctx, c, "Countdown")
	require.Len(t, clock.Countdown, 1)
	assert.Equal(t, "c1", clock.Countdown[0].RoundID)
	assert.Equal(t, engine.StatusBetting, clock.Countdown[0].Status)
	assert.Positive(t, clock.Countdown[0].Seconds)

	payload, err := json.Marshal(types.ClientMessage{Type: "PlaceBet", RoundID: "c1", UserID: "u1", Amount: 250})
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, websocket.MessageText, payload))

	accepted := readUntil(t, ctx, c, "BetAccepted")
	require.NotNil(t, accepted.Bet)
	assert.Equal(t, int64(250), accepted.Bet.Amount)
	assert.Equal(t, int64(750), w.Get("u1").Chips)

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"Dance"}`)))
	assert.Equal(t, "unknown type", readUntil(t, ctx, c, "Error").Error)
}

func TestHandler_UnknownRoom(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := zap.NewNop()

	h := hub.NewHub(ctx, room.Options{Logger: log})
	srv := httptest.NewServer(Handler(h, nil, nil, nil, log))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?room=nowhere")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_OriginPatterns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := zap.NewNop()

	h := hub.NewHub(ctx, room.Options{Logger: log})
	_, err := h.Ensure(ctx, "plinko", engine.NewEmptyState(engine.GamePlinko))
	require.NoError(t, err)
	srv := httptest.NewServer(Handler(h, nil, nil, []string{"app.example"}, log))
	defer srv.Close()

	dial := func(origin string) (*websocket.Conn, error) {
		c, _, err := websocket.Dial(ctx, wsURL(srv.URL)+"?room=plinko", &websocket.DialOptions{
			HTTPHeader: http.Header{"Origin": []string{origin}},
		})
		return c, err
	}

	c, err := dial("https://app.example")
	require.NoError(t, err)
	readUntil(t, ctx, c, "StateSnapshot")
	c.CloseNow()

	_, err = dial("https://elsewhere.example")
	assert.Error(t, err)
}

func TestUpstream_VisitDispatchAndReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := zap.NewNop()

	conns := make(chan *websocket.Conn, 4)
	done := make(chan struct{})
	defer close(done)
	game := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
		<-done
	}))
	defer game.Close()

	h := hub.NewHub(ctx, room.Options{Logger: log})
	d := dispatch.New(h, wallet.New(), nil, log)
	u := NewUpstream(wsURL(game.URL), []string{"coinflip"}, 20*time.Millisecond, d, h, log)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = u.Run(ctx)
	}()
	defer func() {
		cancel()
		<-runDone
	}()

	var c1 *websocket.Conn
	select {
	case c1 = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never dialed")
	}

	visit := readEnvelope(t, ctx, c1)
	assert.Equal(t, dispatch.TypeVisit, visit.Type)
	assert.Equal(t, "coinflip", visit.Room)

	env, err := dispatch.Encode("coinflip", "setRound", map[string]any{"roundId": "r1", "status": "betting"})
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, c1.Write(ctx, websocket.MessageText, raw))

	activeRounds := func() int {
		rm, err := h.Get(ctx, "coinflip")
		if err != nil || rm == nil {
			return -1
		}
		v, err := rm.View(ctx)
		if err != nil {
			return -1
		}
		return len(v.State.Active)
	}
	assert.Eventually(t, func() bool { return activeRounds() == 1 }, 2*time.Second, 10*time.Millisecond)

	out, err := dispatch.Encode("coinflip", "cashout", map[string]string{"roundId": "r1", "betId": "b1"})
	require.NoError(t, err)
	require.NoError(t, u.Send(ctx, out))
	assert.Equal(t, out, readEnvelope(t, ctx, c1))

	c1.CloseNow()

	var c2 *websocket.Conn
	select {
	case c2 = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never redialed")
	}
	defer c2.CloseNow()

	assert.Equal(t, dispatch.TypeVisit, readEnvelope(t, ctx, c2).Type)
	assert.Eventually(t, func() bool { return activeRounds() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestUpstream_SendWithoutConnection(t *testing.T) {
	u := NewUpstream("ws://127.0.0.1:1", nil, time.Second, nil, nil, nil)
	err := u.Send(context.Background(), dispatch.Envelope{Type: dispatch.TypeEvent, Room: "crash"})
	assert.ErrorIs(t, err, intent.ErrNotConnected)
}
