package room

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/round-sync/internal/engine"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("room closed")

type Msg interface{ isRoomMsg() }

type Apply struct {
	Action engine.Action
	Reply  chan error // optional, must be buffered
}

func (Apply) isRoomMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isRoomMsg() {}

type Leave struct{ ClientID string }

func (Leave) isRoomMsg() {}

// Reset drops every round, used when the upstream connection is lost.
type Reset struct{}

func (Reset) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Snapshot struct {
	Room    string       `json:"room"`
	Version int          `json:"version"`
	State   engine.State `json:"state"`
}

type View struct {
	Room       string       `json:"room"`
	Version    int          `json:"version"`
	NumClients int          `json:"numClients"`
	State      engine.State `json:"state"`
}

// Observer sees every state change after it is applied. Each observer runs on its own
// goroutine behind a bounded queue, so a slow one never holds up the room. Errors are
// logged, never fatal.
type Observer interface {
	Observe(ctx context.Context, snap Snapshot, events []engine.Event) error
}

type Options struct {
	Logger    *zap.Logger
	Observers []Observer
	Now       func() time.Time
}

type Room struct {
	name      string
	inbox     chan Msg
	state     engine.State
	version   int
	clients   map[string]chan Snapshot
	observers []chan observation
	log       *zap.Logger
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

type observation struct {
	snap   Snapshot
	events []engine.Event
}

const (
	observeTimeout = 2 * time.Second
	observeQueue   = 64
)

func NewRoom(parent context.Context, name string, initial engine.State, opts Options) *Room {
	ctx, cancel := context.WithCancel(parent)

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	r := &Room{
		name:      name,
		inbox:     make(chan Msg, 64),
		state:     initial,
		clients:   make(map[string]chan Snapshot),
		log:       log.Named("room").With(zap.String("room", name), zap.String("game", string(initial.Game))),
		now:       now,
		ctx:       ctx,
		cancel:    cancel,
	}

	for _, o := range opts.Observers {
		ch := make(chan observation, observeQueue)
		r.observers = append(r.observers, ch)
		go r.observe(o, ch)
	}

	go r.loop()
	return r
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + send current snapshot immediately
				r.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- r.snapshot()

			case Leave:
				delete(r.clients, msg.ClientID)

			case Apply:
				err := r.apply(msg.Action)
				if msg.Reply != nil {
					msg.Reply <- err
				}

			case Reset:
				_ = r.apply(engine.Action{Type: engine.ActReset})

			case GetState:
				msg.Reply <- View{
					Room:       r.name,
					Version:    r.version,
					NumClients: len(r.clients),
					State:      r.state,
				}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) apply(a engine.Action) error {
	if a.At.IsZero() {
		a.At = r.now()
	}

	events, newState, err := engine.Apply(r.state, a)
	if err != nil {
		r.log.Warn("action rejected",
			zap.String("action", string(a.Type)),
			zap.String("round_id", firstNonEmpty(a.RoundID, a.Round.RoundID)),
			zap.Error(err))
		return err
	}
	if len(events) == 0 {
		return nil
	}

	r.state = newState
	r.version++
	snap := r.snapshot()
	r.broadcast(snap)
	r.notify(snap, events)

	r.log.Debug("state advanced",
		zap.String("action", string(a.Type)),
		zap.Int("version", r.version),
		zap.Int("events", len(events)))
	return nil
}

func (r *Room) notify(snap Snapshot, events []engine.Event) {
	for i, ch := range r.observers {
		select {
		case ch <- observation{snap: snap, events: events}:
		default:
			r.log.Warn("observer queue full, dropping change",
				zap.Int("observer", i),
				zap.Int("version", snap.Version))
		}
	}
}

func (r *Room) observe(o Observer, ch <-chan observation) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case obs := <-ch:
			ctx, cancel := context.WithTimeout(r.ctx, observeTimeout)
			if err := o.Observe(ctx, obs.snap, obs.events); err != nil {
				r.log.Error("observer failed", zap.Int("version", obs.snap.Version), zap.Error(err))
			}
			cancel()
		}
	}
}

func (r *Room) snapshot() Snapshot {
	return Snapshot{Room: r.name, Version: r.version, State: r.state}
}

func (r *Room) shutdown() {
	for id, ch := range r.clients {
		close(ch) // Tell client no more snapshots
		delete(r.clients, id)
	}
	r.cancel()
}

func (r *Room) broadcast(snap Snapshot) {
	for id, ch := range r.clients {
		select {
		case ch <- snap:
			//ok
		default:
			// Client is slow/full - drop them.
			r.log.Info("dropping slow subscriber", zap.String("client_id", id))
			close(ch)
			delete(r.clients, id)
		}
	}
}

// Expose the inbox so tests or the ws layer can send messages.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) Name() string { return r.name }

func (r *Room) Send(ctx context.Context, m Msg) error {
	select {
	case r.inbox <- m:
		return nil
	case <-r.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do applies a and waits for the reducer result.
func (r *Room) Do(ctx context.Context, a engine.Action) error {
	reply := make(chan error, 1)
	if err := r.Send(ctx, Apply{Action: a, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.Send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.ctx.Done():
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
