package hub

import (
	"context"
	"errors"
	"sort"

	"github.com/DoyleJ11/round-sync/internal/engine"
	"github.com/DoyleJ11/round-sync/internal/room"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	Name  string
	State engine.State
	Reply chan *room.Room
}

type GetRoom struct {
	Name  string
	Reply chan *room.Room
}

type EnsureRoom struct {
	Name  string
	State engine.State // only used if creation happens
	Reply chan *room.Room
}

type RemoveRoom struct {
	Name string
}

type ListRooms struct {
	Reply chan []string
}

// ResetAll puts every room back to its initial state.
type ResetAll struct{}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	opts   room.Options
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (ListRooms) isHubMsg()   {}
func (ResetAll) isHubMsg()    {}
func (ShutdownHub) isHubMsg() {}

// NewHub starts the registry. opts are handed to every room it creates.
func NewHub(parent context.Context, opts room.Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		opts:   opts,
		log:    log.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				msg.Reply <- h.ensure(msg.Name, msg.State)

			case GetRoom:
				msg.Reply <- h.rooms[msg.Name] // May be nil

			case EnsureRoom:
				msg.Reply <- h.ensure(msg.Name, msg.State)

			case RemoveRoom:
				if rm := h.rooms[msg.Name]; rm != nil {
					rm.Inbox() <- room.Shutdown{}
					delete(h.rooms, msg.Name)
				}

			case ListRooms:
				names := make([]string, 0, len(h.rooms))
				for name := range h.rooms {
					names = append(names, name)
				}
				sort.Strings(names)
				msg.Reply <- names

			case ResetAll:
				for _, rm := range h.rooms {
					rm.Inbox() <- room.Reset{}
				}
				h.log.Info("reset all rooms", zap.Int("rooms", len(h.rooms)))

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) ensure(name string, state engine.State) *room.Room {
	if rm := h.rooms[name]; rm != nil {
		return rm
	}
	rm := room.NewRoom(h.ctx, name, state, h.opts)
	h.rooms[name] = rm
	h.log.Info("room created", zap.String("room", name), zap.String("game", string(state.Game)))
	return rm
}

func (h *Hub) shutdown() {
	for _, rm := range h.rooms {
		rm.Inbox() <- room.Shutdown{}
	}
	clear(h.rooms)
	h.cancel()
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Ensure(ctx context.Context, name string, state engine.State) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	if err := h.send(ctx, EnsureRoom{Name: name, State: state, Reply: reply}); err != nil {
		return nil, err
	}
	return h.await(ctx, reply)
}

// Get returns the room or nil when it does not exist.
func (h *Hub) Get(ctx context.Context, name string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	if err := h.send(ctx, GetRoom{Name: name, Reply: reply}); err != nil {
		return nil, err
	}
	return h.await(ctx, reply)
}

func (h *Hub) List(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.send(ctx, ListRooms{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case names := <-reply:
		return names, nil
	case <-h.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) ResetAll(ctx context.Context) error {
	return h.send(ctx, ResetAll{})
}

func (h *Hub) await(ctx context.Context, reply chan *room.Room) (*room.Room, error) {
	select {
	case rm := <-reply:
		return rm, nil
	case <-h.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
