package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/round-sync/internal/engine"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			// channel closed → that's fine; no further snapshots possible
			return
		}
		t.Fatalf("expected no snapshot within %v, but got: %+v", within, s)
	case <-time.After(within):
		// good: no snapshot
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []engine.Event
	seen   chan struct{}
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{seen: make(chan struct{}, 16)}
}

func (o *recordingObserver) Observe(_ context.Context, _ Snapshot, events []engine.Event) error {
	o.mu.Lock()
	o.events = append(o.events, events...)
	o.mu.Unlock()
	o.seen <- struct{}{}
	return nil
}

func (o *recordingObserver) has(t engine.EventType) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return engine.ContainsEvent(o.events, t)
}

func newTestRoom(t *testing.T, game engine.Game, observers ...Observer) (*Room, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRoom(ctx, string(game), engine.NewEmptyState(game), Options{
		Logger:    zaptest.NewLogger(t),
		Observers: observers,
	})
	return r, cancel
}

func TestRoom_SetRound_BroadcastsSnapshotAndVersionIncrements(t *testing.T) {
	r, cancel := newTestRoom(t, engine.GameCoinflip)
	defer cancel()

	clientOut := make(chan Snapshot, 2)
	r.Inbox() <- Join{ClientID: "ch1", Outbox: clientOut}

	first := recvSnapshot(t, clientOut, 100*time.Millisecond)
	if first.Version != 0 || len(first.State.Active) != 0 {
		t.Fatalf("after join: want empty version 0, got %+v", first)
	}

	r.Inbox() <- Apply{Action: engine.Action{Type: engine.ActSetRound, Round: engine.RoundPatch{RoundID: "r1"}}}

	next := recvSnapshot(t, clientOut, 100*time.Millisecond)
	if next.Version != 1 {
		t.Fatalf("after setRound: want version=1, got %d", next.Version)
	}
	if len(next.State.Active) != 1 || next.State.Active[0].RoundID != "r1" {
		t.Fatalf("after setRound: expected active [r1], got %+v", next.State.Active)
	}

	r.Inbox() <- Shutdown{}
}

func TestRoom_NoopActionDoesNotBroadcast(t *testing.T) {
	r, cancel := newTestRoom(t, engine.GameCoinflip)
	defer cancel()

	out := make(chan Snapshot, 2)
	r.Inbox() <- Join{ClientID: "ch1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	if err := r.Do(context.Background(), engine.Action{Type: engine.ActCancelRound, RoundID: "ghost"}); err != nil {
		t.Fatalf("cancel of unknown round should succeed, got %v", err)
	}
	recvNoSnapshot(t, out, 100*time.Millisecond)
}

func TestRoom_DoReturnsReducerError(t *testing.T) {
	r, cancel := newTestRoom(t, engine.GameCrash)
	defer cancel()

	err := r.Do(context.Background(), engine.Action{Type: engine.ActPlaceBet, RoundID: "missing"})
	if !errors.Is(err, engine.ErrUnknownRound) {
		t.Fatalf("want ErrUnknownRound, got %v", err)
	}

	v, err := r.View(context.Background())
	if err != nil || v.Version != 0 {
		t.Fatalf("rejected action must not bump version: %+v %v", v, err)
	}
}

func TestRoom_DropSlowClient(t *testing.T) {
	r, cancel := newTestRoom(t, engine.GameCoinflip)
	defer cancel()

	clientOut := make(chan Snapshot, 1)
	r.Inbox() <- Join{ClientID: "ch1", Outbox: clientOut}

	r.Inbox() <- Apply{Action: engine.Action{Type: engine.ActSetRound, Round: engine.RoundPatch{RoundID: "r1"}}}

	reply := make(chan View, 1)
	r.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)

	if view.NumClients != 0 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
}

func TestRoom_ObserverSeesEndedRound(t *testing.T) {
	obs := newRecordingObserver()
	r, cancel := newTestRoom(t, engine.GameJackpot, obs)
	defer cancel()

	ctx := context.Background()
	if err := r.Do(ctx, engine.Action{Type: engine.ActSetRound, Round: engine.RoundPatch{RoundID: "j1"}}); err != nil {
		t.Fatal(err)
	}
	if err := r.Do(ctx, engine.Action{Type: engine.ActEndRound, RoundID: "j1"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(time.Second)
	for !obs.has(engine.EvtRoundEnded) {
		select {
		case <-obs.seen:
		case <-deadline:
			t.Fatalf("observer did not see RoundEnded")
		}
	}

	v, _ := r.View(ctx)
	if len(v.State.History) != 1 || v.State.History[0].EndedAt.IsZero() {
		t.Fatalf("room should stamp end time from its clock: %+v", v.State.History)
	}
}

func TestRoom_ResetClearsRounds(t *testing.T) {
	r, cancel := newTestRoom(t, engine.GameCoinflip)
	defer cancel()

	out := make(chan Snapshot, 4)
	r.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	r.Inbox() <- Apply{Action: engine.Action{Type: engine.ActSetRound, Round: engine.RoundPatch{RoundID: "r1"}}}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	r.Inbox() <- Reset{}
	snap := recvSnapshot(t, out, 100*time.Millisecond)
	if len(snap.State.Active) != 0 || snap.Version != 2 {
		t.Fatalf("reset should broadcast an empty state, got %+v", snap)
	}
}

func TestRoom_Shutdown_ClosesOutboxes(t *testing.T) {
	r, cancel := newTestRoom(t, engine.GameCrash)
	defer cancel()

	out := make(chan Snapshot, 2)
	r.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 500*time.Millisecond) // drain join snapshot

	r.Inbox() <- Shutdown{}

	select {
	case _, ok := <-out:
		if ok {
			t.Fatalf("expected outbox to be closed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("outbox not closed after shutdown")
	}

	if _, err := r.View(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed after shutdown, got %v", err)
	}
}

type blockingObserver struct{}

func (blockingObserver) Observe(ctx context.Context, _ Snapshot, _ []engine.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRoom_SlowObserverDoesNotStallActions(t *testing.T) {
	// The observer goroutine outlives the test, so it cannot log through zaptest.
	rctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewRoom(rctx, "coinflip", engine.NewEmptyState(engine.GameCoinflip), Options{
		Logger:    zap.NewNop(),
		Observers: []Observer{blockingObserver{}},
	})

	ctx, done := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer done()

	for _, id := range []string{"r1", "r2", "r3"} {
		if err := r.Do(ctx, engine.Action{Type: engine.ActSetRound, Round: engine.RoundPatch{RoundID: id}}); err != nil {
			t.Fatalf("SetRound %s: %v", id, err)
		}
	}

	v, err := r.View(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v.Version != 3 {
		t.Fatalf("version: got %d, want 3", v.Version)
	}
}
