package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/DoyleJ11/round-sync/internal/countdown"
	"github.com/DoyleJ11/round-sync/internal/dispatch"
	"github.com/DoyleJ11/round-sync/internal/engine"
	"github.com/DoyleJ11/round-sync/internal/hub"
	"github.com/DoyleJ11/round-sync/internal/intent"
	"github.com/DoyleJ11/round-sync/internal/room"
	"github.com/DoyleJ11/round-sync/internal/types"
	"github.com/DoyleJ11/round-sync/internal/wallet"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const maxBody = 1 << 20

var errRoomNotFound = errors.New("room not found")
var errHistoryUnavailable = errors.New("history store not configured")

// HistorySource serves pages of ended rounds beyond the in-memory window.
type HistorySource interface {
	ListHistory(ctx context.Context, room string, offset, limit int) ([]engine.Round, error)
}

// SnapshotSource returns the last snapshot published for a room, possibly by another
// process sharing the cache.
type SnapshotSource interface {
	Latest(ctx context.Context, room string) (room.Snapshot, error)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func ListRooms(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := h.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Rooms []string `json:"rooms"`
		}{Rooms: names})
	}
}

// RoomState returns the live view of a room. Rooms this process does not hold fall back
// to the cached snapshot when snaps is set.
func RoomState(h *hub.Hub, snaps SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := roomView(r, h)
		if errors.Is(err, errRoomNotFound) && snaps != nil {
			snap, cerr := snaps.Latest(r.Context(), chi.URLParam(r, "room"))
			if cerr != nil {
				writeError(w, err)
				return
			}
			v, err = room.View{Room: snap.Room, Version: snap.Version, State: snap.State}, nil
		}
		if err != nil {
			writeError(w, err)
			return
		}
		v.State = v.State.WithSortedBets()
		writeJSON(w, http.StatusOK, v)
	}
}

func RoomCountdown(h *hub.Hub, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := roomView(r, h)
		if err != nil {
			writeError(w, err)
			return
		}

		d := countdown.DefaultDurations[v.State.Game]
		at := now()
		clocks := make([]types.RoundClock, 0, len(v.State.Active))
		for _, rd := range v.State.Active {
			clocks = append(clocks, types.RoundClock{RoundID: rd.RoundID, Reading: countdown.ReadRound(rd, at, d)})
		}
		writeJSON(w, http.StatusOK, types.ServerMessage{Type: "Countdown", Room: v.Room, Countdown: clocks})
	}
}

// History pages through ended rounds, from the store when there is one and from the
// room's in-memory history otherwise.
func History(h *hub.Hub, src HistorySource, pageSize int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := roomView(r, h)
		if err != nil {
			writeError(w, err)
			return
		}
		offset, limit, err := paging(r, pageSize)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var rounds []engine.Round
		if src != nil {
			rounds, err = src.ListHistory(r.Context(), v.Room, offset, limit)
			if err != nil {
				writeError(w, err)
				return
			}
		} else {
			rounds = window(v.State.History, offset, limit)
		}
		writeJSON(w, http.StatusOK, struct {
			Rounds []engine.Round `json:"rounds"`
			Offset int            `json:"offset"`
			Limit  int            `json:"limit"`
		}{Rounds: rounds, Offset: offset, Limit: limit})
	}
}

// MoreHistory is "Show More": the next stored page is appended to the room history.
// Pages continue from the room's history cursor, which counts every stored round already
// seen, so a narrow filter still walks the whole store.
func MoreHistory(h *hub.Hub, src HistorySource, pageSize int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if src == nil {
			writeError(w, errHistoryUnavailable)
			return
		}
		rm, err := lookup(r, h)
		if err != nil {
			writeError(w, err)
			return
		}
		v, err := rm.View(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		offset := v.State.HistoryCursor
		if q := r.URL.Query().Get("offset"); q != "" {
			if offset, err = strconv.Atoi(q); err != nil || offset < 0 {
				http.Error(w, "bad offset", http.StatusBadRequest)
				return
			}
		}
		if err := loadPage(r.Context(), rm, src, offset, pageSize); err != nil {
			writeError(w, err)
			return
		}

		v, err = rm.View(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		v.State = v.State.WithSortedBets()
		writeJSON(w, http.StatusOK, v)
	}
}

// SetFilter switches the history filter. The room history is cleared and refilled with
// the first matching page when a store is available.
func SetFilter(h *hub.Hub, src HistorySource, pageSize int, validate *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := lookup(r, h)
		if err != nil {
			writeError(w, err)
			return
		}

		var f engine.HistoryFilter
		if err := decode(r, &f); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(f); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if f.Kind == "" {
			f.Kind = engine.FilterAll
		}

		if err := rm.Do(r.Context(), engine.Action{Type: engine.ActSetFilter, Filter: f}); err != nil {
			writeError(w, err)
			return
		}
		if src != nil {
			if err := loadPage(r.Context(), rm, src, 0, pageSize); err != nil {
				writeError(w, err)
				return
			}
		}

		v, err := rm.View(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		v.State = v.State.WithSortedBets()
		writeJSON(w, http.StatusOK, v)
	}
}

func PlaceBet(svc *intent.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req intent.BetRequest
		if err := decode(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		bet, err := svc.PlaceBet(r.Context(), chi.URLParam(r, "room"), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, bet)
	}
}

func Cashout(svc *intent.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req intent.CashoutRequest
		if err := decode(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := svc.Cashout(r.Context(), chi.URLParam(r, "room"), req); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func Balance(wl *wallet.Wallet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := wl.Get(chi.URLParam(r, "user"))
		writeJSON(w, http.StatusOK, struct {
			wallet.Balance
			ChipsText   string `json:"chipsText"`
			CouponsText string `json:"couponsText"`
		}{Balance: b, ChipsText: wallet.FormatAmount(b.Chips), CouponsText: wallet.FormatAmount(b.Coupons)})
	}
}

// InjectEvent feeds one game server envelope through the dispatcher, as if it had
// arrived on the upstream connection.
func InjectEvent(d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := d.Dispatch(r.Context(), raw); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// loadPage hands the raw page to the room, which applies its filter.
func loadPage(ctx context.Context, rm *room.Room, src HistorySource, offset, limit int) error {
	page, err := src.ListHistory(ctx, rm.Name(), offset, limit)
	if err != nil {
		return err
	}
	return rm.Do(ctx, engine.Action{Type: engine.ActLoadHistory, History: page})
}

func lookup(r *http.Request, h *hub.Hub) (*room.Room, error) {
	rm, err := h.Get(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		return nil, err
	}
	if rm == nil {
		return nil, errRoomNotFound
	}
	return rm, nil
}

func roomView(r *http.Request, h *hub.Hub) (room.View, error) {
	rm, err := lookup(r, h)
	if err != nil {
		return room.View{}, err
	}
	return rm.View(r.Context())
}

func paging(r *http.Request, pageSize int) (offset, limit int, err error) {
	limit = pageSize
	q := r.URL.Query()
	if s := q.Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, errors.New("bad offset")
		}
	}
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit <= 0 || limit > 100 {
			return 0, 0, errors.New("bad limit")
		}
	}
	return offset, limit, nil
}

func window(h []engine.Round, offset, limit int) []engine.Round {
	if offset >= len(h) {
		return []engine.Round{}
	}
	end := min(offset+limit, len(h))
	return h[offset:end]
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errRoomNotFound),
		errors.Is(err, dispatch.ErrUnknownRoom),
		errors.Is(err, engine.ErrUnknownRound),
		errors.Is(err, engine.ErrUnknownBet):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrBadEnvelope),
		errors.Is(err, dispatch.ErrUnknownEvent),
		errors.Is(err, intent.ErrInvalidRequest),
		errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, engine.ErrMissingRoundID):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrInsufficientFunds),
		errors.Is(err, engine.ErrAlreadyCashedOut),
		errors.Is(err, engine.ErrRoundRetired):
		return http.StatusConflict
	case errors.Is(err, intent.ErrNotConnected),
		errors.Is(err, room.ErrClosed),
		errors.Is(err, hub.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, errHistoryUnavailable):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
