package httpapi

import (
	"net/http"
	"time"

	"github.com/DoyleJ11/round-sync/internal/countdown"
	"github.com/DoyleJ11/round-sync/internal/dispatch"
	"github.com/DoyleJ11/round-sync/internal/hub"
	"github.com/DoyleJ11/round-sync/internal/intent"
	"github.com/DoyleJ11/round-sync/internal/wallet"
	"github.com/DoyleJ11/round-sync/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type Deps struct {
	Hub        *hub.Hub
	Dispatcher *dispatch.Dispatcher
	Intents    *intent.Service
	Wallet     *wallet.Wallet
	History    HistorySource // optional
	Snapshots  SnapshotSource // optional, serves rooms this process does not hold
	PageSize   int
	Ticker     *countdown.Ticker
	Origins    []string
	Logger     *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	now := time.Now
	if d.Ticker != nil && d.Ticker.Now != nil {
		now = d.Ticker.Now
	}
	if d.PageSize <= 0 {
		d.PageSize = 10
	}
	validate := validator.New()

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.Hub, d.Intents, d.Ticker, d.Origins, d.Logger))
	r.Post("/events", InjectEvent(d.Dispatcher))
	r.Get("/users/{user}/balance", Balance(d.Wallet))

	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", ListRooms(d.Hub))
		r.Route("/{room}", func(r chi.Router) {
			r.Get("/", RoomState(d.Hub, d.Snapshots))
			r.Get("/countdown", RoomCountdown(d.Hub, now))
			r.Get("/history", History(d.Hub, d.History, d.PageSize))
			r.Post("/history/more", MoreHistory(d.Hub, d.History, d.PageSize))
			r.Put("/filter", SetFilter(d.Hub, d.History, d.PageSize, validate))
			r.Post("/bets", PlaceBet(d.Intents))
			r.Post("/cashouts", Cashout(d.Intents))
		})
	})
	return r
}
