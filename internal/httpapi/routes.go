// Package httpapi is the REST surface of the server: challenges, arenas,
// games, ratings, health, metrics and the websocket upgrade route.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/park285/mill-arena/internal/hub"
	"github.com/park285/mill-arena/internal/metrics"
	"github.com/park285/mill-arena/internal/msgcat"
)

// LiveIndex answers which games a player is in across instances.
type LiveIndex interface {
	ActiveGames(ctx context.Context, player string) ([]string, error)
}

type Deps struct {
	Hub        *hub.Hub
	Live       LiveIndex
	Catalog    *msgcat.Catalog
	WS         http.Handler
	AdminToken string
}

func SetupRoutes(d Deps) http.Handler {
	if d.Catalog == nil {
		d.Catalog = msgcat.MustDefault()
	}
	h := &handlers{hub: d.Hub, live: d.Live, cat: d.Catalog, adminToken: d.AdminToken}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Handle("/metrics", metrics.Handler())
	if d.WS != nil {
		r.Handle("/ws", d.WS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))

		r.Get("/ratings/{category}/leaderboard", h.Leaderboard)
		r.Get("/ratings/{player}", h.GetRating)
		r.Get("/seeks", h.ListSeeks)
		r.Get("/players/{player}/games", h.RecentGames)
		r.Get("/players/{player}/live", h.LiveGames)
		r.Get("/arenas", h.ListArenas)
		r.Get("/arenas/{id}/standings", h.ArenaStandings)
		r.Get("/games/{id}", h.GetGame)
		r.Get("/challenges/{id}", h.GetChallenge)

		r.Group(func(r chi.Router) {
			r.Use(h.requirePlayer)
			r.Post("/challenges", h.CreateChallenge)
			r.Post("/challenges/{id}/accept", h.AcceptChallenge)
			r.Post("/challenges/{id}/decline", h.DeclineChallenge)
			r.Post("/seeks", h.CreateSeek)
			r.Delete("/seeks", h.CancelSeek)
			r.Post("/arenas", h.CreateArena)
			r.Post("/arenas/{id}/players", h.JoinArena)
			r.Delete("/arenas/{id}/players", h.WithdrawArena)
			r.Post("/arenas/{id}/pause", h.PauseArena)
			r.Post("/arenas/{id}/resume", h.ResumeArena)
			r.Post("/games/{id}/moves", h.SubmitMove)
			r.Post("/games/{id}/berserk", h.Berserk)
			r.Post("/games/{id}/resign", h.Resign)
			r.Post("/games/{id}/draw", h.OfferDraw)
			r.Post("/games/{id}/draw/answer", h.AnswerDraw)
			r.Post("/games/{id}/rematch", h.Rematch)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Post("/games/{id}/suspend", h.SuspendGame)
			r.Post("/games/{id}/resume", h.ResumeGame)
		})
	})
	return r
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
