package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/apierr"
	"github.com/park285/mill-arena/internal/challenge"
	"github.com/park285/mill-arena/internal/hub"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/msgcat"
	"github.com/park285/mill-arena/internal/obslog"
	"github.com/park285/mill-arena/internal/rating"
	"github.com/park285/mill-arena/internal/ws"
	"github.com/park285/mill-arena/pkg/milldto"
)

const AdminHeader = "X-Admin-Token"

type ctxKey struct{}

type handlers struct {
	hub        *hub.Hub
	live       LiveIndex
	cat        *msgcat.Catalog
	adminToken string
}

func (h *handlers) requirePlayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		player := strings.TrimSpace(r.Header.Get(ws.PlayerHeader))
		if player == "" {
			h.fail(w, r, apierr.New(h.cat, milldto.CodeUnauthorized))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, player)))
	})
}

func (h *handlers) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(AdminHeader)
		if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func player(r *http.Request) string {
	p, _ := r.Context().Value(ctxKey{}).(string)
	return p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Warn("http_encode_error", zap.Error(err))
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, de milldto.DomainError) {
	writeJSON(w, apierr.Status(de.Code), milldto.ErrorResponse{Error: de})
}

func (h *handlers) failErr(w http.ResponseWriter, r *http.Request, err error) {
	de := apierr.From(h.cat, err)
	if de.Code == milldto.CodeInternal {
		obslog.L().Error("http_handler_error", zap.String("path", r.URL.Path), zap.Error(err))
	}
	h.fail(w, r, de)
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.fail(w, r, apierr.New(h.cat, milldto.CodeBadRequest))
		return false
	}
	return true
}

func challengeDTO(c challenge.Challenge) milldto.ChallengeResponse {
	return milldto.ChallengeResponse{
		ID:           c.ID,
		ChallengerID: c.ChallengerID,
		TargetID:     c.TargetID,
		Category:     string(c.Category),
		Seat:         string(c.Seat),
		Rated:        c.Rated,
		Status:       string(c.Status),
		SessionID:    c.SessionID,
		RematchOf:    c.RematchOf,
		CreatedAt:    c.CreatedAt,
	}
}

func (h *handlers) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req milldto.CreateChallengeRequest
	if !h.decode(w, r, &req) {
		return
	}
	cat, ok := rating.ParseCategory(req.Category)
	if !ok {
		h.fail(w, r, apierr.New(h.cat, milldto.CodeUnknownCategory))
		return
	}
	ch, err := h.hub.CreateChallenge(r.Context(), challenge.Request{
		ChallengerID: player(r),
		TargetID:     req.TargetID,
		Category:     cat,
		Seat:         challenge.ParseSeat(req.Seat),
		Rated:        req.Rated,
		AutoAccept:   req.AutoAccept,
	})
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, challengeDTO(ch))
}

func (h *handlers) AcceptChallenge(w http.ResponseWriter, r *http.Request) {
	ch, err := h.hub.AcceptChallenge(r.Context(), chi.URLParam(r, "id"), player(r))
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeDTO(ch))
}

func (h *handlers) DeclineChallenge(w http.ResponseWriter, r *http.Request) {
	ch, err := h.hub.DeclineChallenge(r.Context(), chi.URLParam(r, "id"), player(r))
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeDTO(ch))
}

func (h *handlers) GetChallenge(w http.ResponseWriter, r *http.Request) {
	ch, err := h.hub.Challenge(chi.URLParam(r, "id"))
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeDTO(ch))
}

func seekDTO(res hub.SeekResult) milldto.SeekResponse {
	return milldto.SeekResponse{
		Matched:   res.Matched,
		SessionID: res.SessionID,
		Category:  string(res.Seek.Category),
		Rated:     res.Seek.Rated,
		Since:     res.Seek.Since,
	}
}

// CreateSeek answers 201 when the seeker was paired and 202 while they wait.
func (h *handlers) CreateSeek(w http.ResponseWriter, r *http.Request) {
	var req milldto.SeekRequest
	if !h.decode(w, r, &req) {
		return
	}
	cat, ok := rating.ParseCategory(req.Category)
	if !ok {
		h.fail(w, r, apierr.New(h.cat, milldto.CodeUnknownCategory))
		return
	}
	res, err := h.hub.Seek(r.Context(), player(r), cat, req.Rated)
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	status := http.StatusAccepted
	if res.Matched {
		status = http.StatusCreated
	}
	writeJSON(w, status, seekDTO(res))
}

func (h *handlers) CancelSeek(w http.ResponseWriter, r *http.Request) {
	h.hub.CancelSeek(player(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) ListSeeks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.Seeks())
}

func (h *handlers) Rematch(w http.ResponseWriter, r *http.Request) {
	ch, err := h.hub.OfferRematch(r.Context(), chi.URLParam(r, "id"), player(r))
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeDTO(ch))
}

func (h *handlers) CreateArena(w http.ResponseWriter, r *http.Request) {
	var req milldto.CreateArenaRequest
	if !h.decode(w, r, &req) {
		return
	}
	cat, ok := rating.ParseCategory(req.Category)
	if !ok {
		h.fail(w, r, apierr.New(h.cat, milldto.CodeUnknownCategory))
		return
	}
	ar := hub.ArenaRequest{
		ID:       req.ID,
		Name:     req.Name,
		Category: cat,
		Duration: time.Duration(req.DurationMinutes) * time.Minute,
		Rated:    req.Rated,
	}
	if req.StartsAt != nil {
		ar.StartsAt = *req.StartsAt
	}
	snap, err := h.hub.CreateArena(r.Context(), ar)
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *handlers) arenaAction(fn func(ctx context.Context, arenaID, player string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := fn(r.Context(), id, player(r)); err != nil {
			h.failErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handlers) JoinArena(w http.ResponseWriter, r *http.Request) {
	h.arenaAction(h.hub.JoinArena)(w, r)
}

func (h *handlers) WithdrawArena(w http.ResponseWriter, r *http.Request) {
	h.arenaAction(h.hub.WithdrawArena)(w, r)
}

func (h *handlers) PauseArena(w http.ResponseWriter, r *http.Request) {
	h.arenaAction(h.hub.PauseArena)(w, r)
}

func (h *handlers) ResumeArena(w http.ResponseWriter, r *http.Request) {
	h.arenaAction(h.hub.ResumeArena)(w, r)
}

func (h *handlers) ArenaStandings(w http.ResponseWriter, r *http.Request) {
	snap, err := h.hub.ArenaStandings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) ListArenas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.Arenas())
}

func (h *handlers) GetGame(w http.ResponseWriter, r *http.Request) {
	snap, err := h.hub.Game(chi.URLParam(r, "id"))
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) SubmitMove(w http.ResponseWriter, r *http.Request) {
	var req milldto.MoveRequest
	if !h.decode(w, r, &req) {
		return
	}
	mv := mill.Move{Kind: mill.MoveKind(req.Move.Kind), From: req.Move.From, To: req.Move.To}
	snap, err := h.hub.SubmitMove(r.Context(), chi.URLParam(r, "id"), player(r), mv, req.Seq)
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) Berserk(w http.ResponseWriter, r *http.Request) {
	snap, err := h.hub.RequestBerserk(r.Context(), chi.URLParam(r, "id"), player(r))
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) Resign(w http.ResponseWriter, r *http.Request) {
	snap, err := h.hub.Resign(r.Context(), chi.URLParam(r, "id"), player(r))
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) OfferDraw(w http.ResponseWriter, r *http.Request) {
	snap, err := h.hub.OfferDraw(r.Context(), chi.URLParam(r, "id"), player(r))
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) AnswerDraw(w http.ResponseWriter, r *http.Request) {
	var req milldto.DrawAnswer
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.hub.RespondDraw(r.Context(), chi.URLParam(r, "id"), player(r), req.Accept)
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) SuspendGame(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.SuspendGame(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.failErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) ResumeGame(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.ResumeGame(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.failErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) GetRating(w http.ResponseWriter, r *http.Request) {
	cat := rating.Blitz
	if v := r.URL.Query().Get("category"); v != "" {
		parsed, ok := rating.ParseCategory(v)
		if !ok {
			h.fail(w, r, apierr.New(h.cat, milldto.CodeUnknownCategory))
			return
		}
		cat = parsed
	}
	rec, err := h.hub.Rating(r.Context(), chi.URLParam(r, "player"), cat)
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ratingDTO(rec))
}

func ratingDTO(rec rating.Record) milldto.RatingResponse {
	resp := milldto.RatingResponse{
		PlayerID: rec.PlayerID,
		Category: string(rec.Category),
		Rating:   rec.Rating,
		Peak:     rec.Peak,
		Games:    rec.Games,
		Wins:     rec.Wins,
		Losses:   rec.Losses,
		Draws:    rec.Draws,
	}
	if t, ok := rec.Title(); ok {
		resp.Title = t.Code
	}
	return resp
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			return n
		}
	}
	return def
}

func (h *handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	cat, ok := rating.ParseCategory(chi.URLParam(r, "category"))
	if !ok {
		h.fail(w, r, apierr.New(h.cat, milldto.CodeUnknownCategory))
		return
	}
	recs, err := h.hub.Leaderboard(r.Context(), cat, queryLimit(r, 100))
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	resp := milldto.LeaderboardResponse{Category: string(cat), Entries: make([]milldto.LeaderboardEntry, 0, len(recs))}
	for i, rec := range recs {
		resp.Entries = append(resp.Entries, milldto.LeaderboardEntry{Rank: i + 1, RatingResponse: ratingDTO(rec)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) RecentGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.hub.RecentGames(r.Context(), chi.URLParam(r, "player"), queryLimit(r, 20))
	if err != nil {
		h.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

// LiveGames prefers the shared live index and falls back to this instance.
func (h *handlers) LiveGames(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "player")
	resp := milldto.LiveGamesResponse{PlayerID: p, Games: []string{}}
	if h.live != nil {
		ids, err := h.live.ActiveGames(r.Context(), p)
		if err == nil {
			resp.Games = append(resp.Games, ids...)
			writeJSON(w, http.StatusOK, resp)
			return
		}
		obslog.L().Warn("live_index_error", zap.String("player_id", p), zap.Error(err))
	}
	if sid, ok := h.hub.ActiveGame(p); ok {
		resp.Games = append(resp.Games, sid)
	}
	writeJSON(w, http.StatusOK, resp)
}
