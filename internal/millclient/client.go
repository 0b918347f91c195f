// Package millclient is a small client for the server's REST and websocket
// APIs, used by the arena simulator.
package millclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/mill-arena/internal/arena"
	"github.com/park285/mill-arena/internal/game"
	"github.com/park285/mill-arena/pkg/milldto"
)

const playerHeader = "X-Player-Id"

type Client struct {
	baseURL string
	player  string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// New returns a client acting as player against baseURL (http or https).
func New(baseURL, player string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		player:         strings.TrimSpace(player),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Player() string { return c.player }

func (c *Client) CreateArena(ctx context.Context, req milldto.CreateArenaRequest) (*arena.Snapshot, error) {
	var snap arena.Snapshot
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/arenas", req, &snap, false); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) JoinArena(ctx context.Context, arenaID string) error {
	return c.doJSON(ctx, fasthttp.MethodPost, "/arenas/"+url.PathEscape(arenaID)+"/players", nil, nil, false)
}

func (c *Client) WithdrawArena(ctx context.Context, arenaID string) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, "/arenas/"+url.PathEscape(arenaID)+"/players", nil, nil, false)
}

func (c *Client) Standings(ctx context.Context, arenaID string) (*arena.Snapshot, error) {
	var snap arena.Snapshot
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/arenas/"+url.PathEscape(arenaID)+"/standings", nil, &snap, true); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) Game(ctx context.Context, sessionID string) (*game.Snapshot, error) {
	var snap game.Snapshot
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/games/"+url.PathEscape(sessionID), nil, &snap, true); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) Rating(ctx context.Context, player, category string) (*milldto.RatingResponse, error) {
	var rr milldto.RatingResponse
	path := "/ratings/" + url.PathEscape(player) + "?category=" + url.QueryEscape(category)
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &rr, true); err != nil {
		return nil, err
	}
	return &rr, nil
}

// Seek joins the lobby. The response says whether a game started at once.
func (c *Client) Seek(ctx context.Context, category string, rated bool) (*milldto.SeekResponse, error) {
	var sr milldto.SeekResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/seeks", milldto.SeekRequest{Category: category, Rated: rated}, &sr, false); err != nil {
		return nil, err
	}
	return &sr, nil
}

func (c *Client) Rematch(ctx context.Context, sessionID string) (*milldto.ChallengeResponse, error) {
	var cr milldto.ChallengeResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games/"+url.PathEscape(sessionID)+"/rematch", nil, &cr, false); err != nil {
		return nil, err
	}
	return &cr, nil
}

func (c *Client) Leaderboard(ctx context.Context, category string) (*milldto.LeaderboardResponse, error) {
	var lr milldto.LeaderboardResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/ratings/"+url.PathEscape(category)+"/leaderboard", nil, &lr, true); err != nil {
		return nil, err
	}
	return &lr, nil
}

// APIError is a non-2xx answer carrying the server's domain error.
type APIError struct {
	Status int
	milldto.DomainError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mill api error: status=%d code=%s: %s", e.Status, e.Code, e.Message)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.player != "" {
		req.Header.Set(playerHeader, c.player)
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry {
		attempts = max(c.retryMax, 1)
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			apiErr := &APIError{Status: status}
			var body milldto.ErrorResponse
			if json.Unmarshal(resp.Body(), &body) == nil {
				apiErr.DomainError = body.Error
			}
			if !retry || status < 500 {
				return apiErr
			}
			lastErr = apiErr
		} else {
			if out != nil && len(resp.Body()) > 0 {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	attempt = min(max(attempt, 1), 6)
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}
