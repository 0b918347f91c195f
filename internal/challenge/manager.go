// Package challenge tracks direct challenges between two players.
package challenge

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/park285/mill-arena/internal/rating"
)

var (
	ErrInvalidArgs    = errors.New("invalid arguments")
	ErrSelfChallenge  = errors.New("cannot challenge yourself")
	ErrAlreadyPending = errors.New("target already has a pending challenge")
	ErrNotFound       = errors.New("challenge not found")
	ErrNotTarget      = errors.New("only the challenged player can answer")
	ErrNotPending     = errors.New("challenge is not pending")
)

// Request describes a new challenge. AutoAccept resolves it immediately.
type Request struct {
	ChallengerID string
	TargetID     string
	Category     rating.Category
	Seat         Seat
	Rated        bool
	AutoAccept   bool
	// RematchOf links the challenge to the finished game it repeats.
	RematchOf string
}

type Manager struct {
	mu sync.RWMutex
	// id -> challenge
	byID map[string]*Challenge
	// targetID -> pending challenge id
	pending map[string]string
	clk     clock.Clock
	ttl     time.Duration
}

// NewManager returns a manager whose pending challenges expire after ttl
// (zero keeps them until answered).
func NewManager(clk clock.Clock, ttl time.Duration) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		byID:    make(map[string]*Challenge),
		pending: make(map[string]string),
		clk:     clk,
		ttl:     ttl,
	}
}

func (m *Manager) Create(req Request) (Challenge, error) {
	challenger := strings.TrimSpace(req.ChallengerID)
	target := strings.TrimSpace(req.TargetID)
	if challenger == "" || target == "" || req.Category == "" {
		return Challenge{}, ErrInvalidArgs
	}
	if challenger == target {
		return Challenge{}, ErrSelfChallenge
	}
	seat := req.Seat
	if seat == "" {
		seat = SeatRandom
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[target]; ok && !req.AutoAccept {
		return Challenge{}, ErrAlreadyPending
	}
	ch := &Challenge{
		ID:           "ch-" + uuid.NewString(),
		ChallengerID: challenger,
		TargetID:     target,
		Category:     req.Category,
		Seat:         seat,
		Rated:        req.Rated,
		RematchOf:    strings.TrimSpace(req.RematchOf),
		CreatedAt:    m.clk.Now(),
		Status:       StatusPending,
	}
	if req.AutoAccept {
		ch.Status = StatusAccepted
	} else {
		m.pending[target] = ch.ID
	}
	m.byID[ch.ID] = ch
	return *ch, nil
}

// Accept resolves a pending challenge on behalf of its target.
func (m *Manager) Accept(id, by string) (Challenge, error) {
	return m.resolve(id, by, StatusAccepted)
}

func (m *Manager) Decline(id, by string) (Challenge, error) {
	return m.resolve(id, by, StatusDeclined)
}

func (m *Manager) resolve(id, by string, to Status) (Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.byID[id]
	if !ok {
		return Challenge{}, ErrNotFound
	}
	if ch.TargetID != strings.TrimSpace(by) {
		return Challenge{}, ErrNotTarget
	}
	if ch.Status != StatusPending {
		return *ch, ErrNotPending
	}
	ch.Status = to
	delete(m.pending, ch.TargetID)
	return *ch, nil
}

// Attach records the session started for an accepted challenge.
func (m *Manager) Attach(id, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.byID[id]; ok {
		ch.SessionID = sessionID
	}
}

// Revert puts an accepted challenge back to pending, for when the game
// could not be started. If the target has meanwhile received another
// challenge, this one is canceled instead.
func (m *Manager) Revert(id string) (Challenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.byID[id]
	if !ok {
		return Challenge{}, false
	}
	if ch.Status != StatusAccepted || ch.SessionID != "" {
		return *ch, false
	}
	if other, taken := m.pending[ch.TargetID]; taken && other != ch.ID {
		ch.Status = StatusCanceled
		return *ch, true
	}
	ch.Status = StatusPending
	m.pending[ch.TargetID] = ch.ID
	return *ch, true
}

// Cancel closes an accepted challenge whose game never started. The
// pending index is left alone.
func (m *Manager) Cancel(id string) (Challenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.byID[id]
	if !ok {
		return Challenge{}, false
	}
	if ch.Status != StatusAccepted || ch.SessionID != "" {
		return *ch, false
	}
	ch.Status = StatusCanceled
	return *ch, true
}

func (m *Manager) Get(id string) (Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.byID[id]
	if !ok {
		return Challenge{}, ErrNotFound
	}
	return *ch, nil
}

// PendingFor returns the challenge waiting on target, if any.
func (m *Manager) PendingFor(target string) (Challenge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pending[target]
	if !ok {
		return Challenge{}, false
	}
	return *m.byID[id], true
}

// Sweep expires stale pending challenges and forgets resolved ones older
// than the ttl. It returns the number of challenges expired.
func (m *Manager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	now := m.clk.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, ch := range m.byID {
		if now.Sub(ch.CreatedAt) < m.ttl {
			continue
		}
		if ch.Status == StatusPending {
			ch.Status = StatusExpired
			delete(m.pending, ch.TargetID)
			n++
			continue
		}
		if now.Sub(ch.CreatedAt) >= 2*m.ttl {
			delete(m.byID, id)
		}
	}
	return n
}
