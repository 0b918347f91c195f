// Package apierr translates domain errors into the wire error shared by the
// REST and websocket transports.
package apierr

import (
	"errors"
	"net/http"

	"github.com/park285/mill-arena/internal/arena"
	"github.com/park285/mill-arena/internal/challenge"
	"github.com/park285/mill-arena/internal/game"
	"github.com/park285/mill-arena/internal/hub"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/msgcat"
	"github.com/park285/mill-arena/pkg/milldto"
)

var table = []struct {
	err       error
	code      string
	retryable bool
}{
	{game.ErrStaleTurn, milldto.CodeStaleTurn, true},
	{game.ErrNotParticipant, milldto.CodeNotParticipant, false},
	{game.ErrFinished, milldto.CodeGameFinished, false},
	{game.ErrBerserkUnavailable, milldto.CodeBerserkUnavailable, false},
	{game.ErrNoDrawOffer, milldto.CodeNoDrawOffer, false},
	{game.ErrSuspended, milldto.CodeSuspended, true},
	{hub.ErrSessionNotFound, milldto.CodeSessionNotFound, false},
	{hub.ErrArenaNotFound, milldto.CodeArenaNotFound, false},
	{hub.ErrArenaExists, milldto.CodeArenaExists, false},
	{hub.ErrChallengeNotFound, milldto.CodeChallengeNotFound, false},
	{hub.ErrPlayerBusy, milldto.CodePlayerBusy, true},
	{hub.ErrUnknownCategory, milldto.CodeUnknownCategory, false},
	{hub.ErrInvalidRequest, milldto.CodeBadRequest, false},
	{hub.ErrGameNotFinished, milldto.CodeGameNotFinished, false},
	{hub.ErrNoRematch, milldto.CodeRematchUnavailable, false},
	{arena.ErrArenaClosed, milldto.CodeArenaClosed, false},
	{arena.ErrNotRegistered, milldto.CodeNotRegistered, false},
	{challenge.ErrNotFound, milldto.CodeChallengeNotFound, false},
	{challenge.ErrInvalidArgs, milldto.CodeBadRequest, false},
	{challenge.ErrSelfChallenge, milldto.CodeSelfChallenge, false},
	{challenge.ErrAlreadyPending, milldto.CodeAlreadyPending, false},
	{challenge.ErrNotTarget, milldto.CodeNotTarget, false},
	{challenge.ErrNotPending, milldto.CodeNotPending, false},
}

// From classifies err. Illegal moves keep the engine's reason as the
// message key so clients see why the move was refused.
func From(cat *msgcat.Catalog, err error) milldto.DomainError {
	if reason, ok := mill.ReasonOf(err); ok {
		return milldto.DomainError{Code: milldto.CodeIllegalMove, Message: cat.Error(string(reason))}
	}
	for _, e := range table {
		if errors.Is(err, e.err) {
			return milldto.DomainError{Code: e.code, Message: cat.Error(e.code), Retryable: e.retryable}
		}
	}
	return New(cat, milldto.CodeInternal)
}

// New builds an error for a transport-level code.
func New(cat *msgcat.Catalog, code string) milldto.DomainError {
	return milldto.DomainError{Code: code, Message: cat.Error(code), Retryable: code == milldto.CodeRateLimited}
}

// Status is the HTTP status for a wire code.
func Status(code string) int {
	switch code {
	case milldto.CodeBadRequest, milldto.CodeIllegalMove, milldto.CodeUnknownCategory, milldto.CodeSelfChallenge:
		return http.StatusBadRequest
	case milldto.CodeUnauthorized:
		return http.StatusUnauthorized
	case milldto.CodeNotParticipant, milldto.CodeNotTarget:
		return http.StatusForbidden
	case milldto.CodeSessionNotFound, milldto.CodeArenaNotFound, milldto.CodeChallengeNotFound:
		return http.StatusNotFound
	case milldto.CodeRateLimited:
		return http.StatusTooManyRequests
	case milldto.CodeInternal:
		return http.StatusInternalServerError
	}
	return http.StatusConflict
}
