package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/park285/mill-arena/internal/arena"
	"github.com/park285/mill-arena/internal/game"
	"github.com/park285/mill-arena/internal/hub"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/msgcat"
	"github.com/park285/mill-arena/pkg/milldto"
)

func TestFrom(t *testing.T) {
	cat := msgcat.MustDefault()
	cases := []struct {
		name      string
		err       error
		code      string
		status    int
		retryable bool
	}{
		{"stale", fmt.Errorf("submit: %w", game.ErrStaleTurn), milldto.CodeStaleTurn, http.StatusConflict, true},
		{"illegal", &mill.IllegalMove{Reason: mill.ReasonNotAdjacent, Move: mill.Slide(0, 5)}, milldto.CodeIllegalMove, http.StatusBadRequest, false},
		{"session", hub.ErrSessionNotFound, milldto.CodeSessionNotFound, http.StatusNotFound, false},
		{"closed", arena.ErrArenaClosed, milldto.CodeArenaClosed, http.StatusConflict, false},
		{"rematch", hub.ErrNoRematch, milldto.CodeRematchUnavailable, http.StatusConflict, false},
		{"stranger", game.ErrNotParticipant, milldto.CodeNotParticipant, http.StatusForbidden, false},
		{"unknown", errors.New("boom"), milldto.CodeInternal, http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			de := From(cat, tc.err)
			assert.Equal(t, tc.code, de.Code)
			assert.Equal(t, tc.retryable, de.Retryable)
			assert.Equal(t, tc.status, Status(de.Code))
			assert.NotEmpty(t, de.Message)
		})
	}
}

func TestIllegalMoveCarriesReasonText(t *testing.T) {
	cat := msgcat.MustDefault()
	de := From(cat, &mill.IllegalMove{Reason: mill.ReasonInvalidRemoval, Move: mill.Remove(3)})
	assert.Equal(t, cat.Error(string(mill.ReasonInvalidRemoval)), de.Message)
}
