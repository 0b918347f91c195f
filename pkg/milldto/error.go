package milldto

// Error codes shared by the REST and websocket transports.
const (
	CodeBadRequest         = "bad_request"
	CodeUnauthorized       = "unauthorized"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal"
	CodeIllegalMove        = "illegal_move"
	CodeStaleTurn          = "stale_turn"
	CodeNotParticipant     = "not_participant"
	CodeGameFinished       = "game_finished"
	CodeBerserkUnavailable = "berserk_unavailable"
	CodeNoDrawOffer        = "no_draw_offer"
	CodeSuspended          = "suspended"
	CodeSessionNotFound    = "session_not_found"
	CodeArenaNotFound      = "arena_not_found"
	CodeArenaExists        = "arena_exists"
	CodeArenaClosed        = "arena_closed"
	CodeNotRegistered      = "not_registered"
	CodeChallengeNotFound  = "challenge_not_found"
	CodeSelfChallenge      = "self_challenge"
	CodeAlreadyPending     = "already_pending"
	CodeNotTarget          = "not_target"
	CodeNotPending         = "not_pending"
	CodePlayerBusy         = "player_busy"
	CodeUnknownCategory    = "unknown_category"
	CodeGameNotFinished    = "game_not_finished"
	CodeRematchUnavailable = "rematch_unavailable"
)

// DomainError is the error body returned to clients. Code is stable;
// Message is display text; Retryable marks errors a client may retry after
// refreshing its view.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "mill service error"
}

type ErrorResponse struct {
	Error DomainError `json:"error"`
}
