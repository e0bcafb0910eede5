package engine

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Apply or Validate wraps exactly one.
var (
	ErrValidation        = errors.New("validation error")
	ErrAuthorization     = errors.New("authorization error")
	ErrNotFound          = errors.New("not found")
	ErrCapacity          = errors.New("capacity error")
	ErrConflictExhausted = errors.New("conflict retries exhausted")

	// ErrNoop marks a command that is legal but changes nothing. Callers
	// treat it as success and skip the write.
	ErrNoop = errors.New("no-op")
)

var (
	ErrUnauthenticated    = fmt.Errorf("%w: missing player identity", ErrValidation)
	ErrEmptyName          = fmt.Errorf("%w: player name required", ErrValidation)
	ErrWordTooShort       = fmt.Errorf("%w: word too short", ErrValidation)
	ErrEmptyGuess         = fmt.Errorf("%w: empty guess", ErrValidation)
	ErrWrongPhase         = fmt.Errorf("%w: action not allowed in current phase", ErrValidation)
	ErrRoundNotActive     = fmt.Errorf("%w: round not active", ErrValidation)
	ErrWriterCannotGuess  = fmt.Errorf("%w: writer cannot guess", ErrValidation)
	ErrNotEnoughPlayers   = fmt.Errorf("%w: not enough players", ErrValidation)
	ErrUnsupportedCommand = fmt.Errorf("%w: unsupported command", ErrValidation)

	ErrNotHost   = fmt.Errorf("%w: host only", ErrAuthorization)
	ErrNotWriter = fmt.Errorf("%w: writer only", ErrAuthorization)
	ErrNotMember = fmt.Errorf("%w: not a member of this room", ErrAuthorization)

	ErrRoomNotFound = fmt.Errorf("%w: room", ErrNotFound)
	ErrRoomFull     = fmt.Errorf("%w: room full", ErrCapacity)

	ErrNoPlayers = errors.New("no players")

	ErrAlreadyMember  = fmt.Errorf("%w: already a member", ErrNoop)
	ErrAlreadyGuessed = fmt.Errorf("%w: already guessed correctly", ErrNoop)
	ErrStale          = fmt.Errorf("%w: room already moved on", ErrNoop)
	ErrAlreadyLeft    = fmt.Errorf("%w: player already left", ErrNoop)
)

// Kind names the error category of err for clients.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAuthorization):
		return "authorization"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCapacity):
		return "capacity"
	case errors.Is(err, ErrConflictExhausted):
		return "conflict"
	default:
		return "internal"
	}
}
