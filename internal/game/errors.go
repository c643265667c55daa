package game

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProtocol marks malformed or oversized client input. The connection
	// stays open.
	ErrProtocol = errors.New("protocol error")
	// ErrInputTooLong is returned by line readers alongside the truncated line.
	ErrInputTooLong = fmt.Errorf("%w: input line too long", ErrProtocol)

	// ErrBadCredentials covers unknown accounts and wrong passwords alike.
	ErrBadCredentials = errors.New("invalid username or password")
	// ErrAccountExists is returned by signup when the name is taken.
	ErrAccountExists = errors.New("username already taken")
	// ErrDuplicateLogin rejects a second session for an identity that is
	// already active.
	ErrDuplicateLogin = errors.New("account already logged in")
	// ErrAuthExpired is the close reason for sessions that never finished
	// authenticating.
	ErrAuthExpired = errors.New("authentication timed out")
	// ErrServerFull is returned when the connection limit is reached.
	ErrServerFull = errors.New("server is full")

	// ErrNoSuchExit means the source room has no exit to the destination.
	ErrNoSuchExit = errors.New("no such exit")
	// ErrNotInRoom means the actor is not in the room a move started from.
	ErrNotInRoom = errors.New("actor not in room")
	// ErrUnknownRoom means a room id is not part of the loaded topology.
	ErrUnknownRoom = errors.New("unknown room")

	// ErrRateLimited is wrapped by RateLimitError.
	ErrRateLimited = errors.New("rate limited")
)

// RateLimitError reports a throttled chat action and how long until the
// window frees a slot.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
