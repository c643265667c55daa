package game

import (
	"sync"
	"time"
)

// LineConn is the transport seen by the core: text lines in, rendered text
// out. Byte-level negotiation stays inside the adapter.
type LineConn interface {
	ReadLine() (string, error)
	WriteString(string) error
	Close() error
	RemoteAddr() string
}

// SessionState is a connection's lifecycle position.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateAwaitingCredentials
	StateAuthenticating
	StateActive
	StateIdleWarned
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingCredentials:
		return "awaiting_credentials"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateIdleWarned:
		return "idle_warned"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// CredentialMode tells whether the session is signing up or logging in.
type CredentialMode int

const (
	ModeNone CredentialMode = iota
	ModeLogin
	ModeSignup
)

// Session is one live connection. The registry owns it.
type Session struct {
	ID          string
	ConnectedAt time.Time

	conn    LineConn
	out     *Outbox
	limiter *RateLimiter

	mu           sync.Mutex
	state        SessionState
	mode         CredentialMode
	identity     string
	player       *Player
	lastActivity time.Time
	authDeadline time.Time
	closeReason  string

	closeOnce sync.Once
	pumpDone  chan struct{}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the credential flow the session is in.
func (s *Session) Mode() CredentialMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Identity returns the folded identity key, empty until authenticated.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Player returns the player bound to the session, if any.
func (s *Session) Player() *Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

// LastActivity returns the time of the last accepted input.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CloseReason is set once Close has started.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Outbox returns the session's bounded output queue.
func (s *Session) Outbox() *Outbox { return s.out }

// Limiter returns the chat flood guard.
func (s *Session) Limiter() *RateLimiter { return s.limiter }

// RemoteAddr reports the peer address.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr() }

// Send queues text for the session.
func (s *Session) Send(text string) bool { return s.out.Push(text) }

// ReadLine blocks for the next input line.
func (s *Session) ReadLine() (string, error) { return s.conn.ReadLine() }

// Done is closed once the writer has flushed and the transport is closed.
func (s *Session) Done() <-chan struct{} { return s.pumpDone }

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	if s.state < StateClosing {
		s.state = state
	}
	s.mu.Unlock()
}

func (s *Session) pump(onError func(error)) {
	defer close(s.pumpDone)
	failed := false
	for msg := range s.out.C() {
		if failed {
			continue
		}
		if err := s.conn.WriteString(msg); err != nil {
			failed = true
			onError(err)
		}
	}
	_ = s.conn.Close()
}
