package game

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMaxSessions   = 50
	DefaultIdleTimeout   = 1800 * time.Second
	DefaultIdleWarning   = DefaultIdleTimeout - 300*time.Second
	DefaultAuthTimeout   = 120 * time.Second
	DefaultSweepInterval = 30 * time.Second
)

// RegistryConfig tunes connection limits and timeouts. Zero values take
// the defaults.
type RegistryConfig struct {
	MaxSessions int
	IdleTimeout time.Duration
	IdleWarning time.Duration
	AuthTimeout time.Duration
	OutboxSize  int
	ChatLimit   int
	ChatWindow  time.Duration
}

func (c RegistryConfig) withDefaults() RegistryConfig {
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.IdleWarning <= 0 || c.IdleWarning >= c.IdleTimeout {
		c.IdleWarning = c.IdleTimeout - c.IdleTimeout/6
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = DefaultAuthTimeout
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = DefaultOutboxSize
	}
	return c
}

// Registry tracks every connected session and owns the identity slots.
// Lock order: Registry.mu before Session.mu.
type Registry struct {
	mu         sync.Mutex
	cfg        RegistryConfig
	sessions   map[string]*Session
	identities map[string]*Session
	log        *zap.Logger
	now        func() time.Time
	onClose    func(*Session, string)
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg RegistryConfig, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		cfg:        cfg.withDefaults(),
		sessions:   make(map[string]*Session),
		identities: make(map[string]*Session),
		log:        log,
		now:        time.Now,
	}
}

// Config returns the effective configuration.
func (r *Registry) Config() RegistryConfig { return r.cfg }

// OnClose sets the cleanup hook run exactly once per session, before its
// identity slot is released.
func (r *Registry) OnClose(fn func(*Session, string)) {
	r.mu.Lock()
	r.onClose = fn
	r.mu.Unlock()
}

// Register admits a new connection and starts its writer. It fails with
// ErrServerFull once MaxSessions are connected.
func (r *Registry) Register(conn LineConn) (*Session, error) {
	now := r.now()
	r.mu.Lock()
	if len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return nil, ErrServerFull
	}
	s := &Session{
		ID:           uuid.NewString(),
		ConnectedAt:  now,
		conn:         conn,
		out:          NewOutbox(r.cfg.OutboxSize),
		limiter:      NewRateLimiter(r.cfg.ChatLimit, r.cfg.ChatWindow),
		state:        StateConnecting,
		lastActivity: now,
		authDeadline: now.Add(r.cfg.AuthTimeout),
		pumpDone:     make(chan struct{}),
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()

	go s.pump(func(err error) {
		r.log.Warn("session write failed", zap.String("session", s.ID), zap.Error(err))
		go r.Close(s, "write error")
	})
	r.log.Debug("session registered", zap.String("session", s.ID), zap.String("remote", conn.RemoteAddr()))
	return s, nil
}

// BeginCredentials moves s to AwaitingCredentials in the given mode.
func (r *Registry) BeginCredentials(s *Session, mode CredentialMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= StateActive {
		return
	}
	s.state = StateAwaitingCredentials
	s.mode = mode
}

// BeginAuthentication marks that credentials were submitted and are being
// verified.
func (r *Registry) BeginAuthentication(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAwaitingCredentials {
		s.state = StateAuthenticating
	}
}

// Authenticate claims p's identity slot for s and makes it Active. A slot
// held by another session is never taken over: s goes back to
// AwaitingCredentials and ErrDuplicateLogin is returned.
func (r *Registry) Authenticate(s *Session, p *Player) error {
	key := p.Key()
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.sessions[s.ID]; !live {
		return fmt.Errorf("session %s is closed", s.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= StateClosing {
		return fmt.Errorf("session %s is closing", s.ID)
	}
	if other, ok := r.identities[key]; ok && other != s {
		s.state = StateAwaitingCredentials
		return fmt.Errorf("%w: %s", ErrDuplicateLogin, p.Name)
	}
	r.identities[key] = s
	s.identity = key
	s.player = p
	s.state = StateActive
	s.lastActivity = now
	p.Session = s
	if p.Output == nil {
		p.Output = s.out
	}
	return nil
}

// Deauthenticate gives up the identity slot s holds and returns it to
// AwaitingCredentials. A closing session is left to Close.
func (r *Registry) Deauthenticate(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= StateClosing {
		return
	}
	if s.identity != "" && r.identities[s.identity] == s {
		delete(r.identities, s.identity)
	}
	s.identity = ""
	s.player = nil
	s.state = StateAwaitingCredentials
}

// Touch records activity and clears an idle warning.
func (r *Registry) Touch(s *Session) {
	now := r.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
	if s.state == StateIdleWarned {
		s.state = StateActive
	}
}

// Close tears s down once: the cleanup hook runs, the identity slot is
// released, and the writer flushes and closes the transport. Later calls
// are no-ops.
func (r *Registry) Close(s *Session, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		s.closeReason = reason
		s.mu.Unlock()

		r.mu.Lock()
		delete(r.sessions, s.ID)
		hook := r.onClose
		r.mu.Unlock()

		if hook != nil {
			r.runHook(hook, s, reason)
		}

		r.mu.Lock()
		if key := s.Identity(); key != "" && r.identities[key] == s {
			delete(r.identities, key)
		}
		r.mu.Unlock()

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.out.Close()
		r.log.Debug("session closed", zap.String("session", s.ID), zap.String("reason", reason))
	})
}

func (r *Registry) runHook(hook func(*Session, string), s *Session, reason string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("session close hook panicked", zap.String("session", s.ID), zap.Any("panic", rec))
		}
	}()
	hook(s, reason)
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Warned  int
	Expired int
	Idle    int
}

// Sweep enforces auth deadlines and idle timeouts as of now.
func (r *Registry) Sweep(now time.Time) SweepResult {
	var res SweepResult
	var warn, expire, idle []*Session
	r.mu.Lock()
	for _, s := range r.sessions {
		s.mu.Lock()
		switch s.state {
		case StateConnecting, StateAwaitingCredentials, StateAuthenticating:
			if !now.Before(s.authDeadline) {
				expire = append(expire, s)
			}
		case StateActive, StateIdleWarned:
			quiet := now.Sub(s.lastActivity)
			switch {
			case quiet >= r.cfg.IdleTimeout:
				idle = append(idle, s)
			case quiet >= r.cfg.IdleWarning && s.state == StateActive:
				s.state = StateIdleWarned
				warn = append(warn, s)
			}
		}
		s.mu.Unlock()
	}
	r.mu.Unlock()

	remaining := r.cfg.IdleTimeout - r.cfg.IdleWarning
	for _, s := range warn {
		s.Send(Envelope{Channel: ChannelSystem, Text: fmt.Sprintf(
			"You have been idle for %d minutes. You will be disconnected in %d minutes.",
			int(r.cfg.IdleWarning.Minutes()), int(remaining.Minutes()),
		)}.Render())
		res.Warned++
	}
	for _, s := range expire {
		s.Send(Envelope{Channel: ChannelSystem, Text: "Login timed out."}.Render())
		r.Close(s, ErrAuthExpired.Error())
		res.Expired++
	}
	for _, s := range idle {
		s.Send(Envelope{Channel: ChannelSystem, Text: "Disconnected for inactivity."}.Render())
		r.Close(s, "idle timeout")
		res.Idle++
	}
	return res
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := r.Sweep(r.now())
			if res.Warned+res.Expired+res.Idle > 0 {
				r.log.Info("session sweep",
					zap.Int("warned", res.Warned),
					zap.Int("auth_expired", res.Expired),
					zap.Int("idle_closed", res.Idle))
			}
		}
	}
}

// Get returns the live session with id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Lookup returns the session holding identity.
func (r *Registry) Lookup(identity string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.identities[IdentityKey(identity)]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns live sessions ordered by connect time.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// CloseAll closes every live session.
func (r *Registry) CloseAll(reason string) {
	for _, s := range r.Sessions() {
		r.Close(s, reason)
	}
}
