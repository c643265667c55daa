package game

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Player is an authenticated identity present in the world.
type Player struct {
	Name     string
	Room     RoomID // guarded by World.mu; use World.LocationOf from other goroutines
	Output   *Outbox
	Session  *Session
	JoinedAt time.Time
}

// IdentityKey folds a username into the case-insensitive key used for the
// identity slot, persistence and NPC memory.
func IdentityKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// Key returns the player's identity key.
func (p *Player) Key() string {
	return IdentityKey(p.Name)
}

// DisplayName implements Actor.
func (p *Player) DisplayName() string {
	return p.Name
}

// Send queues msg for the player without blocking.
func (p *Player) Send(msg string) {
	if p == nil || p.Output == nil {
		return
	}
	p.Output.Push(msg)
}

// WindowSize reports the client's terminal size when the transport knows it.
func (p *Player) WindowSize() (int, int) {
	if p.Session != nil {
		if sizer, ok := p.Session.conn.(interface{ Size() (int, int) }); ok {
			if w, h := sizer.Size(); w > 0 {
				return w, h
			}
		}
	}
	return 80, 24
}
