package game

import (
	"fmt"
	"sync"
)

// Channel selects an envelope's audience and rendering.
type Channel int

const (
	ChannelRoom Channel = iota
	ChannelGlobal
	ChannelSystem
	ChannelNPC
	ChannelEmote
)

// Envelope is one message to fan out.
type Envelope struct {
	Channel Channel
	Speaker string
	Exclude []string
	Text    string
}

// Render produces the line a recipient sees.
func (e Envelope) Render() string {
	switch e.Channel {
	case ChannelRoom:
		return Ansi(fmt.Sprintf("\r\n%s %s: %s", Style("[Room]", AnsiGreen), HighlightName(e.Speaker), e.Text))
	case ChannelGlobal:
		return Ansi(fmt.Sprintf("\r\n%s %s: %s", Style("[Global]", AnsiMagenta, AnsiBold), HighlightName(e.Speaker), e.Text))
	case ChannelNPC:
		return Ansi(fmt.Sprintf("\r\n%s %s: %s", Style("[NPC]", AnsiYellow), HighlightNPCName(e.Speaker), e.Text))
	case ChannelEmote:
		return Ansi("\r\n" + Style(e.Text, AnsiItalic))
	default:
		return Ansi(fmt.Sprintf("\r\n%s %s", Style("[System]", AnsiYellow, AnsiBold), e.Text))
	}
}

func (e Envelope) excludes(p *Player) bool {
	if len(e.Exclude) == 0 {
		return false
	}
	key := p.Key()
	for _, k := range e.Exclude {
		if IdentityKey(k) == key {
			return true
		}
	}
	return false
}

// Router fans envelopes out to player outboxes. Issuance is serialized so
// every recipient observes envelopes in the same relative order.
type Router struct {
	mu       sync.Mutex
	world    *World
	sessions *Registry
}

// NewRouter builds a router over world. sessions may be nil when
// SendToSession is not needed.
func NewRouter(world *World, sessions *Registry) *Router {
	return &Router{world: world, sessions: sessions}
}

// SendToRoom delivers env to every player in room except the excluded
// identities. It returns the number of recipients.
func (r *Router) SendToRoom(room RoomID, env Envelope) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deliverLocked(r.world.PlayersIn(room), env)
}

// SendToAll delivers env to every player in the world.
func (r *Router) SendToAll(env Envelope) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deliverLocked(r.world.Players(), env)
}

// SendToPlayers delivers env to an explicit recipient list, usually an
// occupant snapshot taken during a move.
func (r *Router) SendToPlayers(players []*Player, env Envelope) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deliverLocked(players, env)
}

// SendToSession delivers raw text to one session, authenticated or not.
func (r *Router) SendToSession(id, text string) bool {
	if r.sessions == nil {
		return false
	}
	s, ok := r.sessions.Get(id)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return s.out.Push(text)
}

func (r *Router) deliverLocked(players []*Player, env Envelope) int {
	line := env.Render()
	sent := 0
	for _, p := range players {
		if env.excludes(p) {
			continue
		}
		if p.Output != nil && p.Output.Push(line) {
			sent++
		}
	}
	return sent
}
