package game

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxMessageLength caps chat text; longer messages are cut and
// suffixed with "...".
const DefaultMaxMessageLength = 250

// RoomSaver persists a player's last room without blocking gameplay.
type RoomSaver interface {
	SavePlayerRoom(name, room string)
}

// Event is one audit journal record.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Actor  string    `json:"actor,omitempty"`
	Room   RoomID    `json:"room,omitempty"`
	Target RoomID    `json:"target,omitempty"`
	Text   string    `json:"text,omitempty"`
}

// EventSink receives audit events. Implementations must not block.
type EventSink interface {
	Record(Event)
}

// Game bundles the shared runtime state command handlers operate on.
type Game struct {
	World    *World
	Router   *Router
	Sessions *Registry
	Accounts *AccountManager
	NPCs     *Scheduler
	Rooms    RoomSaver
	Events   EventSink
	Log      *zap.Logger

	MaxMessageLength int
}

// NewGame wires a router over world and installs the session cleanup hook.
func NewGame(world *World, sessions *Registry, log *zap.Logger) *Game {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Game{
		World:            world,
		Router:           NewRouter(world, sessions),
		Sessions:         sessions,
		Log:              log,
		MaxMessageLength: DefaultMaxMessageLength,
	}
	if sessions != nil {
		sessions.OnClose(g.leave)
	}
	return g
}

func (g *Game) record(kind, actor string, room, target RoomID, text string) {
	if g.Events == nil {
		return
	}
	g.Events.Record(Event{Time: time.Now().UTC(), Kind: kind, Actor: actor, Room: room, Target: target, Text: text})
}

// Join binds an authenticated account to s and places the player in room.
// A second live session for the same identity gets ErrDuplicateLogin and
// the first session is left untouched.
func (g *Game) Join(s *Session, name string, room RoomID) (*Player, error) {
	p := &Player{Name: name, Output: s.Outbox(), JoinedAt: time.Now()}
	if err := g.Sessions.Authenticate(s, p); err != nil {
		return nil, err
	}
	placed, _, err := g.World.AddPlayer(p, room)
	if err != nil {
		g.Sessions.Deauthenticate(s)
		return nil, err
	}
	// A Close that started before p was placed found nothing to remove.
	if s.State() >= StateClosing {
		g.World.RemovePlayer(p)
		return nil, fmt.Errorf("session %s closed during login", s.ID)
	}
	g.Router.SendToAll(Envelope{
		Channel: ChannelSystem,
		Text:    fmt.Sprintf("%s has joined the game.", p.Name),
		Exclude: []string{p.Name},
	})
	g.Log.Info("player joined", zap.String("player", p.Name), zap.String("room", string(placed)), zap.String("session", s.ID))
	g.record("login", p.Name, placed, "", "")
	if g.NPCs != nil {
		g.NPCs.PlayerArrived(placed, p.Name)
	}
	return p, nil
}

// leave runs once per closed session.
func (g *Game) leave(s *Session, reason string) {
	p := s.Player()
	if p == nil {
		return
	}
	room, _, ok := g.World.RemovePlayer(p)
	if !ok {
		return
	}
	g.Router.SendToAll(Envelope{Channel: ChannelSystem, Text: fmt.Sprintf("%s has left the game.", p.Name)})
	if g.Rooms != nil {
		g.Rooms.SavePlayerRoom(p.Name, string(room))
	}
	g.Log.Info("player left", zap.String("player", p.Name), zap.String("room", string(room)), zap.String("reason", reason))
	g.record("logout", p.Name, room, "", reason)
	if g.NPCs != nil {
		g.NPCs.PlayerLeft(room, p.Name)
	}
}

// Go moves p through the exit matching dir and notifies both rooms.
func (g *Game) Go(p *Player, dir string) (Movement, error) {
	m, err := g.World.MovePlayer(p, dir)
	if err != nil {
		return Movement{}, err
	}
	g.Router.SendToPlayers(m.Remaining, Envelope{
		Channel: ChannelEmote,
		Text:    fmt.Sprintf("%s heads %s.", p.Name, m.Direction),
	})
	arrival := fmt.Sprintf("%s has arrived.", p.Name)
	if m.Reverse != "" {
		arrival = fmt.Sprintf("%s arrives from the %s.", p.Name, m.Reverse)
	}
	g.Router.SendToPlayers(m.Present, Envelope{Channel: ChannelEmote, Text: arrival})
	if g.Rooms != nil {
		g.Rooms.SavePlayerRoom(p.Name, string(m.To))
	}
	g.record("move", p.Name, m.From, m.To, m.Direction)
	if g.NPCs != nil {
		g.NPCs.PlayerLeft(m.From, p.Name)
		g.NPCs.PlayerArrived(m.To, p.Name)
	}
	return m, nil
}

// AllowChat applies p's flood guard.
func (g *Game) AllowChat(p *Player, now time.Time) error {
	if p.Session == nil {
		return nil
	}
	return p.Session.Limiter().Allow(now)
}

// ClampMessage truncates chat text to the configured maximum.
func (g *Game) ClampMessage(msg string) string {
	limit := g.MaxMessageLength
	if limit <= 0 {
		limit = DefaultMaxMessageLength
	}
	runes := []rune(msg)
	if len(runes) <= limit {
		return msg
	}
	return string(runes[:limit]) + "..."
}

// Say speaks to everyone in p's room, p included, and lets NPCs there hear.
func (g *Game) Say(p *Player, msg string) (RoomID, error) {
	room, ok := g.World.LocationOf(p)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotInRoom, p.Name)
	}
	msg = g.ClampMessage(msg)
	g.Router.SendToRoom(room, Envelope{Channel: ChannelRoom, Speaker: p.Name, Text: msg})
	g.record("say", p.Name, room, "", msg)
	if g.NPCs != nil {
		g.NPCs.Hear(room, p.Name, msg)
	}
	return room, nil
}

// Shout speaks to every player online, p included.
func (g *Game) Shout(p *Player, msg string) int {
	msg = g.ClampMessage(msg)
	n := g.Router.SendToAll(Envelope{Channel: ChannelGlobal, Speaker: p.Name, Text: msg})
	g.record("shout", p.Name, "", "", msg)
	return n
}

// Emote shows an action by p to everyone in p's room, p included.
func (g *Game) Emote(p *Player, action string) (RoomID, error) {
	room, ok := g.World.LocationOf(p)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotInRoom, p.Name)
	}
	action = g.ClampMessage(action)
	g.Router.SendToRoom(room, Envelope{Channel: ChannelEmote, Text: p.Name + " " + action})
	g.record("emote", p.Name, room, "", action)
	return room, nil
}
