package game

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Record(e Event) { r.events = append(r.events, e) }

type roomLog map[string]string

func (r roomLog) SavePlayerRoom(name, room string) { r[name] = room }

func TestGameSayReachesRoomOnly(t *testing.T) {
	g := NewGame(newTestWorld(t), nil, nil)
	alice := newTestPlayer("alice", StartRoom)
	bob := newTestPlayer("bob", StartRoom)
	carol := newTestPlayer("carol", "river_walk")
	for _, p := range []*Player{alice, bob, carol} {
		placePlayer(g.World, p)
	}
	if _, err := g.Say(alice, "hello there"); err != nil {
		t.Fatalf("Say: %v", err)
	}
	for _, p := range []*Player{alice, bob} {
		if got := drainOutput(p); !strings.Contains(got, "[Room]") || !strings.Contains(got, "hello there") {
			t.Fatalf("%s got %q", p.Name, got)
		}
	}
	if got := drainOutput(carol); got != "" {
		t.Fatalf("carol overheard %q", got)
	}
}

func TestGameShoutReachesEveryone(t *testing.T) {
	g := NewGame(newTestWorld(t), nil, nil)
	sink := &recordingSink{}
	g.Events = sink
	alice := newTestPlayer("alice", StartRoom)
	carol := newTestPlayer("carol", "mission_trail")
	placePlayer(g.World, alice)
	placePlayer(g.World, carol)

	if n := g.Shout(alice, "anyone?"); n != 2 {
		t.Fatalf("Shout reached %d, want 2", n)
	}
	if got := drainOutput(carol); !strings.Contains(got, "[Global]") {
		t.Fatalf("carol got %q", got)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != "shout" {
		t.Fatalf("events = %+v", sink.events)
	}
}

func TestGameGoAnnouncesAndPersists(t *testing.T) {
	g := NewGame(newTestWorld(t), nil, nil)
	saved := roomLog{}
	g.Rooms = saved
	alice := newTestPlayer("alice", StartRoom)
	bob := newTestPlayer("bob", StartRoom)
	carol := newTestPlayer("carol", "river_walk")
	for _, p := range []*Player{alice, bob, carol} {
		placePlayer(g.World, p)
	}

	if _, err := g.Go(alice, "east"); err != nil {
		t.Fatalf("Go: %v", err)
	}
	if got := drainOutput(bob); !strings.Contains(got, "alice heads east.") {
		t.Fatalf("bob got %q", got)
	}
	if got := drainOutput(carol); !strings.Contains(got, "alice arrives from the west.") {
		t.Fatalf("carol got %q", got)
	}
	if got := drainOutput(alice); got != "" {
		t.Fatalf("mover got their own notices: %q", got)
	}
	if saved["alice"] != "river_walk" {
		t.Fatalf("saved room = %q", saved["alice"])
	}
	if _, err := g.Go(alice, "up"); !errors.Is(err, ErrNoSuchExit) {
		t.Fatalf("Go(up) err = %v, want ErrNoSuchExit", err)
	}
}

func TestGameClampMessage(t *testing.T) {
	g := NewGame(newTestWorld(t), nil, nil)
	g.MaxMessageLength = 5
	if got := g.ClampMessage("héllo world"); got != "héllo..." {
		t.Fatalf("ClampMessage = %q", got)
	}
	if got := g.ClampMessage("short"); got != "short" {
		t.Fatalf("ClampMessage = %q", got)
	}
}

func TestGameAllowChatUsesSessionLimiter(t *testing.T) {
	g, _ := newTestGame(t, RegistryConfig{ChatLimit: 2, ChatWindow: time.Minute})
	s, _ := g.Sessions.Register(newFakeConn())
	p, err := g.Join(s, "alice", StartRoom)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	now := time.Now()
	for i := 0; i < 2; i++ {
		if err := g.AllowChat(p, now); err != nil {
			t.Fatalf("chat %d rejected: %v", i, err)
		}
	}
	if err := g.AllowChat(p, now); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third chat err = %v, want ErrRateLimited", err)
	}
}

func TestGameJoinAnnouncesToOthers(t *testing.T) {
	g, _ := newTestGame(t, RegistryConfig{})
	bobConn := newFakeConn()
	bobSession, _ := g.Sessions.Register(bobConn)
	if _, err := g.Join(bobSession, "bob", StartRoom); err != nil {
		t.Fatalf("Join(bob): %v", err)
	}
	aliceConn := newFakeConn()
	aliceSession, _ := g.Sessions.Register(aliceConn)
	if _, err := g.Join(aliceSession, "alice", "nowhere"); err != nil {
		t.Fatalf("Join(alice): %v", err)
	}
	bobConn.waitFor(t, "alice has joined the game.")
	if room, _ := g.World.LocationOf(aliceSession.Player()); room != StartRoom {
		t.Fatalf("alice placed in %q", room)
	}
}

func TestGameJoinRacingCloseLeavesNoGhost(t *testing.T) {
	g, _ := newTestGame(t, RegistryConfig{})
	for i := 0; i < 2000; i++ {
		name := fmt.Sprintf("racer%d", i)
		s, err := g.Sessions.Register(newFakeConn())
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		g.Sessions.BeginCredentials(s, ModeLogin)
		closed := make(chan struct{})
		go func() {
			g.Sessions.Close(s, "connection lost")
			close(closed)
		}()
		_, _ = g.Join(s, name, StartRoom)
		<-closed

		if n := g.World.PlayerCount(); n != 0 {
			t.Fatalf("iteration %d: %d players left in world after close", i, n)
		}
		if _, ok := g.Sessions.Lookup(name); ok {
			t.Fatalf("iteration %d: identity slot for %s still held", i, name)
		}
	}
}

func TestGameJoinRefusesClosingSession(t *testing.T) {
	g, _ := newTestGame(t, RegistryConfig{})
	s, _ := g.Sessions.Register(newFakeConn())
	s.setState(StateClosing)
	if _, err := g.Join(s, "alice", StartRoom); err == nil {
		t.Fatalf("Join on a closing session succeeded")
	}
	if n := g.World.PlayerCount(); n != 0 {
		t.Fatalf("PlayerCount = %d, want 0", n)
	}
}

func TestGameJoinReleasesSlotWhenWorldRefuses(t *testing.T) {
	g, _ := newTestGame(t, RegistryConfig{})
	placePlayer(g.World, newTestPlayer("bob", StartRoom))
	s, _ := g.Sessions.Register(newFakeConn())
	g.Sessions.BeginCredentials(s, ModeLogin)
	if _, err := g.Join(s, "bob", StartRoom); !errors.Is(err, ErrDuplicateLogin) {
		t.Fatalf("Join err = %v, want ErrDuplicateLogin", err)
	}
	if _, ok := g.Sessions.Lookup("bob"); ok {
		t.Fatalf("identity slot kept after failed placement")
	}
	if got := s.State(); got != StateAwaitingCredentials {
		t.Fatalf("state = %v, want AwaitingCredentials", got)
	}
}
