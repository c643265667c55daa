package game

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestRouterSendToRoomHonoursExclusions(t *testing.T) {
	w := newTestWorld(t)
	alice := newTestPlayer("alice", StartRoom)
	bob := newTestPlayer("bob", StartRoom)
	carol := newTestPlayer("carol", "river_walk")
	for _, p := range []*Player{alice, bob, carol} {
		_, _, _ = w.AddPlayer(p, p.Room)
	}
	r := NewRouter(w, nil)

	n := r.SendToRoom(StartRoom, Envelope{Channel: ChannelRoom, Speaker: "alice", Text: "hi", Exclude: []string{"ALICE"}})
	if n != 1 {
		t.Fatalf("recipients = %d, want 1", n)
	}
	if got := drainOutput(bob); !strings.Contains(got, "alice") || !strings.Contains(got, "hi") || !strings.Contains(got, "[Room]") {
		t.Fatalf("bob got %q", got)
	}
	if got := drainOutput(alice); got != "" {
		t.Fatalf("excluded sender got %q", got)
	}
	if got := drainOutput(carol); got != "" {
		t.Fatalf("other room got %q", got)
	}
}

func TestRouterKeepsRelativeOrderAcrossRecipients(t *testing.T) {
	w := newTestWorld(t)
	var players []*Player
	for i := 0; i < 3; i++ {
		p := &Player{Name: fmt.Sprintf("p%d", i), Output: NewOutbox(1024)}
		_, _, _ = w.AddPlayer(p, StartRoom)
		players = append(players, p)
	}
	r := NewRouter(w, nil)

	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.SendToAll(Envelope{Channel: ChannelSystem, Text: fmt.Sprintf("%d-%d", s, i)})
			}
		}(s)
	}
	wg.Wait()

	first := drainOutput(players[0])
	for _, p := range players[1:] {
		if got := drainOutput(p); got != first {
			t.Fatalf("%s saw a different order", p.Name)
		}
	}
	if strings.Count(first, "[System]") != 200 {
		t.Fatalf("delivered %d messages, want 200", strings.Count(first, "[System]"))
	}
}

func TestEnvelopeRender(t *testing.T) {
	cases := []struct {
		env  Envelope
		want []string
	}{
		{Envelope{Channel: ChannelGlobal, Speaker: "bob", Text: "hey"}, []string{"[Global]", "bob", "hey"}},
		{Envelope{Channel: ChannelNPC, Speaker: "Rosa", Text: "Welcome!"}, []string{"[NPC]", "Rosa", "Welcome!"}},
		{Envelope{Channel: ChannelSystem, Text: "bob has joined the game."}, []string{"[System]", "bob has joined the game."}},
	}
	for _, tc := range cases {
		got := tc.env.Render()
		for _, w := range tc.want {
			if !strings.Contains(got, w) {
				t.Fatalf("Render() = %q, missing %q", got, w)
			}
		}
		if !strings.HasSuffix(got, AnsiReset) {
			t.Fatalf("Render() = %q, want trailing reset", got)
		}
	}
}

func TestRouterSendToSession(t *testing.T) {
	reg := NewRegistry(RegistryConfig{}, nil)
	conn := newFakeConn()
	s, err := reg.Register(conn)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	r := NewRouter(newTestWorld(t), reg)

	if !r.SendToSession(s.ID, "Username: ") {
		t.Fatalf("SendToSession to a live pre-auth session failed")
	}
	conn.waitFor(t, "Username: ")
	if r.SendToSession("no-such-session", "hello") {
		t.Fatalf("SendToSession to an unknown id succeeded")
	}

	reg.Close(s, "test")
	if r.SendToSession(s.ID, "too late") {
		t.Fatalf("SendToSession to a closed session succeeded")
	}
	if NewRouter(newTestWorld(t), nil).SendToSession(s.ID, "hello") {
		t.Fatalf("router without a registry delivered")
	}
}
