package commands

import (
	"strings"
	"testing"

	"samud/internal/game"
)

var _ = Define(Definition{
	Name:        "explode",
	Usage:       "explode",
	Description: "panics, for dispatch tests",
}, func(ctx *Context) bool {
	panic("boom")
})

func TestDispatchGoMovesPlayerAndNotifiesRooms(t *testing.T) {
	g := newTestGame(t)
	hero := newTestPlayer(t, g, "Hero", "alamo_plaza")
	watcher := newTestPlayer(t, g, "Watcher", "alamo_plaza")
	greeter := newTestPlayer(t, g, "Greeter", "river_walk")

	if done := Dispatch(g, hero, "go east"); done {
		t.Fatalf("dispatch returned true, want false")
	}
	if room, _ := g.World.LocationOf(hero); room != "river_walk" {
		t.Fatalf("hero room = %q, want %q", room, "river_walk")
	}
	if got := drainOutput(watcher); !strings.Contains(got, "Hero heads east.") {
		t.Fatalf("watcher output = %q", got)
	}
	if got := drainOutput(greeter); !strings.Contains(got, "Hero arrives from the west.") {
		t.Fatalf("greeter output = %q", got)
	}
	heroOut := drainOutput(hero)
	if !strings.Contains(heroOut, "River Walk") || !strings.Contains(heroOut, "Players here: Greeter") {
		t.Fatalf("hero output = %q", heroOut)
	}
}

func TestDispatchDirectionShortcutsAndFullNames(t *testing.T) {
	g := newTestGame(t)
	hero := newTestPlayer(t, g, "Hero", "alamo_plaza")

	Dispatch(g, hero, "e")
	Dispatch(g, hero, "north")
	if room, _ := g.World.LocationOf(hero); room != "market_square" {
		t.Fatalf("hero room = %q, want %q", room, "market_square")
	}
	Dispatch(g, hero, "move s")
	if room, _ := g.World.LocationOf(hero); room != "river_walk" {
		t.Fatalf("hero room = %q, want %q", room, "river_walk")
	}
}

func TestDispatchMissingExitLeavesPlayerInPlace(t *testing.T) {
	g := newTestGame(t)
	hero := newTestPlayer(t, g, "Hero", "alamo_plaza")
	watcher := newTestPlayer(t, g, "Watcher", "alamo_plaza")

	Dispatch(g, hero, "w")
	if room, _ := g.World.LocationOf(hero); room != "alamo_plaza" {
		t.Fatalf("hero moved to %q", room)
	}
	if got := drainOutput(hero); !strings.Contains(got, "You can't go west. Available exits: east") {
		t.Fatalf("hero output = %q", got)
	}
	if got := drainOutput(watcher); got != "" {
		t.Fatalf("watcher saw %q", got)
	}

	Dispatch(g, hero, "move")
	if got := drainOutput(hero); !strings.Contains(got, "Move where?") {
		t.Fatalf("hero output = %q", got)
	}
}

func TestDispatchSayBroadcastsToRoom(t *testing.T) {
	g := newTestGame(t)
	hero := newTestPlayer(t, g, "Hero", "alamo_plaza")
	watcher := newTestPlayer(t, g, "Watcher", "alamo_plaza")
	faraway := newTestPlayer(t, g, "Faraway", "market_square")

	Dispatch(g, hero, "say hello there")
	for _, p := range []*game.Player{hero, watcher} {
		if got := drainOutput(p); !strings.Contains(got, "[Room] Hero: hello there") {
			t.Fatalf("%s output = %q", p.Name, got)
		}
	}
	if got := drainOutput(faraway); got != "" {
		t.Fatalf("faraway overheard %q", got)
	}

	Dispatch(g, hero, "say")
	if got := drainOutput(hero); !strings.Contains(got, "Say what?") {
		t.Fatalf("empty say output = %q", got)
	}
}

func TestDispatchShoutReachesEveryone(t *testing.T) {
	g := newTestGame(t)
	hero := newTestPlayer(t, g, "Hero", "alamo_plaza")
	faraway := newTestPlayer(t, g, "Faraway", "market_square")

	Dispatch(g, hero, "shout anyone around?")
	if got := drainOutput(faraway); !strings.Contains(got, "[Global] Hero: anyone around?") {
		t.Fatalf("faraway output = %q", got)
	}
}

func TestDispatchEmoteShowsActionToRoom(t *testing.T) {
	g := newTestGame(t)
	hero := newTestPlayer(t, g, "Hero", "alamo_plaza")
	watcher := newTestPlayer(t, g, "Watcher", "alamo_plaza")

	Dispatch(g, hero, "me waves at the pigeons.")
	for _, p := range []*game.Player{hero, watcher} {
		if got := drainOutput(p); !strings.Contains(got, "Hero waves at the pigeons.") {
			t.Fatalf("%s output = %q", p.Name, got)
		}
	}
	Dispatch(g, hero, "emote")
	if got := drainOutput(hero); !strings.Contains(got, "Emote what?") {
		t.Fatalf("empty emote output = %q", got)
	}
}

func TestDispatchLongChatIsTruncated(t *testing.T) {
	g := newTestGame(t)
	hero := newTestPlayer(t, g, "Hero", "alamo_plaza")

	Dispatch(g, hero, "say "+strings.Repeat("a", 300))
	got := drainOutput(hero)
	if !strings.Contains(got, strings.Repeat("a", game.DefaultMaxMessageLength)+"...") {
		t.Fatalf("say output not truncated: %q", got)
	}
	if strings.Contains(got, strings.Repeat("a", game.DefaultMaxMessageLength+1)) {
		t.Fatalf("say output too long: %d bytes", len(got))
	}
}

func TestDispatchUnknownVerbSuggestsOrHints(t *testing.T) {
	g := newTestGame(t)
	hero := newTestPlayer(t, g, "Hero", "alamo_plaza")

	Dispatch(g, hero, "sho hi")
	if got := drainOutput(hero); !strings.Contains(got, "Unknown command 'sho'. Did you mean 'shout'?") {
		t.Fatalf("suggestion output = %q", got)
	}
	Dispatch(g, hero, "xyzzy")
	if got := drainOutput(hero); !strings.Contains(got, "Type 'help' for available commands.") {
		t.Fatalf("hint output = %q", got)
	}
}

func TestDispatchRecoversPanickingHandler(t *testing.T) {
	g := newTestGame(t)
	hero := newTestPlayer(t, g, "Hero", "alamo_plaza")
	watcher := newTestPlayer(t, g, "Watcher", "alamo_plaza")

	if done := Dispatch(g, hero, "explode"); done {
		t.Fatalf("panicking command ended the session")
	}
	if got := drainOutput(hero); !strings.Contains(got, "An error occurred while processing your command.") {
		t.Fatalf("hero output = %q", got)
	}
	if got := drainOutput(watcher); got != "" {
		t.Fatalf("watcher saw %q", got)
	}
}

func TestDispatchQuitEndsSession(t *testing.T) {
	g := newTestGame(t)
	hero := newTestPlayer(t, g, "Hero", "alamo_plaza")
	for _, verb := range []string{"quit", "exit", "QUIT"} {
		if !Dispatch(g, hero, verb) {
			t.Fatalf("%s did not end the session", verb)
		}
	}
}

func TestDispatchRateLimitsChatOnly(t *testing.T) {
	g := newServedGame(t, "alice")
	conn := newPipeConn()
	done := serve(g, conn)
	conn.send("login", "alice", "secret1")
	conn.waitFor(t, "Welcome back, alice!")

	for i := 0; i < 5; i++ {
		conn.send("say ping")
		conn.waitFor(t, "[Room] alice: ping")
	}
	conn.send("say ping")
	conn.waitFor(t, "You are speaking too quickly. Please slow down.")

	conn.send("where")
	conn.waitFor(t, "You are at: Alamo Plaza")

	conn.send("quit")
	conn.waitFor(t, "Until next time.")
	<-done
}
