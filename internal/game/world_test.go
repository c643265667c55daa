package game

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
)

func TestWorldMoveUnknownRoom(t *testing.T) {
	w := newTestWorld(t)
	p := newTestPlayer("tester", StartRoom)
	if _, _, err := w.AddPlayer(p, StartRoom); err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	if _, err := w.Move(p, "missing", "river_walk"); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("Move from unknown room err = %v, want ErrUnknownRoom", err)
	}
}

func TestWorldMoveRequiresExitAndPresence(t *testing.T) {
	w := newTestWorld(t)
	p := newTestPlayer("tester", StartRoom)
	_, _, _ = w.AddPlayer(p, StartRoom)

	if _, err := w.Move(p, StartRoom, "market_square"); !errors.Is(err, ErrNoSuchExit) {
		t.Fatalf("Move without exit err = %v, want ErrNoSuchExit", err)
	}
	if _, err := w.Move(p, "river_walk", StartRoom); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("Move from wrong room err = %v, want ErrNotInRoom", err)
	}
	if room, _ := w.LocationOf(p); room != StartRoom {
		t.Fatalf("failed moves changed room to %q", room)
	}
}

func TestWorldMovePlayerResolvesAliases(t *testing.T) {
	w := newTestWorld(t)
	p := newTestPlayer("tester", StartRoom)
	_, _, _ = w.AddPlayer(p, StartRoom)

	m, err := w.MovePlayer(p, "e")
	if err != nil {
		t.Fatalf("MovePlayer(e): %v", err)
	}
	if m.To != "river_walk" || m.Direction != "east" || m.Reverse != "west" {
		t.Fatalf("movement = %+v", m)
	}
	if _, err := w.MovePlayer(p, "up"); !errors.Is(err, ErrNoSuchExit) {
		t.Fatalf("MovePlayer(up) err = %v, want ErrNoSuchExit", err)
	}
	if p.Room != "river_walk" {
		t.Fatalf("room = %q, want river_walk", p.Room)
	}
}

func TestWorldMovementSnapshotsBothRooms(t *testing.T) {
	w := newTestWorld(t)
	alice := newTestPlayer("alice", StartRoom)
	bob := newTestPlayer("bob", StartRoom)
	carol := newTestPlayer("carol", "river_walk")
	for _, p := range []*Player{alice, bob, carol} {
		if _, _, err := w.AddPlayer(p, p.Room); err != nil {
			t.Fatalf("AddPlayer(%s): %v", p.Name, err)
		}
	}
	m, err := w.MovePlayer(alice, "east")
	if err != nil {
		t.Fatalf("MovePlayer: %v", err)
	}
	if len(m.Remaining) != 1 || m.Remaining[0] != bob {
		t.Fatalf("remaining = %v, want [bob]", m.Remaining)
	}
	if len(m.Present) != 1 || m.Present[0] != carol {
		t.Fatalf("present = %v, want [carol]", m.Present)
	}
}

func TestWorldAddPlayerRejectsSecondCopy(t *testing.T) {
	w := newTestWorld(t)
	if _, _, err := w.AddPlayer(newTestPlayer("Alice", StartRoom), StartRoom); err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	if _, _, err := w.AddPlayer(newTestPlayer("alice", StartRoom), StartRoom); !errors.Is(err, ErrDuplicateLogin) {
		t.Fatalf("second AddPlayer err = %v, want ErrDuplicateLogin", err)
	}
	if got := w.PlayerCount(); got != 1 {
		t.Fatalf("PlayerCount = %d, want 1", got)
	}
}

func TestWorldAddPlayerFallsBackToStart(t *testing.T) {
	w := newTestWorld(t)
	room, _, err := w.AddPlayer(newTestPlayer("drifter", ""), "sunken_ruins")
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	if room != StartRoom {
		t.Fatalf("placed in %q, want %q", room, StartRoom)
	}
}

func TestWorldConcurrentMovesKeepOccupancyConsistent(t *testing.T) {
	w := newTestWorld(t)
	rooms := w.RoomIDs()
	var players []*Player
	for i := 0; i < 16; i++ {
		p := newTestPlayer(string(rune('a'+i))+"walker", rooms[i%len(rooms)])
		if _, _, err := w.AddPlayer(p, p.Room); err != nil {
			t.Fatalf("AddPlayer: %v", err)
		}
		players = append(players, p)
	}
	n := NewNPC(&NPCBehavior{ID: "guide", Name: "Guide", StartRoom: StartRoom, AllowedRooms: rooms})
	if _, err := w.AddNPC(n, StartRoom); err != nil {
		t.Fatalf("AddNPC: %v", err)
	}

	dirs := []string{"north", "south", "east", "west"}
	var wg sync.WaitGroup
	for i, p := range players {
		wg.Add(1)
		go func(p *Player, seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for j := 0; j < 200; j++ {
				_, _ = w.MovePlayer(p, dirs[rnd.Intn(len(dirs))])
			}
		}(p, int64(i))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			from, _ := w.LocationOf(n)
			r, _ := w.GetRoom(from)
			for _, to := range r.Exits {
				_, _ = w.Move(n, from, to)
				break
			}
		}
	}()
	stop := make(chan struct{})
	checked := make(chan error, 1)
	go func() {
		for {
			select {
			case <-stop:
				checked <- nil
				return
			default:
			}
			if err := w.checkOccupancy(); err != nil {
				checked <- err
				return
			}
		}
	}()
	wg.Wait()
	close(stop)
	if err := <-checked; err != nil {
		t.Fatalf("occupancy diverged during moves: %v", err)
	}
	if err := w.checkOccupancy(); err != nil {
		t.Fatalf("occupancy diverged: %v", err)
	}
	total := 0
	for _, id := range rooms {
		total += len(w.PlayersIn(id))
	}
	if total != len(players) {
		t.Fatalf("players counted %d, want %d", total, len(players))
	}
}

func TestWorldNextHopStaysInAllowedSet(t *testing.T) {
	w := newTestWorld(t)
	allowed := map[RoomID]bool{"alamo_plaza": true, "river_walk": true, "market_square": true}

	step, ok := w.NextHop("alamo_plaza", "market_square", allowed)
	if !ok || step != "river_walk" {
		t.Fatalf("NextHop = %q, %v; want river_walk", step, ok)
	}
	if _, ok := w.NextHop("alamo_plaza", "mission_trail", allowed); ok {
		t.Fatalf("NextHop reached a room outside the allowed set")
	}
	narrow := map[RoomID]bool{"alamo_plaza": true, "market_square": true}
	if _, ok := w.NextHop("alamo_plaza", "market_square", narrow); ok {
		t.Fatalf("NextHop passed through a disallowed room")
	}
}

func TestWorldReplaceRelocatesActors(t *testing.T) {
	w := newTestWorld(t)
	p := newTestPlayer("hiker", "mission_trail")
	_, _, _ = w.AddPlayer(p, "mission_trail")

	rooms := testRooms()
	delete(rooms, "mission_trail")
	delete(rooms["market_square"].Exits, "east")
	moved, err := w.Replace(rooms, StartRoom)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if len(moved) != 1 || moved[0].To != StartRoom {
		t.Fatalf("relocations = %+v", moved)
	}
	if p.Room != StartRoom {
		t.Fatalf("player room = %q, want %q", p.Room, StartRoom)
	}
	if err := w.checkOccupancy(); err != nil {
		t.Fatalf("occupancy after Replace: %v", err)
	}

	broken := testRooms()
	broken["island"] = &Room{ID: "island", Exits: map[string]RoomID{}}
	if _, err := w.Replace(broken, StartRoom); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Replace(disconnected) err = %v, want ErrDisconnected", err)
	}
}

func TestWorldFindPlayerByPrefix(t *testing.T) {
	w := newTestWorld(t)
	_, _, _ = w.AddPlayer(newTestPlayer("Alice", StartRoom), StartRoom)
	_, _, _ = w.AddPlayer(newTestPlayer("Albert", StartRoom), StartRoom)

	if p, ok := w.FindPlayer("alice"); !ok || p.Name != "Alice" {
		t.Fatalf("FindPlayer(alice) = %v, %v", p, ok)
	}
	if _, ok := w.FindPlayer("al"); ok {
		t.Fatalf("ambiguous prefix should not match")
	}
	if p, ok := w.FindPlayer("alb"); !ok || p.Name != "Albert" {
		t.Fatalf("FindPlayer(alb) = %v, %v", p, ok)
	}
}

func TestFindNPCInRoomMatchesWordPrefix(t *testing.T) {
	w := newTestWorld(t)
	n := NewNPC(&NPCBehavior{ID: "old_tom", Name: "Old Tom", StartRoom: StartRoom, AllowedRooms: []RoomID{StartRoom}})
	if _, err := w.AddNPC(n, StartRoom); err != nil {
		t.Fatalf("AddNPC: %v", err)
	}
	for _, q := range []string{"tom", "Old", "old_tom"} {
		if got, ok := w.FindNPCInRoom(StartRoom, q); !ok || got != n {
			t.Fatalf("FindNPCInRoom(%q) = %v, %v", q, got, ok)
		}
	}
	if _, ok := w.FindNPCInRoom("river_walk", "tom"); ok {
		t.Fatalf("found NPC in the wrong room")
	}
}
