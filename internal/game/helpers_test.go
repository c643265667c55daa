package game

import (
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"samud/internal/store"
)

// testRooms is a small strongly connected map:
//
//	alamo_plaza -east- river_walk -north- market_square -east- mission_trail
func testRooms() map[RoomID]*Room {
	rooms := map[RoomID]*Room{
		"alamo_plaza":   {ID: "alamo_plaza", Title: "Alamo Plaza", Description: "Limestone walls glow in the sun.", Exits: map[string]RoomID{"east": "river_walk"}},
		"river_walk":    {ID: "river_walk", Title: "River Walk", Description: "Cypress trees shade the water.", Exits: map[string]RoomID{"north": "market_square"}},
		"market_square": {ID: "market_square", Title: "Market Square", Description: "Stalls crowd the square.", Exits: map[string]RoomID{"east": "mission_trail"}},
		"mission_trail": {ID: "mission_trail", Title: "Mission Trail", Description: "A dusty path heads south.", Exits: map[string]RoomID{}},
	}
	LinkBidirectional(rooms)
	return rooms
}

func newTestWorld(t *testing.T) *World {
	t.Helper()
	w, err := NewWorld(testRooms(), StartRoom)
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	return w
}

func newTestPlayer(name string, room RoomID) *Player {
	return &Player{Name: name, Room: room, Output: NewOutbox(DefaultOutboxSize)}
}

// placePlayer inserts p at p.Room, replacing any player with the same
// identity.
func placePlayer(w *World, p *Player) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if old, ok := w.players[p.Key()]; ok {
		w.detachPlayerLocked(old)
	}
	if _, ok := w.occupants[p.Room]; !ok {
		w.occupants[p.Room] = &occupancy{}
	}
	w.insertPlayerLocked(p, p.Room)
}

// drainOutput returns everything queued for p without blocking.
func drainOutput(p *Player) string {
	var b strings.Builder
	for {
		select {
		case msg, ok := <-p.Output.C():
			if !ok {
				return b.String()
			}
			b.WriteString(msg)
		default:
			return b.String()
		}
	}
}

// waitOutput reads p's outbox until want appears or the deadline passes.
func waitOutput(t *testing.T, p *Player, want string) string {
	t.Helper()
	var b strings.Builder
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-p.Output.C():
			if !ok {
				t.Fatalf("outbox closed before %q; got %q", want, b.String())
			}
			b.WriteString(msg)
			if strings.Contains(b.String(), want) {
				return b.String()
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q; got %q", want, b.String())
		}
	}
}

// tooLongLine makes fakeConn.ReadLine report ErrInputTooLong.
const tooLongLine = "\x00too-long"

// fakeConn is a scripted LineConn.
type fakeConn struct {
	in     chan string
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	out    strings.Builder
	cursor int
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan string, 32), closed: make(chan struct{})}
}

func (c *fakeConn) send(lines ...string) {
	for _, l := range lines {
		c.in <- l
	}
}

func (c *fakeConn) ReadLine() (string, error) {
	select {
	case line, ok := <-c.in:
		if !ok {
			return "", io.EOF
		}
		if line == tooLongLine {
			return "", ErrInputTooLong
		}
		return line, nil
	case <-c.closed:
		return "", net.ErrClosed
	}
}

func (c *fakeConn) WriteString(s string) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	c.out.WriteString(s)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "pipe" }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// waitFor blocks until want has been written after the previous match.
func (c *fakeConn) waitFor(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		written := c.out.String()[c.cursor:]
		if i := strings.Index(written, want); i >= 0 {
			c.cursor += i + len(want)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t.Fatalf("timed out waiting for %q; output after cursor: %q", want, c.out.String()[c.cursor:])
}

func newTestGame(t *testing.T, cfg RegistryConfig) (*Game, *store.Memory) {
	t.Helper()
	previous := authFailureDelay
	authFailureDelay = 0
	t.Cleanup(func() { authFailureDelay = previous })

	mem := store.NewMemory()
	sessions := NewRegistry(cfg, nil)
	g := NewGame(newTestWorld(t), sessions, nil)
	g.Accounts = NewAccountManager(mem, BcryptHasher{Cost: bcrypt.MinCost}, nil)
	t.Cleanup(func() { sessions.CloseAll("test done") })
	return g, mem
}

// echoDispatch is a minimal command set for session tests.
func echoDispatch(g *Game, p *Player, line string) bool {
	switch {
	case line == "quit":
		return true
	case strings.HasPrefix(line, "say "):
		_, _ = g.Say(p, strings.TrimPrefix(line, "say "))
	case strings.HasPrefix(line, "go "):
		if _, err := g.Go(p, strings.TrimPrefix(line, "go ")); err != nil {
			p.Send(Envelope{Channel: ChannelSystem, Text: err.Error()}.Render())
		}
	default:
		p.Send("echo: " + line)
	}
	return false
}
