package commands

import (
	"context"
	"io"
	"net"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"samud/internal/game"
	"samud/internal/store"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

func testRooms() map[game.RoomID]*game.Room {
	return map[game.RoomID]*game.Room{
		"alamo_plaza": {
			ID: "alamo_plaza", Title: "Alamo Plaza", Zone: "downtown",
			Description: "Limestone walls glow in the afternoon sun.",
			Exits:       map[string]game.RoomID{"east": "river_walk"},
		},
		"river_walk": {
			ID: "river_walk", Title: "River Walk", Zone: "downtown",
			Description: "Barges drift past cypress trees and cafe tables.",
			Exits:       map[string]game.RoomID{"west": "alamo_plaza", "north": "market_square"},
		},
		"market_square": {
			ID: "market_square", Title: "Market Square", Zone: "market",
			Description: "Papel picado flutters over the stalls.",
			Exits:       map[string]game.RoomID{"south": "river_walk"},
		},
	}
}

func newTestGame(t *testing.T) *game.Game {
	t.Helper()
	world, err := game.NewWorld(testRooms(), game.StartRoom)
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	return game.NewGame(world, nil, zap.NewNop())
}

func newTestPlayer(t *testing.T, g *game.Game, name string, room game.RoomID) *game.Player {
	t.Helper()
	p := &game.Player{Name: name, Room: room, Output: game.NewOutbox(game.DefaultOutboxSize)}
	if _, _, err := g.World.AddPlayer(p, room); err != nil {
		t.Fatalf("AddPlayer(%s): %v", name, err)
	}
	return p
}

// drainOutput returns everything queued for p with colour codes removed.
func drainOutput(p *game.Player) string {
	var b strings.Builder
	for {
		select {
		case msg, ok := <-p.Output.C():
			if !ok {
				return b.String()
			}
			b.WriteString(stripANSI(msg))
		default:
			return b.String()
		}
	}
}

// pipeConn is a scripted LineConn that records output without colour codes.
type pipeConn struct {
	in     chan string
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	out    strings.Builder
	cursor int
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: make(chan string, 32), closed: make(chan struct{})}
}

func (c *pipeConn) send(lines ...string) {
	for _, l := range lines {
		c.in <- l
	}
}

func (c *pipeConn) ReadLine() (string, error) {
	select {
	case line, ok := <-c.in:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-c.closed:
		return "", net.ErrClosed
	}
}

func (c *pipeConn) WriteString(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.WriteString(stripANSI(s))
	return nil
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) RemoteAddr() string { return "pipe" }

// waitFor blocks until want has been written after the previous match.
func (c *pipeConn) waitFor(t *testing.T, want string) {
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

// newServedGame builds a game with sessions and accounts for end-to-end
// tests. Accounts named in users are created with password "secret1".
func newServedGame(t *testing.T, users ...string) *game.Game {
	t.Helper()
	world, err := game.NewWorld(testRooms(), game.StartRoom)
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	sessions := game.NewRegistry(game.RegistryConfig{}, zap.NewNop())
	g := game.NewGame(world, sessions, zap.NewNop())
	g.Accounts = game.NewAccountManager(store.NewMemory(), game.BcryptHasher{Cost: bcrypt.MinCost}, zap.NewNop())
	for _, name := range users {
		if _, err := g.Accounts.Register(context.Background(), name, "secret1"); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	t.Cleanup(func() { sessions.CloseAll("test done") })
	return g
}

// serve runs a session over conn in the background and returns a channel
// closed when it ends.
func serve(g *game.Game, conn *pipeConn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Serve(context.Background(), conn, Dispatch)
	}()
	return done
}
