package wsline

import (
	"context"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"samud/commands"
	"samud/internal/game"
	"samud/internal/store"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func newWSGame(t *testing.T) *game.Game {
	t.Helper()
	rooms := map[game.RoomID]*game.Room{
		"alamo_plaza": {ID: "alamo_plaza", Title: "Alamo Plaza", Exits: map[string]game.RoomID{"east": "river_walk"}},
		"river_walk":  {ID: "river_walk", Title: "River Walk", Exits: map[string]game.RoomID{"west": "alamo_plaza"}},
	}
	world, err := game.NewWorld(rooms, game.StartRoom)
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	sessions := game.NewRegistry(game.RegistryConfig{}, zap.NewNop())
	g := game.NewGame(world, sessions, zap.NewNop())
	g.Accounts = game.NewAccountManager(store.NewMemory(), game.BcryptHasher{Cost: bcrypt.MinCost}, zap.NewNop())
	if _, err := g.Accounts.Register(context.Background(), "alice", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	t.Cleanup(func() { sessions.CloseAll("test done") })
	return g
}

type client struct {
	t    *testing.T
	ws   *websocket.Conn
	seen strings.Builder
}

func dial(t *testing.T, g *game.Game) *client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(NewServer(g, commands.Dispatch).Handler(ctx))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) send(text string) {
	c.t.Helper()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.t.Fatalf("WriteMessage: %v", err)
	}
}

// waitFor reads frames until want appears in the accumulated output.
func (c *client) waitFor(want string) {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(c.seen.String(), want) {
		_ = c.ws.SetReadDeadline(deadline)
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %q: %v; seen %q", want, err, c.seen.String())
		}
		c.seen.WriteString(ansiPattern.ReplaceAllString(string(msg), ""))
	}
	rest := c.seen.String()
	rest = rest[strings.Index(rest, want)+len(want):]
	c.seen.Reset()
	c.seen.WriteString(rest)
}

func TestWebSocketLoginAndChat(t *testing.T) {
	g := newWSGame(t)
	c := dial(t, g)
	c.waitFor("Type login, signup, help or quit.")
	c.send("login")
	c.waitFor("Username:")
	c.send("alice")
	c.waitFor("Password:")
	c.send("secret1")
	c.waitFor("Welcome back, alice!")

	c.send("say hello river")
	c.waitFor("alice: hello river")

	if g.Sessions.Count() != 1 {
		t.Fatalf("Count = %d, want 1", g.Sessions.Count())
	}
}

func TestWebSocketFrameWithSeveralLines(t *testing.T) {
	g := newWSGame(t)
	c := dial(t, g)
	c.waitFor("Type login, signup, help or quit.")
	c.send("login\r\nalice\nsecret1\n")
	c.waitFor("Welcome back, alice!")
	c.send("east")
	c.waitFor("River Walk")
}

func TestWebSocketOversizedLineIsDiscarded(t *testing.T) {
	g := newWSGame(t)
	c := dial(t, g)
	c.waitFor("Type login, signup, help or quit.")
	c.send("login\nalice\nsecret1")
	c.waitFor("Welcome back, alice!")
	c.send("say " + strings.Repeat("x", game.MaxLineLength+10))
	c.waitFor("Input line too long; it was ignored.")
	c.send("where")
	c.waitFor("You are at: Alamo Plaza")

	c.send("say " + strings.Repeat("y", 5*1024) + "\nsay still here")
	c.waitFor("Input line too long; it was ignored.")
	c.waitFor("alice: still here")
	c.send("where")
	c.waitFor("You are at: Alamo Plaza")
}

func TestSplitFrame(t *testing.T) {
	long := strings.Repeat("z", 3*game.MaxLineLength)
	cases := []struct {
		name string
		in   string
		want []frameLine
	}{
		{"single", "look", []frameLine{{text: "look"}}},
		{"crlf", "look\r\nwhere\r\n", []frameLine{{text: "look"}, {text: "where"}}},
		{"empty", "", []frameLine{{text: ""}}},
		{"oversized middle", "look\n" + long + "\nwhere", []frameLine{{text: "look"}, {tooLong: true}, {text: "where"}}},
		{"oversized last", long, []frameLine{{tooLong: true}}},
		{"exact limit", strings.Repeat("a", game.MaxLineLength), []frameLine{{text: strings.Repeat("a", game.MaxLineLength)}}},
	}
	for _, tc := range cases {
		got, err := splitFrame(strings.NewReader(tc.in))
		if err != nil {
			t.Fatalf("%s: splitFrame: %v", tc.name, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %d lines, want %d", tc.name, len(got), len(tc.want))
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: line %d = %+v, want %+v", tc.name, i, got[i], tc.want[i])
			}
		}
	}
}
