package commands

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"samud/internal/game"
)

// Definition describes a single command's metadata.
type Definition struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	// Chat commands count against the sender's flood guard.
	Chat bool
}

// Handler executes a command.
// Returning true indicates the connection should terminate.
type Handler func(*Context) bool

// Command couples metadata with the executable handler.
type Command struct {
	Definition
	Handler Handler
}

// Context provides the runtime data available to a command handler.
type Context struct {
	Game    *game.Game
	World   *game.World
	Player  *game.Player
	Raw     string
	Arg     string
	Input   string
	Command *Command
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Command)
	ordered    []*Command
)

// Define registers a new command using the provided definition and handler.
// It panics when metadata is incomplete or duplicates an existing command.
func Define(def Definition, handler Handler) *Command {
	if handler == nil {
		panic("commands: handler must not be nil")
	}
	if strings.TrimSpace(def.Name) == "" {
		panic("commands: command must have a name")
	}

	cmd := &Command{Definition: def, Handler: handler}

	registryMu.Lock()
	defer registryMu.Unlock()

	for _, name := range append([]string{def.Name}, def.Aliases...) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, exists := registry[key]; exists {
			panic(fmt.Sprintf("commands: duplicate registration for %q", name))
		}
		registry[key] = cmd
	}

	ordered = append(ordered, cmd)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Name < ordered[j].Name
	})
	return cmd
}

// All returns the registered commands sorted by primary name.
func All() []*Command {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]*Command, len(ordered))
	copy(out, ordered)
	return out
}

// Find resolves a verb or alias.
func Find(name string) (*Command, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	cmd, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return cmd, ok
}

// verbs lists every registered name and alias in sorted order.
func verbs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch parses the input line, looks up the command, and executes it.
// It satisfies game.Dispatcher. A panicking handler is reported to the
// caller only.
func Dispatch(g *game.Game, player *game.Player, line string) (quit bool) {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	if verb == "" {
		return false
	}
	cmd, ok := Find(verb)
	if !ok {
		unknown(player, strings.ToLower(verb))
		return false
	}

	ctx := &Context{
		Game:    g,
		World:   g.World,
		Player:  player,
		Raw:     line,
		Arg:     strings.TrimSpace(arg),
		Input:   verb,
		Command: cmd,
	}

	defer func() {
		if r := recover(); r != nil {
			g.Log.Error("command panicked",
				zap.String("command", cmd.Name),
				zap.String("player", player.Name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			warn(player, "An error occurred while processing your command.")
			quit = false
		}
	}()

	if cmd.Chat && ctx.Arg != "" {
		if err := g.AllowChat(player, time.Now()); err != nil {
			throttled(player, cmd.Name, err)
			return false
		}
	}
	return cmd.Handler(ctx)
}

func unknown(player *game.Player, verb string) {
	if guess, ok := game.Suggest(verb, verbs()); ok {
		warn(player, fmt.Sprintf("Unknown command '%s'. Did you mean '%s'?", verb, guess))
		return
	}
	warn(player, fmt.Sprintf("Unknown command '%s'. Type 'help' for available commands.", verb))
}

func throttled(player *game.Player, verb string, err error) {
	msg := fmt.Sprintf("You are %s too quickly. Please slow down.", chatGerund(verb))
	var rl *game.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		secs := int(rl.RetryAfter.Round(time.Second) / time.Second)
		msg = fmt.Sprintf("%s Try again in %ds.", msg, max(secs, 1))
	}
	warn(player, msg)
}

func chatGerund(verb string) string {
	switch verb {
	case "shout":
		return "shouting"
	case "emote":
		return "emoting"
	}
	return "speaking"
}
