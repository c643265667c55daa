package content

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"samud/internal/game"
)

// Bundle is a complete, validated content set.
type Bundle struct {
	*Rooms
	NPCs []*game.NPCBehavior
}

// Load reads dir/rooms and dir/npcs.
func Load(dir string) (*Bundle, error) {
	rooms, err := LoadRooms(filepath.Join(dir, "rooms"))
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	npcs, err := LoadNPCs(filepath.Join(dir, "npcs"), rooms)
	if err != nil {
		return nil, fmt.Errorf("load npcs: %w", err)
	}
	return &Bundle{Rooms: rooms, NPCs: npcs}, nil
}

// Apply swaps b into a running game. Players displaced by a vanished room
// are told and shown where they landed.
func Apply(ctx context.Context, g *game.Game, b *Bundle) error {
	moved, err := g.World.Replace(b.Rooms.Rooms, b.Start)
	if err != nil {
		return err
	}
	for _, m := range moved {
		p, ok := m.Actor.(*game.Player)
		if !ok {
			continue
		}
		p.Send(game.Ansi(game.Style("\r\nThe world shifts around you.", game.AnsiYellow)))
		p.Send(game.DescribeRoom(g.World, p))
	}
	if g.NPCs != nil {
		if err := g.NPCs.Reload(ctx, b.NPCs); err != nil {
			return err
		}
	}
	g.Log.Info("content applied",
		zap.Int("rooms", len(b.Rooms.Rooms)),
		zap.Int("npcs", len(b.NPCs)),
		zap.Int("relocated", len(moved)),
	)
	return nil
}

// Reload loads dir and applies it, leaving the running content untouched
// when the new set is invalid.
func Reload(ctx context.Context, g *game.Game, dir string) error {
	b, err := Load(dir)
	if err != nil {
		g.Log.Warn("content reload rejected", zap.Error(err))
		return err
	}
	return Apply(ctx, g, b)
}
