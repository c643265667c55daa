package commands

import (
	"fmt"
	"sort"
	"strings"

	"samud/internal/game"
)

var Who = Define(Definition{
	Name:        "who",
	Usage:       "who",
	Description: "show all online players",
}, func(ctx *Context) bool {
	players := ctx.World.Players()
	if len(players) == 0 {
		tell(ctx.Player, "No players online.")
		return false
	}
	sort.SliceStable(players, func(i, j int) bool { return players[i].Key() < players[j].Key() })

	var builder strings.Builder
	builder.WriteString(game.Style(fmt.Sprintf("\r\n=== Online Players (%d) ===\r\n", len(players)), game.AnsiBold))
	for _, p := range players {
		roomName := "Unknown"
		if id, ok := ctx.World.LocationOf(p); ok {
			if room, ok := ctx.World.GetRoom(id); ok {
				roomName = room.Title
			}
		}
		builder.WriteString(fmt.Sprintf("  %-20s - %s\r\n", p.Name, roomName))
	}
	ctx.Player.Send(game.Ansi(builder.String()))
	return false
})
