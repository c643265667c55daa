package commands

import (
	"fmt"
	"strings"

	"samud/internal/game"
)

var Look = Define(Definition{
	Name:        "look",
	Aliases:     []string{"l"},
	Usage:       "look [target]",
	Description: "describe your surroundings, someone here, or an exit",
}, func(ctx *Context) bool {
	target := strings.TrimSpace(ctx.Arg)
	if target == "" {
		ctx.Player.Send(game.DescribeRoom(ctx.World, ctx.Player))
		return false
	}

	room, ok := ctx.World.LocationOf(ctx.Player)
	if !ok {
		warn(ctx.Player, "You are in a void. Something went wrong!")
		return false
	}
	if npc, found := ctx.World.FindNPCInRoom(room, target); found {
		ctx.Player.Send(game.DescribeNPC(npc))
		return false
	}
	if other, found := ctx.World.FindPlayer(target); found && other != ctx.Player {
		if there, ok := ctx.World.LocationOf(other); ok && there == room {
			tell(ctx.Player, fmt.Sprintf("%s is standing here.", game.HighlightName(other.Name)))
			return false
		}
	}
	if dir, dest, found := ctx.World.ResolveExit(room, target); found {
		msg := fmt.Sprintf("Looking %s you glimpse a passage.", dir)
		if next, ok := ctx.World.GetRoom(dest); ok {
			msg = fmt.Sprintf("Looking %s you glimpse %s.", dir, game.Style(next.Title, game.AnsiBold, game.AnsiCyan))
		}
		tell(ctx.Player, msg)
		return false
	}
	tell(ctx.Player, "You don't see that here.")
	return false
})
