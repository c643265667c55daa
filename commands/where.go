package commands

import (
	"fmt"

	"samud/internal/game"
)

var Where = Define(Definition{
	Name:        "where",
	Usage:       "where",
	Description: "show your current location",
}, func(ctx *Context) bool {
	id, ok := ctx.World.LocationOf(ctx.Player)
	if !ok {
		warn(ctx.Player, "Your location is unknown.")
		return false
	}
	room, ok := ctx.World.GetRoom(id)
	if !ok {
		warn(ctx.Player, "Your location is unknown.")
		return false
	}
	title := game.Style(room.Title, game.AnsiBold, game.AnsiCyan)
	if room.Zone != "" {
		tell(ctx.Player, fmt.Sprintf("You are at: %s (%s)", title, room.Zone))
		return false
	}
	tell(ctx.Player, "You are at: "+title)
	return false
})
