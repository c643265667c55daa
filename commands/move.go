package commands

import (
	"errors"
	"fmt"
	"strings"

	"samud/internal/game"
)

var Move = Define(Definition{
	Name:        "move",
	Aliases:     append([]string{"go"}, directionVerbs...),
	Usage:       "move <direction>",
	Description: "walk through an exit (n/s/e/w/u/d and full names work too)",
}, func(ctx *Context) bool {
	dir := ctx.Arg
	if input := strings.ToLower(ctx.Input); isDirectionVerb(input) {
		dir = input
	}
	if dir == "" {
		warn(ctx.Player, "Move where? Usage: move <direction>")
		return false
	}
	if _, err := ctx.Game.Go(ctx.Player, dir); err != nil {
		switch {
		case errors.Is(err, game.ErrNoSuchExit):
			warn(ctx.Player, fmt.Sprintf("You can't go %s. Available exits: %s", game.CanonicalDirection(dir), exitsHere(ctx)))
		case errors.Is(err, game.ErrNotInRoom):
			warn(ctx.Player, "You are not properly logged in.")
		default:
			warn(ctx.Player, "You cannot move from here.")
		}
		return false
	}
	ctx.Player.Send(game.DescribeRoom(ctx.World, ctx.Player))
	return false
})

func exitsHere(ctx *Context) string {
	id, ok := ctx.World.LocationOf(ctx.Player)
	if !ok {
		return "none"
	}
	room, ok := ctx.World.GetRoom(id)
	if !ok {
		return "none"
	}
	return game.ExitList(room)
}
