package commands

import (
	"slices"

	"samud/internal/game"
)

func warn(player *game.Player, msg string) {
	player.Send(game.Ansi(game.Style("\r\n"+msg, game.AnsiYellow)))
}

func tell(player *game.Player, msg string) {
	player.Send(game.Ansi("\r\n" + msg))
}

// directionVerbs maps movement shortcuts and full names typed as verbs.
var directionVerbs = []string{
	"n", "s", "e", "w", "u", "d", "ne", "nw", "se", "sw",
	"north", "south", "east", "west", "up", "down",
	"northeast", "northwest", "southeast", "southwest",
}

func isDirectionVerb(input string) bool {
	return slices.Contains(directionVerbs, input)
}
