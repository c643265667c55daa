package commands

var Shout = Define(Definition{
	Name:        "shout",
	Usage:       "shout <message>",
	Description: "shout a message to all players",
	Chat:        true,
}, func(ctx *Context) bool {
	if ctx.Arg == "" {
		warn(ctx.Player, "Shout what? Usage: shout <message>")
		return false
	}
	ctx.Game.Shout(ctx.Player, ctx.Arg)
	return false
})
