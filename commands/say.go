package commands

var Say = Define(Definition{
	Name:        "say",
	Usage:       "say <message>",
	Description: "say something to everyone in the room",
	Chat:        true,
}, func(ctx *Context) bool {
	if ctx.Arg == "" {
		warn(ctx.Player, "Say what? Usage: say <message>")
		return false
	}
	if _, err := ctx.Game.Say(ctx.Player, ctx.Arg); err != nil {
		warn(ctx.Player, "You are not properly logged in.")
	}
	return false
})
