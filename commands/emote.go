package commands

var Emote = Define(Definition{
	Name:        "emote",
	Aliases:     []string{":", "me"},
	Usage:       "emote <action>",
	Description: "act out something for the room",
	Chat:        true,
}, func(ctx *Context) bool {
	if ctx.Arg == "" {
		warn(ctx.Player, "Emote what? Usage: emote <action>")
		return false
	}
	if _, err := ctx.Game.Emote(ctx.Player, ctx.Arg); err != nil {
		warn(ctx.Player, "You are not properly logged in.")
	}
	return false
})
