package commands

var Quit = Define(Definition{
	Name:        "quit",
	Aliases:     []string{"exit", "q"},
	Usage:       "quit",
	Description: "save and disconnect",
}, func(ctx *Context) bool {
	tell(ctx.Player, "Saving your progress...")
	return true
})
