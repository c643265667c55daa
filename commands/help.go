package commands

import (
	"fmt"
	"strings"

	"samud/internal/game"
)

var helpSections = []struct {
	title string
	names []string
}{
	{"Navigation", []string{"look", "move", "where"}},
	{"Communication", []string{"say", "shout", "emote"}},
	{"System", []string{"who", "help", "quit"}},
}

var Help = Define(Definition{
	Name:        "help",
	Aliases:     []string{"?"},
	Usage:       "help [command]",
	Description: "show available commands",
}, func(ctx *Context) bool {
	if ctx.Arg != "" {
		ctx.Player.Send(game.Ansi(commandHelp(ctx.Arg)))
		return false
	}
	ctx.Player.Send(game.Ansi(helpMessage()))
	return false
})

func helpMessage() string {
	var builder strings.Builder
	builder.WriteString(game.Style("\r\n=== Available Commands ===\r\n", game.AnsiBold, game.AnsiUnderline))
	for _, section := range helpSections {
		builder.WriteString(fmt.Sprintf("\r\n%s:\r\n", section.title))
		for _, name := range section.names {
			cmd, ok := Find(name)
			if !ok {
				continue
			}
			builder.WriteString(fmt.Sprintf("  %-18s - %s\r\n", cmd.Usage, cmd.Description))
		}
	}
	builder.WriteString("\r\nType 'help <command>' for more information about a specific command.")
	return builder.String()
}

func commandHelp(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	cmd, ok := Find(name)
	if !ok {
		return fmt.Sprintf("\r\nNo help available for '%s'.", name)
	}
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("\r\n%s: %s", game.Style(strings.ToUpper(cmd.Name), game.AnsiBold), cmd.Description))
	if cmd.Usage != "" {
		builder.WriteString("\r\nUsage: " + cmd.Usage)
	}
	if len(cmd.Aliases) > 0 {
		builder.WriteString("\r\nAliases: " + strings.Join(cmd.Aliases, ", "))
	}
	return builder.String()
}
