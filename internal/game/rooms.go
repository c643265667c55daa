package game

import (
	"fmt"
	"strings"
)

// DescribeRoom renders what p sees when looking around: title, art,
// description, exits, other players and NPCs.
func DescribeRoom(world *World, p *Player) string {
	room, ok := world.LocationOf(p)
	if !ok {
		return Ansi(Style("\r\nYou seem to be nowhere.", AnsiYellow))
	}
	r, ok := world.GetRoom(room)
	if !ok {
		return Ansi(Style("\r\nYou seem to be nowhere.", AnsiYellow))
	}
	width, _ := p.WindowSize()
	var b strings.Builder
	b.WriteString("\r\n")
	b.WriteString(Style(r.Title, AnsiBold, AnsiCyan))
	if art := strings.TrimRight(r.Art, "\n"); art != "" {
		b.WriteString("\r\n")
		b.WriteString(Style(strings.ReplaceAll(art, "\n", "\r\n"), AnsiDim))
	}
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(WrapText(r.Description, width), "\n", "\r\n"))
	b.WriteString("\r\nExits: ")
	b.WriteString(Style(ExitList(r), AnsiGreen))

	players, npcs := world.OccupantsOf(room)
	names := make([]string, 0, len(players))
	for _, other := range players {
		if other != p {
			names = append(names, other.Name)
		}
	}
	if len(names) > 0 {
		b.WriteString("\r\nPlayers here: ")
		b.WriteString(strings.Join(HighlightNames(names), ", "))
	}
	if len(npcs) > 0 {
		npcNames := make([]string, len(npcs))
		for i, n := range npcs {
			npcNames[i] = HighlightNPCName(n.DisplayName())
		}
		b.WriteString("\r\nYou notice: ")
		b.WriteString(strings.Join(npcNames, ", "))
	}
	return Ansi(b.String())
}

// DescribeNPC renders a closer look at an NPC.
func DescribeNPC(n *NPC) string {
	b := n.Behavior()
	desc := strings.TrimSpace(b.Description)
	if desc == "" {
		desc = "You see nothing special."
	}
	return Ansi(fmt.Sprintf("\r\n%s\r\n%s", HighlightNPCName(b.Name), desc))
}

// ExitList renders a room's exit labels in sorted order.
func ExitList(r *Room) string {
	if len(r.Exits) == 0 {
		return "none"
	}
	return strings.Join(sortedExitLabels(r.Exits), " ")
}
