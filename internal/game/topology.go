package game

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDisconnected is returned when some room cannot be reached from, or
// cannot reach, the start room.
var ErrDisconnected = errors.New("room graph is not connected")

var directionAliases = map[string]string{
	"n":  "north",
	"s":  "south",
	"e":  "east",
	"w":  "west",
	"u":  "up",
	"d":  "down",
	"ne": "northeast",
	"nw": "northwest",
	"se": "southeast",
	"sw": "southwest",
}

var oppositeDirections = map[string]string{
	"north":     "south",
	"south":     "north",
	"east":      "west",
	"west":      "east",
	"up":        "down",
	"down":      "up",
	"northeast": "southwest",
	"southwest": "northeast",
	"northwest": "southeast",
	"southeast": "northwest",
}

// CanonicalDirection expands shortcuts such as "n" or "sw" and lower-cases
// the label.
func CanonicalDirection(dir string) string {
	d := strings.ToLower(strings.TrimSpace(dir))
	if full, ok := directionAliases[d]; ok {
		return full
	}
	return d
}

// OppositeDirection returns the reverse of a compass or vertical direction.
func OppositeDirection(dir string) (string, bool) {
	opp, ok := oppositeDirections[CanonicalDirection(dir)]
	return opp, ok
}

// LinkBidirectional adds the reverse of every exit whose label has a known
// opposite, unless the destination already uses that label.
func LinkBidirectional(rooms map[RoomID]*Room) {
	ids := sortedRoomIDs(rooms)
	for _, id := range ids {
		room := rooms[id]
		labels := make([]string, 0, len(room.Exits))
		for label := range room.Exits {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			target, ok := rooms[room.Exits[label]]
			if !ok {
				continue
			}
			opp, ok := OppositeDirection(label)
			if !ok {
				continue
			}
			if target.Exits == nil {
				target.Exits = make(map[string]RoomID)
			}
			if _, taken := target.Exits[opp]; !taken {
				target.Exits[opp] = id
			}
		}
	}
}

// ValidateTopology checks that start exists, that every exit leads to a
// known room, and that every room is reachable from every other.
func ValidateTopology(rooms map[RoomID]*Room, start RoomID) error {
	if len(rooms) == 0 {
		return errors.New("no rooms loaded")
	}
	if _, ok := rooms[start]; !ok {
		return fmt.Errorf("%w: starting room %s", ErrUnknownRoom, start)
	}
	reverse := make(map[RoomID][]RoomID, len(rooms))
	for _, id := range sortedRoomIDs(rooms) {
		for label, target := range rooms[id].Exits {
			if _, ok := rooms[target]; !ok {
				return fmt.Errorf("%w: room %s exit %s leads to %s", ErrUnknownRoom, id, label, target)
			}
			reverse[target] = append(reverse[target], id)
		}
	}
	forward := reach(start, func(id RoomID) []RoomID {
		out := make([]RoomID, 0, len(rooms[id].Exits))
		for _, t := range rooms[id].Exits {
			out = append(out, t)
		}
		return out
	})
	backward := reach(start, func(id RoomID) []RoomID { return reverse[id] })
	var missing []string
	for _, id := range sortedRoomIDs(rooms) {
		if !forward[id] || !backward[id] {
			missing = append(missing, string(id))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrDisconnected, strings.Join(missing, ", "))
	}
	return nil
}

func reach(start RoomID, next func(RoomID) []RoomID) map[RoomID]bool {
	seen := map[RoomID]bool{start: true}
	queue := []RoomID{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, n := range next(id) {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return seen
}

func sortedRoomIDs(rooms map[RoomID]*Room) []RoomID {
	ids := make([]RoomID, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedExitLabels(exits map[string]RoomID) []string {
	labels := make([]string, 0, len(exits))
	for label := range exits {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}
