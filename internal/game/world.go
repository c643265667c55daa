package game

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// StartRoom is the default entry point for new players.
const StartRoom RoomID = "alamo_plaza"

type RoomID string

// Room is the static part of a location. Rooms are never mutated after
// load; a reload swaps the whole map.
type Room struct {
	ID          RoomID
	Title       string
	Description string
	Art         string
	Zone        string
	Exits       map[string]RoomID
}

// Actor is anything that occupies a room: *Player or *NPC.
type Actor interface {
	DisplayName() string
}

type occupancy struct {
	players []*Player
	npcs    []*NPC
}

// Movement is the result of a move, with both rooms' occupants observed in
// the same critical section as the move itself.
type Movement struct {
	Actor     Actor
	From      RoomID
	To        RoomID
	Direction string
	Reverse   string
	Remaining []*Player
	Present   []*Player
	NPCsLeft  []*NPC
	NPCsAhead []*NPC
}

// Relocation records an actor displaced by a topology reload.
type Relocation struct {
	Actor Actor
	From  RoomID
	To    RoomID
}

// World is the authoritative room graph and occupancy. A single RWMutex
// guards it; every mutation is one critical section.
type World struct {
	mu          sync.RWMutex
	rooms       map[RoomID]*Room
	start       RoomID
	occupants   map[RoomID]*occupancy
	players     map[string]*Player
	playerOrder []string
	npcs        map[string]*NPC
}

// NewWorld validates the topology and returns an empty world over it.
func NewWorld(rooms map[RoomID]*Room, start RoomID) (*World, error) {
	if err := ValidateTopology(rooms, start); err != nil {
		return nil, err
	}
	return newWorld(rooms, start), nil
}

// NewWorldWithRooms constructs a world without validating connectivity. The
// start room is StartRoom or "start" when present, otherwise the lowest id.
func NewWorldWithRooms(rooms map[RoomID]*Room) *World {
	start := RoomID("")
	for _, candidate := range []RoomID{StartRoom, "start"} {
		if _, ok := rooms[candidate]; ok {
			start = candidate
			break
		}
	}
	if start == "" {
		if ids := sortedRoomIDs(rooms); len(ids) > 0 {
			start = ids[0]
		}
	}
	return newWorld(rooms, start)
}

func newWorld(rooms map[RoomID]*Room, start RoomID) *World {
	w := &World{
		rooms:     rooms,
		start:     start,
		occupants: make(map[RoomID]*occupancy, len(rooms)),
		players:   make(map[string]*Player),
		npcs:      make(map[string]*NPC),
	}
	for id, room := range rooms {
		if room.Exits == nil {
			room.Exits = make(map[string]RoomID)
		}
		w.occupants[id] = &occupancy{}
	}
	return w
}

// StartRoom returns the room new players and displaced actors land in.
func (w *World) StartRoom() RoomID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.start
}

func (w *World) GetRoom(id RoomID) (*Room, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.rooms[id]
	return r, ok
}

// RoomIDs lists every room in id order.
func (w *World) RoomIDs() []RoomID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return sortedRoomIDs(w.rooms)
}

// AddPlayer places p in room, or the start room when room is unknown. It
// returns the room used and the players who were already there.
func (w *World) AddPlayer(p *Player, room RoomID) (RoomID, []*Player, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := p.Key()
	if _, exists := w.players[key]; exists {
		return "", nil, fmt.Errorf("%w: %s", ErrDuplicateLogin, p.Name)
	}
	if _, ok := w.rooms[room]; !ok {
		room = w.start
	}
	present := copyPlayers(w.occupants[room].players)
	w.insertPlayerLocked(p, room)
	return room, present, nil
}

func (w *World) insertPlayerLocked(p *Player, room RoomID) {
	key := p.Key()
	p.Room = room
	w.players[key] = p
	w.playerOrder = append(w.playerOrder, key)
	occ := w.occupants[room]
	occ.players = append(occ.players, p)
}

// RemovePlayer takes p out of the world. It returns the room p was in and
// the players left behind.
func (w *World) RemovePlayer(p *Player) (RoomID, []*Player, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if current, ok := w.players[p.Key()]; !ok || current != p {
		return "", nil, false
	}
	room := p.Room
	w.detachPlayerLocked(p)
	var remaining []*Player
	if occ, ok := w.occupants[room]; ok {
		remaining = copyPlayers(occ.players)
	}
	return room, remaining, true
}

func (w *World) detachPlayerLocked(p *Player) {
	key := p.Key()
	delete(w.players, key)
	for i, k := range w.playerOrder {
		if k == key {
			w.playerOrder = append(w.playerOrder[:i], w.playerOrder[i+1:]...)
			break
		}
	}
	if occ, ok := w.occupants[p.Room]; ok {
		occ.players = removePlayer(occ.players, p)
	}
}

// AddNPC places n in room, falling back to the start room.
func (w *World) AddNPC(n *NPC, room RoomID) (RoomID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.npcs[n.ID]; exists {
		return "", fmt.Errorf("npc %s already placed", n.ID)
	}
	if _, ok := w.rooms[room]; !ok {
		room = w.start
	}
	n.Room = room
	w.npcs[n.ID] = n
	occ := w.occupants[room]
	occ.npcs = append(occ.npcs, n)
	return room, nil
}

// RemoveNPC takes the NPC with id out of the world.
func (w *World) RemoveNPC(id string) (RoomID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.npcs[id]
	if !ok {
		return "", false
	}
	delete(w.npcs, id)
	if occ, ok := w.occupants[n.Room]; ok {
		occ.npcs = removeNPC(occ.npcs, n)
	}
	return n.Room, true
}

// NPC returns the placed NPC with id.
func (w *World) NPC(id string) (*NPC, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n, ok := w.npcs[id]
	return n, ok
}

// NPCs lists placed NPCs in id order.
func (w *World) NPCs() []*NPC {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*NPC, 0, len(w.npcs))
	for _, n := range w.npcs {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Move relocates a from one room to an adjacent one. It fails with
// ErrNoSuchExit when no exit of from leads to to, and with ErrNotInRoom
// when a is no longer in from.
func (w *World) Move(a Actor, from, to RoomID) (Movement, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	src, ok := w.rooms[from]
	if !ok {
		return Movement{}, fmt.Errorf("%w: %s", ErrUnknownRoom, from)
	}
	if _, ok := w.rooms[to]; !ok {
		return Movement{}, fmt.Errorf("%w: %s", ErrUnknownRoom, to)
	}
	label := exitLabel(src, to)
	if label == "" {
		return Movement{}, fmt.Errorf("%w: %s to %s", ErrNoSuchExit, from, to)
	}
	if loc, ok := w.locationLocked(a); !ok || loc != from {
		return Movement{}, fmt.Errorf("%w: %s not in %s", ErrNotInRoom, a.DisplayName(), from)
	}
	return w.relocateLocked(a, from, to, label), nil
}

// MovePlayer resolves dir against the player's current room and moves them.
func (w *World) MovePlayer(p *Player, dir string) (Movement, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if current, ok := w.players[p.Key()]; !ok || current != p {
		return Movement{}, fmt.Errorf("%w: %s", ErrNotInRoom, p.Name)
	}
	src, ok := w.rooms[p.Room]
	if !ok {
		return Movement{}, fmt.Errorf("%w: %s", ErrUnknownRoom, p.Room)
	}
	label, dest, ok := resolveExit(src, dir)
	if !ok {
		return Movement{}, fmt.Errorf("%w: %s", ErrNoSuchExit, dir)
	}
	return w.relocateLocked(p, p.Room, dest, label), nil
}

func (w *World) relocateLocked(a Actor, from, to RoomID, label string) Movement {
	src := w.occupants[from]
	dst := w.occupants[to]
	m := Movement{
		Actor:     a,
		From:      from,
		To:        to,
		Direction: label,
		Present:   copyPlayers(dst.players),
		NPCsAhead: copyNPCs(dst.npcs),
	}
	if back, ok := w.rooms[to]; ok {
		m.Reverse = exitLabel(back, from)
	}
	switch actor := a.(type) {
	case *Player:
		src.players = removePlayer(src.players, actor)
		actor.Room = to
		dst.players = append(dst.players, actor)
	case *NPC:
		src.npcs = removeNPC(src.npcs, actor)
		actor.Room = to
		dst.npcs = append(dst.npcs, actor)
	}
	m.Remaining = copyPlayers(src.players)
	m.NPCsLeft = copyNPCs(src.npcs)
	return m
}

// LocationOf reports the room currently holding a.
func (w *World) LocationOf(a Actor) (RoomID, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.locationLocked(a)
}

func (w *World) locationLocked(a Actor) (RoomID, bool) {
	switch actor := a.(type) {
	case *Player:
		if current, ok := w.players[actor.Key()]; ok && current == actor {
			return actor.Room, true
		}
	case *NPC:
		if current, ok := w.npcs[actor.ID]; ok && current == actor {
			return actor.Room, true
		}
	}
	return "", false
}

// OccupantsOf returns copies of a room's player and NPC sets.
func (w *World) OccupantsOf(room RoomID) ([]*Player, []*NPC) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	occ, ok := w.occupants[room]
	if !ok {
		return nil, nil
	}
	return copyPlayers(occ.players), copyNPCs(occ.npcs)
}

// PlayersIn returns the players in room in arrival order.
func (w *World) PlayersIn(room RoomID) []*Player {
	players, _ := w.OccupantsOf(room)
	return players
}

// NPCsIn returns the NPCs in room.
func (w *World) NPCsIn(room RoomID) []*NPC {
	_, npcs := w.OccupantsOf(room)
	return npcs
}

// FindNPCInRoom matches name against the NPCs in room by id, display name
// or a unique word prefix of either.
func (w *World) FindNPCInRoom(room RoomID, name string) (*NPC, bool) {
	npcs := w.NPCsIn(room)
	names := make([]string, len(npcs))
	for i, n := range npcs {
		if strings.EqualFold(n.ID, strings.TrimSpace(name)) {
			return n, true
		}
		names[i] = n.DisplayName()
	}
	idx, ok := uniqueMatch(name, names, true)
	if !ok {
		return nil, false
	}
	return npcs[idx], true
}

// Players returns every player in login order.
func (w *World) Players() []*Player {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Player, 0, len(w.playerOrder))
	for _, key := range w.playerOrder {
		if p, ok := w.players[key]; ok {
			out = append(out, p)
		}
	}
	return out
}

// PlayerCount returns the number of players in the world.
func (w *World) PlayerCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.players)
}

// FindPlayer locates an online player by name, performing a case-insensitive
// match and falling back to a unique prefix.
func (w *World) FindPlayer(name string) (*Player, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, false
	}
	if p, ok := w.players[IdentityKey(trimmed)]; ok {
		return p, true
	}
	candidates := make([]*Player, 0, len(w.players))
	names := make([]string, 0, len(w.players))
	for _, key := range w.playerOrder {
		p := w.players[key]
		candidates = append(candidates, p)
		names = append(names, p.Name)
	}
	idx, ok := uniqueMatch(trimmed, names, false)
	if !ok {
		return nil, false
	}
	return candidates[idx], true
}

// ResolveExit attempts to match the provided direction against the room's exits.
// It returns the canonical exit label and destination room when successful.
func (w *World) ResolveExit(room RoomID, direction string) (string, RoomID, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.rooms[room]
	if !ok {
		return "", "", false
	}
	return resolveExit(r, direction)
}

func resolveExit(r *Room, direction string) (string, RoomID, bool) {
	target := CanonicalDirection(direction)
	if target == "" || len(r.Exits) == 0 {
		return "", "", false
	}
	if dest, ok := r.Exits[target]; ok {
		return target, dest, true
	}
	names := sortedExitLabels(r.Exits)
	idx, ok := uniqueMatch(target, names, true)
	if !ok {
		return "", "", false
	}
	return names[idx], r.Exits[names[idx]], true
}

// DirectionBetween returns the exit label leading from one room to another.
func (w *World) DirectionBetween(from, to RoomID) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.rooms[from]
	if !ok {
		return "", false
	}
	label := exitLabel(r, to)
	return label, label != ""
}

func exitLabel(r *Room, to RoomID) string {
	for _, label := range sortedExitLabels(r.Exits) {
		if r.Exits[label] == to {
			return label
		}
	}
	return ""
}

// NextHop returns the first step of a shortest path from from to to that
// only passes through rooms in allowed. The starting room itself need not
// be allowed.
func (w *World) NextHop(from, to RoomID, allowed map[RoomID]bool) (RoomID, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if from == to || !allowed[to] {
		return "", false
	}
	if _, ok := w.rooms[from]; !ok {
		return "", false
	}
	parent := map[RoomID]RoomID{from: from}
	queue := []RoomID{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		r := w.rooms[id]
		for _, label := range sortedExitLabels(r.Exits) {
			next := r.Exits[label]
			if _, seen := parent[next]; seen || !allowed[next] {
				continue
			}
			if _, ok := w.rooms[next]; !ok {
				continue
			}
			parent[next] = id
			if next == to {
				step := next
				for parent[step] != from {
					step = parent[step]
				}
				return step, true
			}
			queue = append(queue, next)
		}
	}
	return "", false
}

// Replace swaps in a new topology. Actors standing in rooms that no longer
// exist are moved to the new start room.
func (w *World) Replace(rooms map[RoomID]*Room, start RoomID) ([]Relocation, error) {
	if err := ValidateTopology(rooms, start); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	occupants := make(map[RoomID]*occupancy, len(rooms))
	for id := range rooms {
		occupants[id] = &occupancy{}
	}
	var moved []Relocation
	for _, id := range sortedRoomIDs(w.rooms) {
		occ := w.occupants[id]
		if occ == nil {
			continue
		}
		dest := id
		if _, ok := rooms[id]; !ok {
			dest = start
		}
		for _, p := range occ.players {
			if dest != id {
				moved = append(moved, Relocation{Actor: p, From: id, To: dest})
			}
			p.Room = dest
			occupants[dest].players = append(occupants[dest].players, p)
		}
		for _, n := range occ.npcs {
			if dest != id {
				moved = append(moved, Relocation{Actor: n, From: id, To: dest})
			}
			n.Room = dest
			occupants[dest].npcs = append(occupants[dest].npcs, n)
		}
	}
	w.rooms = rooms
	w.start = start
	w.occupants = occupants
	return moved, nil
}

// checkOccupancy verifies that every actor's room field agrees with the
// occupancy sets.
func (w *World) checkOccupancy() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	seenPlayers := 0
	seenNPCs := 0
	for id, occ := range w.occupants {
		for _, p := range occ.players {
			if p.Room != id {
				return fmt.Errorf("player %s listed in %s but at %s", p.Name, id, p.Room)
			}
			seenPlayers++
		}
		for _, n := range occ.npcs {
			if n.Room != id {
				return fmt.Errorf("npc %s listed in %s but at %s", n.ID, id, n.Room)
			}
			seenNPCs++
		}
	}
	if seenPlayers != len(w.players) || seenNPCs != len(w.npcs) {
		return fmt.Errorf("occupancy counts %d/%d, want %d/%d", seenPlayers, seenNPCs, len(w.players), len(w.npcs))
	}
	return nil
}

func copyPlayers(in []*Player) []*Player {
	out := make([]*Player, len(in))
	copy(out, in)
	return out
}

func copyNPCs(in []*NPC) []*NPC {
	out := make([]*NPC, len(in))
	copy(out, in)
	return out
}

func removePlayer(list []*Player, p *Player) []*Player {
	for i, v := range list {
		if v == p {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func removeNPC(list []*NPC, n *NPC) []*NPC {
	for i, v := range list {
		if v == n {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
