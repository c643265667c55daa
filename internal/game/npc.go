package game

import (
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Period is a coarse time-of-day bucket used by NPC schedules.
type Period string

const (
	PeriodMorning   Period = "morning"
	PeriodAfternoon Period = "afternoon"
	PeriodEvening   Period = "evening"
	PeriodNight     Period = "night"
)

// PeriodAt buckets t: morning 06-12, afternoon 12-18, evening 18-24, night 00-06.
func PeriodAt(t time.Time) Period {
	switch h := t.Hour(); {
	case h >= 6 && h < 12:
		return PeriodMorning
	case h >= 12 && h < 18:
		return PeriodAfternoon
	case h >= 18:
		return PeriodEvening
	default:
		return PeriodNight
	}
}

const (
	DefaultNPCTickInterval     = 120 * time.Second
	MinNPCTickInterval         = 30 * time.Second
	MaxNPCTickInterval         = 300 * time.Second
	DefaultMovementProbability = 0.3
	DefaultMemoryRetention     = 30 * 24 * time.Hour
	topicLimit                 = 50
)

// KeywordRule maps any of its triggers to a response.
type KeywordRule struct {
	Triggers []string
	Response string
}

// Dialogue holds an NPC's templated lines. {player} is substituted where
// it appears.
type Dialogue struct {
	GreetingNew    string
	GreetingReturn string
	// Farewell announces the NPC leaving a room when its movement has no
	// departure message of its own.
	Farewell        string
	PlayerArrival   string
	PlayerDeparture string
}

// CrowdReactions replace the ambient action depending on how many players
// share the room.
type CrowdReactions struct {
	Empty string
	Few   string
	Many  string
}

// NPCBehavior is the immutable descriptor an NPC is driven by. Reloading
// content swaps the whole value.
type NPCBehavior struct {
	ID          string
	Name        string
	Description string

	StartRoom           RoomID
	AllowedRooms        []RoomID
	TickInterval        time.Duration
	MovementProbability float64
	Schedule            map[Period]RoomID
	DepartureMessage    string
	ArrivalMessage      string

	AmbientActions []string
	Keywords       []KeywordRule
	Dialogue       Dialogue

	RememberNames   bool
	RememberTopics  bool
	MemoryRetention time.Duration

	CrowdAware bool
	Crowd      CrowdReactions
}

// Allows reports whether the behavior lets the NPC stand in room.
func (b *NPCBehavior) Allows(room RoomID) bool {
	for _, r := range b.AllowedRooms {
		if r == room {
			return true
		}
	}
	return false
}

func (b *NPCBehavior) allowedSet() map[RoomID]bool {
	set := make(map[RoomID]bool, len(b.AllowedRooms))
	for _, r := range b.AllowedRooms {
		set[r] = true
	}
	return set
}

// Memory is what an NPC recalls about one player.
type Memory struct {
	Name             string
	InteractionCount int
	FirstMet         time.Time
	LastSeen         time.Time
	Topics           []string
}

// NPC is a scheduled, non-player actor.
type NPC struct {
	ID       string
	Room     RoomID // guarded by World.mu
	behavior atomic.Pointer[NPCBehavior]

	mu        sync.Mutex
	memory    map[string]*Memory
	lastMoved time.Time
	greeted   map[string]time.Time

	inFlight atomic.Bool
}

// NewNPC builds an NPC driven by b. Its room is set when it is placed.
func NewNPC(b *NPCBehavior) *NPC {
	n := &NPC{
		ID:      b.ID,
		memory:  make(map[string]*Memory),
		greeted: make(map[string]time.Time),
	}
	n.behavior.Store(b)
	return n
}

// Behavior returns the current descriptor.
func (n *NPC) Behavior() *NPCBehavior {
	return n.behavior.Load()
}

// SetBehavior swaps the descriptor used from the next tick on.
func (n *NPC) SetBehavior(b *NPCBehavior) {
	n.behavior.Store(b)
}

// DisplayName implements Actor.
func (n *NPC) DisplayName() string {
	return n.Behavior().Name
}

func (n *NPC) retention() time.Duration {
	if r := n.Behavior().MemoryRetention; r > 0 {
		return r
	}
	return DefaultMemoryRetention
}

// Knows reports whether the NPC holds a live memory of the player.
func (n *NPC) Knows(player string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.knowsLocked(IdentityKey(player), now)
}

func (n *NPC) knowsLocked(key string, now time.Time) bool {
	if !n.Behavior().RememberNames {
		return false
	}
	m, ok := n.memory[key]
	if !ok {
		return false
	}
	return now.Sub(m.LastSeen) <= n.retention()
}

// Remember records an interaction and reports whether the player was known
// beforehand.
func (n *NPC) Remember(player, topic string, now time.Time) bool {
	b := n.Behavior()
	key := IdentityKey(player)
	n.mu.Lock()
	defer n.mu.Unlock()
	known := n.knowsLocked(key, now)
	if !b.RememberNames {
		return known
	}
	m, ok := n.memory[key]
	if !ok || !known {
		m = &Memory{Name: player, FirstMet: now}
		n.memory[key] = m
	}
	m.Name = player
	m.LastSeen = now
	m.InteractionCount++
	if topic != "" && b.RememberTopics {
		if r := []rune(topic); len(r) > topicLimit {
			topic = string(r[:topicLimit])
		}
		found := false
		for _, t := range m.Topics {
			if t == topic {
				found = true
				break
			}
		}
		if !found {
			m.Topics = append(m.Topics, topic)
		}
	}
	return known
}

// MemoryOf returns a copy of the memory entry for player.
func (n *NPC) MemoryOf(player string) (Memory, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, ok := n.memory[IdentityKey(player)]
	if !ok {
		return Memory{}, false
	}
	out := *m
	out.Topics = append([]string(nil), m.Topics...)
	return out, true
}

// Memories returns copies of every memory entry keyed by identity.
func (n *NPC) Memories() map[string]Memory {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]Memory, len(n.memory))
	for k, m := range n.memory {
		c := *m
		c.Topics = append([]string(nil), m.Topics...)
		out[k] = c
	}
	return out
}

// RestoreMemories replaces the memory map, typically from persistence.
func (n *NPC) RestoreMemories(entries map[string]Memory, lastMoved time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.memory = make(map[string]*Memory, len(entries))
	for k, m := range entries {
		c := m
		n.memory[IdentityKey(k)] = &c
	}
	n.lastMoved = lastMoved
}

// Prune removes memories older than the retention horizon. The age check
// and removal happen under the same lock updates take.
func (n *NPC) Prune(now time.Time) int {
	horizon := n.retention()
	n.mu.Lock()
	defer n.mu.Unlock()
	removed := 0
	for k, m := range n.memory {
		if now.Sub(m.LastSeen) > horizon {
			delete(n.memory, k)
			removed++
		}
	}
	return removed
}

// Engage marks the NPC as talking with player until now+window. It
// reports whether that conversation is a new one.
func (n *NPC) Engage(player string, now time.Time, window time.Duration) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for k, until := range n.greeted {
		if !now.Before(until) {
			delete(n.greeted, k)
		}
	}
	key := IdentityKey(player)
	_, ongoing := n.greeted[key]
	n.greeted[key] = now.Add(window)
	return !ongoing
}

// Engaged reports whether a conversation with one of present holds the
// NPC in place. Partners who walked off do not count.
func (n *NPC) Engaged(now time.Time, present []*Player) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range present {
		if now.Before(n.greeted[p.Key()]) {
			return true
		}
	}
	return false
}

// LastMoved returns when the NPC last changed rooms.
func (n *NPC) LastMoved() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastMoved
}

func (n *NPC) markMoved(now time.Time) {
	n.mu.Lock()
	n.lastMoved = now
	n.mu.Unlock()
}

var wordCache sync.Map

func wordPattern(trigger string) *regexp.Regexp {
	if re, ok := wordCache.Load(trigger); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(trigger) + `\b`)
	wordCache.Store(trigger, re)
	return re
}

// MatchKeyword finds the response for message. Whole-word hits beat
// substring hits; among equals the longest trigger wins.
func (n *NPC) MatchKeyword(message string) (string, bool) {
	lower := strings.ToLower(message)
	bestLen, bestWord := 0, false
	response := ""
	for _, rule := range n.Behavior().Keywords {
		for _, trigger := range rule.Triggers {
			t := strings.ToLower(strings.TrimSpace(trigger))
			if t == "" || !strings.Contains(lower, t) {
				continue
			}
			word := wordPattern(t).MatchString(lower)
			better := false
			switch {
			case word && !bestWord:
				better = true
			case word == bestWord && len(t) > bestLen:
				better = true
			}
			if better {
				bestLen, bestWord, response = len(t), word, rule.Response
			}
		}
	}
	return response, response != ""
}

// Greeting picks greeting_new or greeting_return for player.
func (n *NPC) Greeting(player string, known bool) string {
	d := n.Behavior().Dialogue
	if known && d.GreetingReturn != "" {
		return fillPlayer(d.GreetingReturn, player)
	}
	if d.GreetingNew != "" {
		return fillPlayer(d.GreetingNew, player)
	}
	return ""
}

// ArrivalReaction is said when a player walks into the NPC's room.
func (n *NPC) ArrivalReaction(player string) string {
	return fillPlayer(n.Behavior().Dialogue.PlayerArrival, player)
}

// DepartureReaction is said when a player leaves the NPC's room.
func (n *NPC) DepartureReaction(player string) string {
	return fillPlayer(n.Behavior().Dialogue.PlayerDeparture, player)
}

// Ambient picks an emote for a room holding players players.
func (n *NPC) Ambient(players int, rnd *rand.Rand) string {
	b := n.Behavior()
	if len(b.AmbientActions) == 0 {
		return ""
	}
	action := ""
	if b.CrowdAware {
		switch {
		case players == 0:
			action = b.Crowd.Empty
		case players <= 2:
			action = b.Crowd.Few
		case players > 4:
			action = b.Crowd.Many
		}
	}
	if action == "" {
		action = b.AmbientActions[rnd.Intn(len(b.AmbientActions))]
	}
	return b.Name + " " + strings.TrimSuffix(action, ".") + "."
}

// MovementLines renders the departure and arrival announcements.
func (n *NPC) MovementLines(fromName, toName string) (string, string) {
	b := n.Behavior()
	depart := b.Name + " heads off toward " + toName + "."
	template := b.DepartureMessage
	if template == "" {
		template = b.Dialogue.Farewell
	}
	if template != "" {
		depart = strings.NewReplacer("{npc_name}", b.Name, "{destination}", toName).Replace(template)
	}
	arrive := b.Name + " arrives."
	if b.ArrivalMessage != "" {
		arrive = strings.NewReplacer("{npc_name}", b.Name, "{origin}", fromName).Replace(b.ArrivalMessage)
	}
	return depart, arrive
}

// NextTarget chooses where the NPC wants to be. A schedule entry for the
// current period wins when it is an allowed room; otherwise a random allowed
// room is picked subject to the movement probability. It returns false when
// the NPC should stay put.
func (n *NPC) NextTarget(current RoomID, now time.Time, rnd *rand.Rand) (RoomID, bool) {
	b := n.Behavior()
	if target, ok := b.Schedule[PeriodAt(now)]; ok && b.Allows(target) {
		return target, target != current
	}
	prob := b.MovementProbability
	if rnd.Float64() >= prob {
		return "", false
	}
	others := make([]RoomID, 0, len(b.AllowedRooms))
	for _, r := range b.AllowedRooms {
		if r != current {
			others = append(others, r)
		}
	}
	if len(others) == 0 {
		return "", false
	}
	sort.Slice(others, func(i, j int) bool { return others[i] < others[j] })
	return others[rnd.Intn(len(others))], true
}

func fillPlayer(template, player string) string {
	if template == "" {
		return ""
	}
	return strings.ReplaceAll(template, "{player}", player)
}
