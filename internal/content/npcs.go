package content

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"samud/internal/game"
)

//go:embed npc.schema.json
var npcSchemaSource string

var npcSchema = jsonschema.MustCompileString("npc.schema.json", npcSchemaSource)

// NPCFile is one data/npcs/*.yml document.
type NPCFile struct {
	NPC NPCSpec `yaml:"npc"`
}

type NPCSpec struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	Description    string            `yaml:"description"`
	Personality    string            `yaml:"personality,omitempty"`
	Dialogue       map[string]string `yaml:"dialogue,omitempty"`
	Keywords       map[string]string `yaml:"keywords,omitempty"`
	Movement       MovementSpec      `yaml:"movement,omitempty"`
	AmbientActions []string          `yaml:"ambient_actions,omitempty"`
	Memory         MemorySpec        `yaml:"memory,omitempty"`
	Context        ContextSpec       `yaml:"context,omitempty"`
}

type MovementSpec struct {
	StartRoom           string            `yaml:"start_room,omitempty"`
	AllowedRooms        []string          `yaml:"allowed_rooms,omitempty"`
	TickInterval        float64           `yaml:"tick_interval,omitempty"`
	MovementProbability *float64          `yaml:"movement_probability,omitempty"`
	Schedule            map[string]string `yaml:"schedule,omitempty"`
	DepartureMessage    string            `yaml:"departure_message,omitempty"`
	ArrivalMessage      string            `yaml:"arrival_message,omitempty"`
}

// MemorySpec durations are in days.
type MemorySpec struct {
	RememberNames  *bool    `yaml:"remember_names,omitempty"`
	RememberTopics *bool    `yaml:"remember_topics,omitempty"`
	MemoryDuration *float64 `yaml:"memory_duration,omitempty"`
}

type ContextSpec struct {
	CrowdAware     bool              `yaml:"crowd_aware,omitempty"`
	CrowdReactions map[string]string `yaml:"crowd_reactions,omitempty"`
}

// ValidateNPC checks raw YAML against the embedded NPC schema.
func ValidateNPC(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert to json: %w", err)
	}
	d := json.NewDecoder(bytes.NewReader(asJSON))
	d.UseNumber()
	var inst any
	if err := d.Decode(&inst); err != nil {
		return err
	}
	return npcSchema.Validate(inst)
}

// NPCFiles lists descriptor files in dir. Names starting with an
// underscore are templates and are skipped.
func NPCFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "_") {
			continue
		}
		if ext := filepath.Ext(name); ext != ".yml" && ext != ".yaml" {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// LoadNPCs reads every descriptor in dir and resolves it against rooms.
// Any invalid file refuses the whole set.
func LoadNPCs(dir string, rooms *Rooms) ([]*game.NPCBehavior, error) {
	files, err := NPCFiles(dir)
	if err != nil {
		return nil, err
	}
	var (
		out  []*game.NPCBehavior
		errs []error
		seen = make(map[string]string)
	)
	for _, path := range files {
		b, err := LoadNPC(path, rooms)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, dup := seen[b.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: npc %q already defined in %s", filepath.Base(path), b.ID, filepath.Base(prev)))
			continue
		}
		seen[b.ID] = path
		out = append(out, b)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadNPC reads, validates and resolves one descriptor file.
func LoadNPC(path string, rooms *Rooms) (*game.NPCBehavior, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	if err := ValidateNPC(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	var file NPCFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	b, err := file.NPC.Behavior(rooms)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

// Behavior applies defaults and checks every room reference.
func (s NPCSpec) Behavior(rooms *Rooms) (*game.NPCBehavior, error) {
	b := &game.NPCBehavior{
		ID:                  s.ID,
		Name:                s.Name,
		Description:         s.Description,
		TickInterval:        tickInterval(s.Movement.TickInterval),
		MovementProbability: game.DefaultMovementProbability,
		DepartureMessage:    s.Movement.DepartureMessage,
		ArrivalMessage:      s.Movement.ArrivalMessage,
		AmbientActions:      append([]string(nil), s.AmbientActions...),
		Keywords:            keywordRules(s.Keywords),
		Dialogue: game.Dialogue{
			GreetingNew:     s.Dialogue["greeting_new"],
			GreetingReturn:  s.Dialogue["greeting_return"],
			Farewell:        s.Dialogue["farewell"],
			PlayerArrival:   s.Dialogue["player_arrival"],
			PlayerDeparture: s.Dialogue["player_departure"],
		},
		RememberNames:   true,
		RememberTopics:  true,
		MemoryRetention: game.DefaultMemoryRetention,
		CrowdAware:      s.Context.CrowdAware,
		Crowd: game.CrowdReactions{
			Empty: s.Context.CrowdReactions["empty"],
			Few:   s.Context.CrowdReactions["few"],
			Many:  s.Context.CrowdReactions["many"],
		},
	}
	if p := s.Movement.MovementProbability; p != nil {
		b.MovementProbability = *p
	}
	if v := s.Memory.RememberNames; v != nil {
		b.RememberNames = *v
	}
	if v := s.Memory.RememberTopics; v != nil {
		b.RememberTopics = *v
	}
	if d := s.Memory.MemoryDuration; d != nil && *d > 0 {
		b.MemoryRetention = time.Duration(*d * float64(24*time.Hour))
	}

	for _, r := range s.Movement.AllowedRooms {
		b.AllowedRooms = append(b.AllowedRooms, game.RoomID(r))
	}
	switch {
	case s.Movement.StartRoom != "":
		b.StartRoom = game.RoomID(s.Movement.StartRoom)
	case rooms != nil && rooms.Spawns[s.ID] != "":
		b.StartRoom = rooms.Spawns[s.ID]
	case len(b.AllowedRooms) > 0:
		b.StartRoom = b.AllowedRooms[0]
	default:
		return nil, fmt.Errorf("npc %q has no start room", s.ID)
	}
	if len(b.AllowedRooms) == 0 {
		b.AllowedRooms = []game.RoomID{b.StartRoom}
	}
	if !b.Allows(b.StartRoom) {
		b.AllowedRooms = append(b.AllowedRooms, b.StartRoom)
	}
	if len(s.Movement.Schedule) > 0 {
		b.Schedule = make(map[game.Period]game.RoomID, len(s.Movement.Schedule))
		for period, room := range s.Movement.Schedule {
			b.Schedule[game.Period(period)] = game.RoomID(room)
		}
	}

	if rooms != nil {
		var errs []error
		check := func(what string, id game.RoomID) {
			if _, ok := rooms.Rooms[id]; !ok {
				errs = append(errs, fmt.Errorf("npc %q %s: %w: %s", s.ID, what, game.ErrUnknownRoom, id))
			}
		}
		for _, r := range b.AllowedRooms {
			check("allowed room", r)
		}
		for _, r := range b.Schedule {
			check("schedule", r)
		}
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func tickInterval(seconds float64) time.Duration {
	if seconds <= 0 {
		return game.DefaultNPCTickInterval
	}
	d := time.Duration(seconds * float64(time.Second))
	return min(max(d, game.MinNPCTickInterval), game.MaxNPCTickInterval)
}

// keywordRules turns "a|b|c": response pairs into rules in a stable order.
func keywordRules(in map[string]string) []game.KeywordRule {
	patterns := make([]string, 0, len(in))
	for p := range in {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	rules := make([]game.KeywordRule, 0, len(patterns))
	for _, p := range patterns {
		var triggers []string
		for _, t := range strings.Split(p, "|") {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				triggers = append(triggers, t)
			}
		}
		if len(triggers) == 0 {
			continue
		}
		rules = append(rules, game.KeywordRule{Triggers: triggers, Response: in[p]})
	}
	return rules
}
