// Package content loads the room graph and NPC descriptors from YAML files
// and keeps them in sync with the running world.
package content

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"samud/internal/game"
)

// ZonesFile is data/rooms/zones.yml.
type ZonesFile struct {
	Settings    Settings     `yaml:"settings"`
	Zones       []ZoneRef    `yaml:"zones"`
	Connections []Connection `yaml:"connections,omitempty"`
}

type Settings struct {
	StartingRoom       string `yaml:"starting_room"`
	DefaultDescription string `yaml:"default_description,omitempty"`
}

// ZoneRef points at one zone file. Disabled zones are skipped.
type ZoneRef struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	File      string `yaml:"file"`
	LoadOrder int    `yaml:"load_order"`
	Enabled   *bool  `yaml:"enabled,omitempty"`
}

func (z ZoneRef) enabled() bool { return z.Enabled == nil || *z.Enabled }

// Connection is an exit declared outside any zone file, usually linking
// two zones.
type Connection struct {
	From      string `yaml:"from"`
	Direction string `yaml:"direction"`
	To        string `yaml:"to"`
}

// ZoneFile is one zone's room list.
type ZoneFile struct {
	Zone struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description,omitempty"`
	} `yaml:"zone"`
	Rooms map[string]RoomSpec `yaml:"rooms"`
}

type RoomSpec struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	ASCIIArt     string            `yaml:"ascii_art,omitempty"`
	ASCIIArtFile string            `yaml:"ascii_art_file,omitempty"`
	Exits        map[string]string `yaml:"exits,omitempty"`
	NPCs         []string          `yaml:"npcs,omitempty"`
}

// Rooms is a loaded and validated room graph.
type Rooms struct {
	Rooms map[game.RoomID]*game.Room
	Start game.RoomID
	// Spawns maps NPC id to the room whose npcs list names it.
	Spawns map[string]game.RoomID
}

// LoadRooms reads zones.yml under dir and every enabled zone file in
// load_order. Exits are made symmetric and the graph must be strongly
// connected from the starting room.
func LoadRooms(dir string) (*Rooms, error) {
	var zones ZonesFile
	if err := readYAML(filepath.Join(dir, "zones.yml"), &zones); err != nil {
		return nil, err
	}
	start := game.RoomID(strings.TrimSpace(zones.Settings.StartingRoom))
	if start == "" {
		start = game.StartRoom
	}

	refs := append([]ZoneRef(nil), zones.Zones...)
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].LoadOrder < refs[j].LoadOrder })

	out := &Rooms{
		Rooms:  make(map[game.RoomID]*game.Room),
		Start:  start,
		Spawns: make(map[string]game.RoomID),
	}
	for _, ref := range refs {
		if !ref.enabled() {
			continue
		}
		if err := out.loadZone(dir, ref, zones.Settings); err != nil {
			return nil, err
		}
	}

	var errs []error
	for _, c := range zones.Connections {
		from, ok := out.Rooms[game.RoomID(c.From)]
		if !ok {
			errs = append(errs, fmt.Errorf("connection from unknown room %q", c.From))
			continue
		}
		if _, ok := out.Rooms[game.RoomID(c.To)]; !ok {
			errs = append(errs, fmt.Errorf("connection to unknown room %q", c.To))
			continue
		}
		from.Exits[game.CanonicalDirection(c.Direction)] = game.RoomID(c.To)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("zones.yml: %w", err)
	}

	game.LinkBidirectional(out.Rooms)
	if err := game.ValidateTopology(out.Rooms, start); err != nil {
		return nil, fmt.Errorf("room graph: %w", err)
	}
	return out, nil
}

func (r *Rooms) loadZone(dir string, ref ZoneRef, settings Settings) error {
	if ref.File == "" {
		return fmt.Errorf("zone %q has no file", ref.ID)
	}
	var zone ZoneFile
	if err := readYAML(filepath.Join(dir, ref.File), &zone); err != nil {
		return err
	}
	ids := make([]string, 0, len(zone.Rooms))
	for id := range zone.Rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		spec := zone.Rooms[id]
		rid := game.RoomID(id)
		if _, dup := r.Rooms[rid]; dup {
			return fmt.Errorf("%s: room %q already defined", ref.File, id)
		}
		art, err := roomArt(dir, spec)
		if err != nil {
			return fmt.Errorf("%s: room %q: %w", ref.File, id, err)
		}
		room := &game.Room{
			ID:          rid,
			Title:       firstNonEmpty(spec.Name, id),
			Description: firstNonEmpty(spec.Description, settings.DefaultDescription),
			Art:         art,
			Zone:        ref.ID,
			Exits:       make(map[string]game.RoomID, len(spec.Exits)),
		}
		for label, to := range spec.Exits {
			room.Exits[game.CanonicalDirection(label)] = game.RoomID(to)
		}
		r.Rooms[rid] = room
		for _, npc := range spec.NPCs {
			r.Spawns[npc] = rid
		}
	}
	return nil
}

func roomArt(dir string, spec RoomSpec) (string, error) {
	if spec.ASCIIArtFile == "" {
		return spec.ASCIIArt, nil
	}
	b, err := os.ReadFile(filepath.Join(dir, "art", spec.ASCIIArtFile))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readYAML(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
