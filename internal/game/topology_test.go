package game

import (
	"errors"
	"testing"
)

func TestLinkBidirectionalAddsReverseExits(t *testing.T) {
	rooms := map[RoomID]*Room{
		"a": {ID: "a", Exits: map[string]RoomID{"north": "b", "portal": "c"}},
		"b": {ID: "b"},
		"c": {ID: "c", Exits: map[string]RoomID{"up": "a"}},
	}
	LinkBidirectional(rooms)
	if got := rooms["b"].Exits["south"]; got != "a" {
		t.Fatalf("b south = %q, want a", got)
	}
	if got := rooms["a"].Exits["down"]; got != "c" {
		t.Fatalf("a down = %q, want c", got)
	}
	if _, ok := rooms["c"].Exits["portal"]; ok {
		t.Fatalf("non-compass exit should not be mirrored")
	}
}

func TestValidateTopology(t *testing.T) {
	if err := ValidateTopology(testRooms(), StartRoom); err != nil {
		t.Fatalf("ValidateTopology(test rooms): %v", err)
	}

	oneWay := map[RoomID]*Room{
		"a": {ID: "a", Exits: map[string]RoomID{"east": "b"}},
		"b": {ID: "b", Exits: map[string]RoomID{}},
	}
	if err := ValidateTopology(oneWay, "a"); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("one-way map err = %v, want ErrDisconnected", err)
	}

	dangling := map[RoomID]*Room{
		"a": {ID: "a", Exits: map[string]RoomID{"east": "nowhere"}},
	}
	if err := ValidateTopology(dangling, "a"); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("dangling exit err = %v, want ErrUnknownRoom", err)
	}
	if err := ValidateTopology(testRooms(), "nowhere"); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("missing start err = %v, want ErrUnknownRoom", err)
	}
}

func TestCanonicalDirection(t *testing.T) {
	cases := map[string]string{"n": "north", "SW": "southwest", " up ": "up", "portal": "portal"}
	for in, want := range cases {
		if got := CanonicalDirection(in); got != want {
			t.Fatalf("CanonicalDirection(%q) = %q, want %q", in, got, want)
		}
	}
}
