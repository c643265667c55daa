package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"samud/internal/audit"
	"samud/internal/game"
	"samud/internal/store"
)

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "samud.db")
	db, err := store.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	now := time.Now()
	for _, name := range []string{"bob", "Alice"} {
		if err := db.CreatePlayer(ctx, store.PlayerRecord{Username: name, PasswordHash: "x", CurrentRoom: "alamo_plaza", CreatedAt: now}); err != nil {
			t.Fatalf("CreatePlayer: %v", err)
		}
	}
	st := store.NPCState{
		ID:          "old_tom",
		CurrentRoom: "river_walk",
		Memories: map[string]store.MemoryRecord{
			"alice": {Player: "Alice", InteractionCount: 3, FirstMet: now, LastSeen: now, Topics: []string{"history"}},
			"bob":   {Player: "bob", InteractionCount: 1, FirstMet: now.AddDate(0, 0, -90), LastSeen: now.AddDate(0, 0, -90)},
		},
	}
	if err := db.SaveNPCState(ctx, st); err != nil {
		t.Fatalf("SaveNPCState: %v", err)
	}
	return path
}

func runCmd(t *testing.T, cmd string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), cmd, args, &out)
	return out.String(), err
}

func TestPlayersListsSortedByName(t *testing.T) {
	db := seedDB(t)
	out, err := runCmd(t, "players", "-store", "sqlite", "-db", db)
	if err != nil {
		t.Fatalf("players: %v", err)
	}
	alice, bob := strings.Index(out, "Alice"), strings.Index(out, "bob")
	if alice < 0 || bob < 0 || alice > bob {
		t.Fatalf("players output = %q", out)
	}
}

func TestNPCShowsMemories(t *testing.T) {
	db := seedDB(t)
	out, err := runCmd(t, "npc", "-store", "sqlite", "-db", db, "old_tom")
	if err != nil {
		t.Fatalf("npc: %v", err)
	}
	if !strings.Contains(out, "old_tom in river_walk") || !strings.Contains(out, "history") {
		t.Fatalf("npc output = %q", out)
	}
	if _, err := runCmd(t, "npc", "-store", "sqlite", "-db", db, "nobody"); err == nil {
		t.Fatalf("npc accepted unknown id")
	}
}

func TestPruneMemoryDropsOldEntries(t *testing.T) {
	db := seedDB(t)
	out, err := runCmd(t, "prune-memory", "-store", "sqlite", "-db", db, "-days", "30")
	if err != nil {
		t.Fatalf("prune-memory: %v", err)
	}
	if !strings.HasPrefix(out, "pruned 1 ") {
		t.Fatalf("prune output = %q", out)
	}
	out, err = runCmd(t, "npc", "-store", "sqlite", "-db", db, "old_tom")
	if err != nil {
		t.Fatalf("npc: %v", err)
	}
	if strings.Contains(out, "bob") {
		t.Fatalf("bob memory survived prune: %q", out)
	}
}

func TestAuditPrintsFilteredEvents(t *testing.T) {
	dir := t.TempDir()
	j := audit.Open(dir, nil)
	j.Record(game.Event{Time: time.Now(), Kind: "login", Actor: "alice"})
	j.Record(game.Event{Time: time.Now(), Kind: "move", Actor: "alice", Room: "alamo_plaza", Target: "river_walk"})
	j.Record(game.Event{Time: time.Now(), Kind: "login", Actor: "bob"})
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	out, err := runCmd(t, "audit", "-dir", dir, "-actor", "alice")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "@alamo_plaza -> river_walk") {
		t.Fatalf("audit output = %q", out)
	}
}

func TestValidateShippedContent(t *testing.T) {
	out, err := runCmd(t, "validate", "-content", filepath.Join("..", "..", "data"))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.HasPrefix(out, "ok: ") || !strings.Contains(out, "start alamo_plaza") {
		t.Fatalf("validate output = %q", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := runCmd(t, "explode")
	if !errors.Is(err, errUsage) {
		t.Fatalf("err = %v, want errUsage", err)
	}
}
