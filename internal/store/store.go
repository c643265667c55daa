// Package store persists accounts, player locations and NPC state.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

var (
	// ErrNotFound is returned when a player or NPC has no stored record.
	ErrNotFound = errors.New("store: not found")
	// ErrExists is returned when creating a player whose name is taken.
	ErrExists = errors.New("store: already exists")
)

// Key folds a player name into the case-insensitive storage key.
func Key(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// PlayerRecord is a persisted account.
type PlayerRecord struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CurrentRoom  string    `json:"current_room"`
	CreatedAt    time.Time `json:"created_at"`
	LastLogin    time.Time `json:"last_login"`
	TotalLogins  int       `json:"total_logins"`
}

// MemoryRecord is one NPC's memory of one player.
type MemoryRecord struct {
	Player           string    `json:"player"`
	InteractionCount int       `json:"interaction_count"`
	FirstMet         time.Time `json:"first_met"`
	LastSeen         time.Time `json:"last_seen"`
	Topics           []string  `json:"topics,omitempty"`
}

// NPCState is the mutable part of an NPC worth keeping across restarts.
// Memories are keyed by folded player name.
type NPCState struct {
	ID          string                  `json:"id"`
	CurrentRoom string                  `json:"current_room"`
	LastMoved   time.Time               `json:"last_moved"`
	Memories    map[string]MemoryRecord `json:"memories,omitempty"`
}

// Gateway is the narrow storage interface the game depends on. ErrNotFound
// and ErrExists are permanent; any other error may be retried.
type Gateway interface {
	LoadPlayer(ctx context.Context, username string) (PlayerRecord, error)
	CreatePlayer(ctx context.Context, rec PlayerRecord) error
	RecordLogin(ctx context.Context, username string, at time.Time) error
	SavePlayerRoom(ctx context.Context, username, room string) error
	ListPlayers(ctx context.Context) ([]PlayerRecord, error)
	LoadNPCState(ctx context.Context, id string) (NPCState, error)
	SaveNPCState(ctx context.Context, st NPCState) error
	PruneNPCMemory(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// Permanent reports whether err should not be retried.
func Permanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExists) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func cloneMemories(in map[string]MemoryRecord) map[string]MemoryRecord {
	if in == nil {
		return nil
	}
	out := make(map[string]MemoryRecord, len(in))
	for k, m := range in {
		m.Topics = append([]string(nil), m.Topics...)
		out[k] = m
	}
	return out
}
