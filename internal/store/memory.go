package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Gateway used by tests and by STORE=memory.
type Memory struct {
	mu      sync.Mutex
	players map[string]PlayerRecord
	npcs    map[string]NPCState
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		players: make(map[string]PlayerRecord),
		npcs:    make(map[string]NPCState),
	}
}

func (m *Memory) LoadPlayer(_ context.Context, username string) (PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.players[Key(username)]
	if !ok {
		return PlayerRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) CreatePlayer(_ context.Context, rec PlayerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(rec.Username)
	if _, ok := m.players[key]; ok {
		return ErrExists
	}
	m.players[key] = rec
	return nil
}

func (m *Memory) RecordLogin(_ context.Context, username string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(username)
	rec, ok := m.players[key]
	if !ok {
		return ErrNotFound
	}
	rec.LastLogin = at.UTC()
	rec.TotalLogins++
	m.players[key] = rec
	return nil
}

func (m *Memory) SavePlayerRoom(_ context.Context, username, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(username)
	rec, ok := m.players[key]
	if !ok {
		return ErrNotFound
	}
	rec.CurrentRoom = room
	m.players[key] = rec
	return nil
}

func (m *Memory) ListPlayers(context.Context) ([]PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlayerRecord, 0, len(m.players))
	for _, rec := range m.players {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return Key(out[i].Username) < Key(out[j].Username) })
	return out, nil
}

func (m *Memory) LoadNPCState(_ context.Context, id string) (NPCState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.npcs[id]
	if !ok {
		return NPCState{}, ErrNotFound
	}
	st.Memories = cloneMemories(st.Memories)
	return st, nil
}

func (m *Memory) SaveNPCState(_ context.Context, st NPCState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.Memories = cloneMemories(st.Memories)
	m.npcs[st.ID] = st
	return nil
}

func (m *Memory) PruneNPCMemory(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, st := range m.npcs {
		for k, mem := range st.Memories {
			if mem.LastSeen.Before(before) {
				delete(st.Memories, k)
				removed++
			}
		}
		m.npcs[id] = st
	}
	return removed, nil
}

func (m *Memory) Close() error { return nil }
