package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig is populated from the environment by the config package.
type RedisConfig struct {
	Addr      string `env:"REDIS_ADDR,default=localhost:6379"`
	Password  string `env:"REDIS_PASSWORD"`
	DB        int    `env:"REDIS_DB,default=0"`
	KeyPrefix string `env:"REDIS_PREFIX,default=samud:"`
}

// Redis is a Gateway over a Redis server. Players are hashes, NPC state is
// a hash whose memories field holds JSON.
type Redis struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(cl, cfg.KeyPrefix), nil
}

// NewRedis wraps an existing client.
func NewRedis(cl *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "samud:"
	}
	return &Redis{client: cl, prefix: prefix}
}

func (r *Redis) playerKey(name string) string { return r.prefix + "player:" + Key(name) }
func (r *Redis) playersKey() string           { return r.prefix + "players" }
func (r *Redis) npcKey(id string) string      { return r.prefix + "npc:" + id }
func (r *Redis) npcsKey() string              { return r.prefix + "npcs" }

func (r *Redis) LoadPlayer(ctx context.Context, username string) (PlayerRecord, error) {
	vals, err := r.client.HGetAll(ctx, r.playerKey(username)).Result()
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("load player %s: %w", username, err)
	}
	if len(vals) == 0 {
		return PlayerRecord{}, ErrNotFound
	}
	return decodePlayer(vals), nil
}

func decodePlayer(vals map[string]string) PlayerRecord {
	created, _ := strconv.ParseInt(vals["created_at"], 10, 64)
	last, _ := strconv.ParseInt(vals["last_login"], 10, 64)
	total, _ := strconv.Atoi(vals["total_logins"])
	return PlayerRecord{
		Username:     vals["username"],
		PasswordHash: vals["password_hash"],
		CurrentRoom:  vals["current_room"],
		CreatedAt:    fromMillis(created),
		LastLogin:    fromMillis(last),
		TotalLogins:  total,
	}
}

func (r *Redis) CreatePlayer(ctx context.Context, rec PlayerRecord) error {
	key := r.playerKey(rec.Username)
	created, err := r.client.HSetNX(ctx, key, "username", rec.Username).Result()
	if err != nil {
		return fmt.Errorf("create player %s: %w", rec.Username, err)
	}
	if !created {
		return ErrExists
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"password_hash", rec.PasswordHash,
			"current_room", rec.CurrentRoom,
			"created_at", toMillis(rec.CreatedAt),
			"last_login", toMillis(rec.LastLogin),
			"total_logins", rec.TotalLogins,
		)
		p.SAdd(ctx, r.playersKey(), Key(rec.Username))
		return nil
	})
	if err != nil {
		return fmt.Errorf("create player %s: %w", rec.Username, err)
	}
	return nil
}

func (r *Redis) exists(ctx context.Context, key string) error {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) RecordLogin(ctx context.Context, username string, at time.Time) error {
	key := r.playerKey(username)
	if err := r.exists(ctx, key); err != nil {
		return err
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "last_login", toMillis(at))
		p.HIncrBy(ctx, key, "total_logins", 1)
		return nil
	})
	return err
}

func (r *Redis) SavePlayerRoom(ctx context.Context, username, room string) error {
	key := r.playerKey(username)
	if err := r.exists(ctx, key); err != nil {
		return err
	}
	return r.client.HSet(ctx, key, "current_room", room).Err()
}

func (r *Redis) ListPlayers(ctx context.Context) ([]PlayerRecord, error) {
	keys, err := r.client.SMembers(ctx, r.playersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	sort.Strings(keys)
	out := make([]PlayerRecord, 0, len(keys))
	for _, k := range keys {
		vals, err := r.client.HGetAll(ctx, r.prefix+"player:"+k).Result()
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			continue
		}
		out = append(out, decodePlayer(vals))
	}
	return out, nil
}

func (r *Redis) LoadNPCState(ctx context.Context, id string) (NPCState, error) {
	vals, err := r.client.HGetAll(ctx, r.npcKey(id)).Result()
	if err != nil {
		return NPCState{}, fmt.Errorf("load npc %s: %w", id, err)
	}
	if len(vals) == 0 {
		return NPCState{}, ErrNotFound
	}
	moved, _ := strconv.ParseInt(vals["last_moved"], 10, 64)
	st := NPCState{ID: id, CurrentRoom: vals["current_room"], LastMoved: fromMillis(moved)}
	if raw := vals["memories"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &st.Memories); err != nil {
			return NPCState{}, fmt.Errorf("decode npc %s memory: %w", id, err)
		}
	}
	return st, nil
}

func (r *Redis) SaveNPCState(ctx context.Context, st NPCState) error {
	mem, err := json.Marshal(st.Memories)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.npcKey(st.ID),
			"current_room", st.CurrentRoom,
			"last_moved", toMillis(st.LastMoved),
			"memories", string(mem),
		)
		p.SAdd(ctx, r.npcsKey(), st.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save npc %s: %w", st.ID, err)
	}
	return nil
}

func (r *Redis) PruneNPCMemory(ctx context.Context, before time.Time) (int, error) {
	ids, err := r.client.SMembers(ctx, r.npcsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("prune npc memory: %w", err)
	}
	removed := 0
	for _, id := range ids {
		st, err := r.LoadNPCState(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		dropped := 0
		for k, m := range st.Memories {
			if m.LastSeen.Before(before) {
				delete(st.Memories, k)
				dropped++
			}
		}
		if dropped == 0 {
			continue
		}
		if err := r.SaveNPCState(ctx, st); err != nil {
			return removed, err
		}
		removed += dropped
	}
	return removed, nil
}

func (r *Redis) Close() error { return r.client.Close() }
