package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	mirrorWriteTimeout = 5 * time.Second
	mirrorMaxPasses    = 3
)

type pendingWrite struct {
	apply  func(context.Context, Gateway) error
	passes int
}

// Mirror is a write-behind queue in front of a Gateway. Writes for the same
// key coalesce so only the latest value is stored. Enqueueing never blocks
// on I/O; a single goroutine performs the writes.
type Mirror struct {
	gw  Gateway
	log *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingWrite
	order   []string
	closed  bool

	wake    chan struct{}
	flushes chan chan struct{}
	stop    context.CancelFunc
	done    chan struct{}

	written   atomic.Uint64
	coalesced atomic.Uint64
	failed    atomic.Uint64
}

// NewMirror starts the writer goroutine.
func NewMirror(gw Gateway, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Mirror{
		gw:      gw,
		log:     log,
		pending: make(map[string]*pendingWrite),
		wake:    make(chan struct{}, 1),
		flushes: make(chan chan struct{}),
		stop:    cancel,
		done:    make(chan struct{}),
	}
	go m.loop(ctx)
	return m
}

// SavePlayerRoom queues the player's last room.
func (m *Mirror) SavePlayerRoom(name, room string) {
	m.enqueue("player:"+Key(name), func(ctx context.Context, gw Gateway) error {
		return gw.SavePlayerRoom(ctx, name, room)
	})
}

// SaveNPCState queues a snapshot of an NPC.
func (m *Mirror) SaveNPCState(st NPCState) {
	st.Memories = cloneMemories(st.Memories)
	m.enqueue("npc:"+st.ID, func(ctx context.Context, gw Gateway) error {
		return gw.SaveNPCState(ctx, st)
	})
}

func (m *Mirror) enqueue(key string, apply func(context.Context, Gateway) error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.log.Warn("mirror closed, dropping write", zap.String("key", key))
		return
	}
	if _, ok := m.pending[key]; ok {
		m.coalesced.Add(1)
	} else {
		m.order = append(m.order, key)
	}
	m.pending[key] = &pendingWrite{apply: apply}
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Mirror) loop(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case <-m.wake:
			m.drain()
		case ack := <-m.flushes:
			m.drain()
			close(ack)
		}
	}
}

func (m *Mirror) drain() {
	for {
		m.mu.Lock()
		if len(m.order) == 0 {
			m.mu.Unlock()
			return
		}
		order := m.order
		batch := m.pending
		m.order = nil
		m.pending = make(map[string]*pendingWrite, len(batch))
		m.mu.Unlock()

		for _, key := range order {
			w := batch[key]
			ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
			err := w.apply(ctx, m.gw)
			cancel()
			if err == nil {
				m.written.Add(1)
				continue
			}
			m.failed.Add(1)
			w.passes++
			if Permanent(err) || w.passes >= mirrorMaxPasses {
				m.log.Error("mirror write dropped", zap.String("key", key), zap.Int("passes", w.passes), zap.Error(err))
				continue
			}
			m.log.Warn("mirror write failed, will retry", zap.String("key", key), zap.Error(err))
			m.mu.Lock()
			if _, newer := m.pending[key]; !newer {
				m.pending[key] = w
				m.order = append(m.order, key)
			}
			m.mu.Unlock()
		}
	}
}

// Flush blocks until every write queued before the call has been attempted.
func (m *Mirror) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case m.flushes <- ack:
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes, drains the queue and stops the writer.
func (m *Mirror) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MirrorStats counts writer outcomes.
type MirrorStats struct {
	Written   uint64
	Coalesced uint64
	Failed    uint64
}

// Stats returns counters since start.
func (m *Mirror) Stats() MirrorStats {
	return MirrorStats{
		Written:   m.written.Load(),
		Coalesced: m.coalesced.Load(),
		Failed:    m.failed.Load(),
	}
}
