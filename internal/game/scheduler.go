package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"samud/internal/store"
)

const (
	DefaultEngageWindow     = 30 * time.Second
	DefaultAmbientMin       = 30 * time.Second
	DefaultAmbientMax       = 60 * time.Second
	DefaultReplyDelayMin    = time.Second
	DefaultReplyDelayMax    = 2 * time.Second
	DefaultReactionDelay    = 1500 * time.Millisecond
	DefaultMemoryPruneEvery = time.Hour
)

// NPCStateLoader reads persisted NPC state at startup.
type NPCStateLoader interface {
	LoadNPCState(ctx context.Context, id string) (store.NPCState, error)
}

// NPCStateSaver queues NPC state for persistence without blocking.
type NPCStateSaver interface {
	SaveNPCState(st store.NPCState)
}

// SchedulerOptions tunes NPC timing. Zero values take the defaults above.
type SchedulerOptions struct {
	EngageWindow  time.Duration
	AmbientMin    time.Duration
	AmbientMax    time.Duration
	ReplyDelayMin time.Duration
	ReplyDelayMax time.Duration
	ReactionDelay time.Duration
	PruneInterval time.Duration
	Seed          int64
	Loader        NPCStateLoader
	Saver         NPCStateSaver
	Events        EventSink
}

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	if o.EngageWindow <= 0 {
		o.EngageWindow = DefaultEngageWindow
	}
	if o.AmbientMin <= 0 {
		o.AmbientMin = DefaultAmbientMin
	}
	if o.AmbientMax < o.AmbientMin {
		o.AmbientMax = DefaultAmbientMax
		if o.AmbientMax < o.AmbientMin {
			o.AmbientMax = o.AmbientMin
		}
	}
	if o.ReplyDelayMin < 0 {
		o.ReplyDelayMin = 0
	}
	if o.ReplyDelayMin == 0 && o.ReplyDelayMax == 0 {
		o.ReplyDelayMin, o.ReplyDelayMax = DefaultReplyDelayMin, DefaultReplyDelayMax
	}
	if o.ReplyDelayMax < o.ReplyDelayMin {
		o.ReplyDelayMax = o.ReplyDelayMin
	}
	if o.ReactionDelay <= 0 {
		o.ReactionDelay = DefaultReactionDelay
	}
	if o.PruneInterval <= 0 {
		o.PruneInterval = DefaultMemoryPruneEvery
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

// Scheduler drives every NPC: one goroutine per NPC for movement and
// ambient lines, delayed replies to speech, and memory pruning.
type Scheduler struct {
	world  *World
	router *Router
	log    *zap.Logger
	opts   SchedulerOptions

	// reload is held for writing while descriptors are swapped and for
	// reading by ticks and speech handling.
	reload sync.RWMutex

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	loops   map[string]context.CancelFunc
	wg      sync.WaitGroup
	stopped bool

	rndMu sync.Mutex
	rnd   *rand.Rand

	now func() time.Time
}

func NewScheduler(world *World, router *Router, log *zap.Logger, opts SchedulerOptions) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Scheduler{
		world:  world,
		router: router,
		log:    log,
		opts:   opts,
		loops:  make(map[string]context.CancelFunc),
		rnd:    rand.New(rand.NewSource(opts.Seed)),
		now:    time.Now,
	}
}

func clampInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultNPCTickInterval
	case d < MinNPCTickInterval:
		return MinNPCTickInterval
	case d > MaxNPCTickInterval:
		return MaxNPCTickInterval
	}
	return d
}

func (s *Scheduler) randDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return lo + time.Duration(s.rnd.Int63n(int64(hi-lo)+1))
}

// Spawn places NPCs for behaviors, restoring persisted room and memory when
// a loader is configured. A stored room outside the allowed set is ignored.
func (s *Scheduler) Spawn(ctx context.Context, behaviors []*NPCBehavior) error {
	var errs []error
	for _, b := range behaviors {
		if err := s.spawn(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) spawn(ctx context.Context, b *NPCBehavior) error {
	n := NewNPC(b)
	room := b.StartRoom
	if s.opts.Loader != nil {
		st, err := s.opts.Loader.LoadNPCState(ctx, b.ID)
		switch {
		case err == nil:
			n.RestoreMemories(memoriesFromStore(st.Memories), st.LastMoved)
			if b.Allows(RoomID(st.CurrentRoom)) {
				room = RoomID(st.CurrentRoom)
			}
		case errors.Is(err, store.ErrNotFound):
		default:
			s.log.Warn("load npc state failed", zap.String("npc", b.ID), zap.Error(err))
		}
	}
	if _, err := s.world.AddNPC(n, room); err != nil {
		return fmt.Errorf("spawn %s: %w", b.ID, err)
	}
	s.mu.Lock()
	running := s.ctx != nil && !s.stopped
	s.mu.Unlock()
	if running {
		s.startLoop(n)
	}
	return nil
}

// Start launches the per-NPC loops and the pruning task.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	for _, n := range s.world.NPCs() {
		s.startLoop(n)
	}
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.pruneLoop(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.periodLoop(s.ctx)
	}()
}

// nextPeriodStart returns the first instant after t that begins a new
// Period.
func nextPeriodStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, (t.Hour()/6+1)*6, 0, 0, 0, t.Location())
}

func (s *Scheduler) periodLoop(ctx context.Context) {
	for {
		wait := nextPeriodStart(s.now()).Sub(s.now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.PeriodChanged(s.now())
		}
	}
}

// PeriodChanged ticks every NPC whose schedule puts it elsewhere for the
// period starting at now, without waiting for its regular tick. It returns
// how many moved.
func (s *Scheduler) PeriodChanged(now time.Time) int {
	period := PeriodAt(now)
	moved := 0
	for _, n := range s.world.NPCs() {
		target, ok := n.Behavior().Schedule[period]
		if !ok {
			continue
		}
		if current, ok := s.world.LocationOf(n); !ok || current == target {
			continue
		}
		if s.Tick(n, now) {
			moved++
		}
	}
	if moved > 0 {
		s.log.Debug("period changed", zap.String("period", string(period)), zap.Int("moved", moved))
	}
	return moved
}

func (s *Scheduler) startLoop(n *NPC) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.ctx == nil {
		return
	}
	if _, ok := s.loops[n.ID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.loops[n.ID] = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, n)
	}()
}

func (s *Scheduler) stopLoop(id string) {
	s.mu.Lock()
	cancel, ok := s.loops[id]
	delete(s.loops, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Scheduler) run(ctx context.Context, n *NPC) {
	interval := clampInterval(n.Behavior().TickInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ambient := time.NewTimer(s.randDuration(s.opts.AmbientMin, s.opts.AmbientMax))
	defer ambient.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(n, now)
			if next := clampInterval(n.Behavior().TickInterval); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case now := <-ambient.C:
			s.Ambient(n, now)
			ambient.Reset(s.randDuration(s.opts.AmbientMin, s.opts.AmbientMax))
		}
	}
}

// Tick evaluates one movement decision for n. A tick arriving while the
// previous one is still running is skipped. It reports whether n moved.
func (s *Scheduler) Tick(n *NPC, now time.Time) (moved bool) {
	if !n.inFlight.CompareAndSwap(false, true) {
		s.log.Debug("npc tick skipped, previous still running", zap.String("npc", n.ID))
		return false
	}
	defer n.inFlight.Store(false)
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("npc tick panicked", zap.String("npc", n.ID), zap.Any("panic", rec))
			moved = false
		}
	}()
	s.reload.RLock()
	defer s.reload.RUnlock()

	current, ok := s.world.LocationOf(n)
	if !ok {
		return false
	}
	if n.Engaged(now, s.world.PlayersIn(current)) {
		return false
	}
	s.rndMu.Lock()
	target, want := n.NextTarget(current, now, s.rnd)
	s.rndMu.Unlock()
	if !want {
		return false
	}
	step, ok := s.world.NextHop(current, target, n.Behavior().allowedSet())
	if !ok {
		s.log.Debug("npc has no path", zap.String("npc", n.ID), zap.String("from", string(current)), zap.String("to", string(target)))
		return false
	}
	m, err := s.world.Move(n, current, step)
	if err != nil {
		s.log.Debug("npc move rejected", zap.String("npc", n.ID), zap.Error(err))
		return false
	}
	n.markMoved(now)
	depart, arrive := n.MovementLines(s.roomTitle(m.From), s.roomTitle(m.To))
	s.router.SendToPlayers(m.Remaining, Envelope{Channel: ChannelEmote, Text: depart})
	s.router.SendToPlayers(m.Present, Envelope{Channel: ChannelEmote, Text: arrive})
	s.save(n)
	if s.opts.Events != nil {
		s.opts.Events.Record(Event{Time: now.UTC(), Kind: "npc_move", Actor: n.DisplayName(), Room: m.From, Target: m.To})
	}
	return true
}

func (s *Scheduler) roomTitle(id RoomID) string {
	if r, ok := s.world.GetRoom(id); ok && r.Title != "" {
		return r.Title
	}
	return string(id)
}

// Ambient emits one ambient line for n when players share its room.
func (s *Scheduler) Ambient(n *NPC, now time.Time) bool {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("npc ambient panicked", zap.String("npc", n.ID), zap.Any("panic", rec))
		}
	}()
	room, ok := s.world.LocationOf(n)
	if !ok {
		return false
	}
	players := s.world.PlayersIn(room)
	if len(players) == 0 {
		return false
	}
	s.rndMu.Lock()
	line := n.Ambient(len(players), s.rnd)
	s.rndMu.Unlock()
	if line == "" {
		return false
	}
	s.router.SendToPlayers(players, Envelope{Channel: ChannelEmote, Text: line})
	return true
}

// Hear lets every NPC in room react to speaker saying message. Matching and
// memory updates happen now; the reply is delivered after a short delay.
func (s *Scheduler) Hear(room RoomID, speaker, message string) {
	s.reload.RLock()
	defer s.reload.RUnlock()
	now := s.now()
	for _, n := range s.world.NPCsIn(room) {
		s.hear(n, room, speaker, message, now)
	}
}

func (s *Scheduler) hear(n *NPC, room RoomID, speaker, message string, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("npc dialogue panicked", zap.String("npc", n.ID), zap.Any("panic", rec))
		}
	}()
	response, matched := n.MatchKeyword(message)
	if !matched {
		return
	}
	fresh := n.Engage(speaker, now, s.opts.EngageWindow)
	known := n.Remember(speaker, message, now)
	var lines []string
	if fresh {
		if greeting := n.Greeting(speaker, known); greeting != "" {
			lines = append(lines, greeting)
		}
	}
	lines = append(lines, fillPlayer(response, speaker))
	s.save(n)
	s.later(s.randDuration(s.opts.ReplyDelayMin, s.opts.ReplyDelayMax), func() {
		for _, line := range lines {
			s.speak(n, room, line)
		}
	})
}

// PlayerArrived lets one NPC in room react to player walking in.
func (s *Scheduler) PlayerArrived(room RoomID, player string) {
	s.react(room, player, (*NPC).ArrivalReaction)
}

// PlayerLeft lets one NPC in room react to player walking out.
func (s *Scheduler) PlayerLeft(room RoomID, player string) {
	s.react(room, player, (*NPC).DepartureReaction)
}

func (s *Scheduler) react(room RoomID, player string, line func(*NPC, string) string) {
	for _, n := range s.world.NPCsIn(room) {
		text := line(n, player)
		if text == "" {
			continue
		}
		s.later(s.opts.ReactionDelay, func() { s.speak(n, room, text) })
		return
	}
}

func (s *Scheduler) later(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		fn()
	})
}

// speak delivers text from n to room unless n has wandered off meanwhile.
func (s *Scheduler) speak(n *NPC, room RoomID, text string) {
	if current, ok := s.world.LocationOf(n); !ok || current != room {
		return
	}
	s.router.SendToRoom(room, Envelope{Channel: ChannelNPC, Speaker: n.DisplayName(), Text: text})
}

func (s *Scheduler) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Prune(now)
		}
	}
}

// Prune drops expired memories from every NPC and returns how many went.
func (s *Scheduler) Prune(now time.Time) int {
	total := 0
	for _, n := range s.world.NPCs() {
		if removed := n.Prune(now); removed > 0 {
			total += removed
			s.save(n)
		}
	}
	if total > 0 {
		s.log.Info("pruned npc memories", zap.Int("removed", total))
	}
	return total
}

// Reload swaps in new behaviors once in-flight ticks finish. NPCs absent
// from behaviors are removed; new ones are spawned.
func (s *Scheduler) Reload(ctx context.Context, behaviors []*NPCBehavior) error {
	s.reload.Lock()
	next := make(map[string]*NPCBehavior, len(behaviors))
	for _, b := range behaviors {
		next[b.ID] = b
	}
	var added []*NPCBehavior
	for _, n := range s.world.NPCs() {
		b, keep := next[n.ID]
		if !keep {
			s.stopLoop(n.ID)
			s.save(n)
			s.world.RemoveNPC(n.ID)
			s.log.Info("npc removed", zap.String("npc", n.ID))
			continue
		}
		n.SetBehavior(b)
		delete(next, n.ID)
		if room, ok := s.world.LocationOf(n); ok && !b.Allows(room) {
			s.displace(n, room, b.StartRoom)
		}
	}
	for _, b := range next {
		added = append(added, b)
	}
	s.reload.Unlock()

	sort.Slice(added, func(i, j int) bool { return added[i].ID < added[j].ID })
	return s.Spawn(ctx, added)
}

// displace returns n to start after a reload took its room out of the
// allowed set.
func (s *Scheduler) displace(n *NPC, from, start RoomID) {
	left := s.world.PlayersIn(from)
	s.world.RemoveNPC(n.ID)
	to, err := s.world.AddNPC(n, start)
	if err != nil {
		s.log.Warn("npc displace failed", zap.String("npc", n.ID), zap.Error(err))
		return
	}
	depart, arrive := n.MovementLines(s.roomTitle(from), s.roomTitle(to))
	s.router.SendToPlayers(left, Envelope{Channel: ChannelEmote, Text: depart})
	s.router.SendToPlayers(s.world.PlayersIn(to), Envelope{Channel: ChannelEmote, Text: arrive})
	s.save(n)
	s.log.Info("npc moved back inside allowed rooms", zap.String("npc", n.ID), zap.String("from", string(from)), zap.String("to", string(to)))
}

// Stop ends every loop, waits for them and saves all NPC state.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.SaveAll()
}

// SaveAll queues every NPC's state for persistence.
func (s *Scheduler) SaveAll() {
	for _, n := range s.world.NPCs() {
		s.save(n)
	}
}

func (s *Scheduler) save(n *NPC) {
	if s.opts.Saver == nil {
		return
	}
	s.opts.Saver.SaveNPCState(s.StateOf(n))
}

// StateOf snapshots n for persistence.
func (s *Scheduler) StateOf(n *NPC) store.NPCState {
	room, ok := s.world.LocationOf(n)
	if !ok {
		room = n.Behavior().StartRoom
	}
	return store.NPCState{
		ID:          n.ID,
		CurrentRoom: string(room),
		LastMoved:   n.LastMoved(),
		Memories:    memoriesToStore(n.Memories()),
	}
}

func memoriesToStore(in map[string]Memory) map[string]store.MemoryRecord {
	out := make(map[string]store.MemoryRecord, len(in))
	for k, m := range in {
		out[k] = store.MemoryRecord{
			Player:           m.Name,
			InteractionCount: m.InteractionCount,
			FirstMet:         m.FirstMet,
			LastSeen:         m.LastSeen,
			Topics:           append([]string(nil), m.Topics...),
		}
	}
	return out
}

func memoriesFromStore(in map[string]store.MemoryRecord) map[string]Memory {
	out := make(map[string]Memory, len(in))
	for k, m := range in {
		out[k] = Memory{
			Name:             m.Player,
			InteractionCount: m.InteractionCount,
			FirstMet:         m.FirstMet,
			LastSeen:         m.LastSeen,
			Topics:           append([]string(nil), m.Topics...),
		}
	}
	return out
}
