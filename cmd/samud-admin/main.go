// Command samud-admin inspects and maintains a SAMUD data store offline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"samud/internal/audit"
	"samud/internal/config"
	"samud/internal/content"
	"samud/internal/store"
)

const usage = `usage: samud-admin <command> [flags]

commands:
  players        list accounts with their last room
  npc <id>       show persisted state and memories of one NPC
  prune-memory   drop NPC memories older than -days
  audit          print audit journal events
  validate       load content and report problems
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(context.Background(), os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("see samud-admin -h")

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "players":
		return playersCmd(ctx, args, out)
	case "npc":
		return npcCmd(ctx, args, out)
	case "prune-memory":
		return pruneCmd(ctx, args, out)
	case "audit":
		return auditCmd(args, out)
	case "validate":
		return validateCmd(args, out)
	case "-h", "--help", "help":
		fmt.Fprint(out, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
}

// storeFlags registers -store and -db defaults from the environment.
func storeFlags(fs *flag.FlagSet) *config.Config {
	cfg, err := config.Load(nil)
	if err != nil {
		cfg = config.Config{Store: store.KindSQLite, DBPath: "data/samud.db"}
	}
	fs.StringVar(&cfg.Store, "store", cfg.Store, "storage backend: sqlite, redis or memory")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.Redis.Addr, "redis", cfg.Redis.Addr, "Redis address")
	return &cfg
}

func playersCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("players", flag.ContinueOnError)
	cfg := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	gw, err := cfg.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer gw.Close()

	players, err := gw.ListPlayers(ctx)
	if err != nil {
		return err
	}
	sort.Slice(players, func(i, j int) bool { return store.Key(players[i].Username) < store.Key(players[j].Username) })
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tROOM\tLOGINS\tLAST LOGIN")
	for _, p := range players {
		last := "-"
		if !p.LastLogin.IsZero() {
			last = p.LastLogin.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", p.Username, p.CurrentRoom, p.TotalLogins, last)
	}
	return tw.Flush()
}

func npcCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("npc", flag.ContinueOnError)
	cfg := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("npc needs exactly one id: %w", errUsage)
	}
	gw, err := cfg.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer gw.Close()

	st, err := gw.LoadNPCState(ctx, fs.Arg(0))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no saved state for %q", fs.Arg(0))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s in %s", st.ID, st.CurrentRoom)
	if !st.LastMoved.IsZero() {
		fmt.Fprintf(out, " (moved %s)", st.LastMoved.Local().Format(time.DateTime))
	}
	fmt.Fprintln(out)
	keys := make([]string, 0, len(st.Memories))
	for k := range st.Memories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAYER\tTALKS\tLAST SEEN\tTOPICS")
	for _, k := range keys {
		m := st.Memories[k]
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", m.Player, m.InteractionCount, m.LastSeen.Local().Format(time.DateTime), strings.Join(m.Topics, "; "))
	}
	return tw.Flush()
}

func pruneCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("prune-memory", flag.ContinueOnError)
	cfg := storeFlags(fs)
	days := fs.Int("days", 30, "remove memories not refreshed in this many days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days < 0 {
		return fmt.Errorf("-days must not be negative")
	}
	gw, err := cfg.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer gw.Close()

	before := time.Now().AddDate(0, 0, -*days)
	n, err := gw.PruneNPCMemory(ctx, before)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pruned %d memories older than %s\n", n, before.Local().Format(time.DateOnly))
	return nil
}

func auditCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	dir := fs.String("dir", os.Getenv("AUDIT_DIR"), "audit journal directory")
	kind := fs.String("kind", "", "only events of this kind (login, move, say, ...)")
	actor := fs.String("actor", "", "only events by this player or NPC")
	limit := fs.Int("n", 0, "print only the last n events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*dir) == "" {
		return fmt.Errorf("missing -dir: %w", errUsage)
	}
	events, err := audit.ReadDir(*dir, audit.Filter{Kind: *kind, Actor: *actor})
	if err != nil {
		return err
	}
	if *limit > 0 && len(events) > *limit {
		events = events[len(events)-*limit:]
	}
	for _, ev := range events {
		line := fmt.Sprintf("%s %-7s %s", ev.Time.Local().Format(time.DateTime), ev.Kind, ev.Actor)
		if ev.Room != "" {
			line += " @" + string(ev.Room)
		}
		if ev.Target != "" {
			line += " -> " + string(ev.Target)
		}
		if ev.Text != "" {
			line += fmt.Sprintf(" %q", ev.Text)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func validateCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	dir := fs.String("content", "data", "directory holding rooms/ and npcs/")
	if err := fs.Parse(args); err != nil {
		return err
	}
	b, err := content.Load(*dir)
	if err != nil {
		return err
	}
	zones := make(map[string]int)
	for _, r := range b.Rooms.Rooms {
		zones[r.Zone]++
	}
	fmt.Fprintf(out, "ok: %d rooms in %d zones, %d npcs, start %s\n", len(b.Rooms.Rooms), len(zones), len(b.NPCs), b.Start)
	return nil
}
