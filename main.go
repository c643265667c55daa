package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"samud/commands"
	"samud/internal/audit"
	"samud/internal/config"
	"samud/internal/content"
	"samud/internal/game"
	"samud/internal/store"
	"samud/internal/wsline"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	log, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	backend, err := cfg.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()
	gw := store.NewRetrying(backend, store.DefaultRetryPolicy, log.Named("store"))
	mirror := store.NewMirror(gw, log.Named("mirror"))

	bundle, err := content.Load(cfg.ContentDir)
	if err != nil {
		return err
	}
	world, err := game.NewWorld(bundle.Rooms.Rooms, bundle.Start)
	if err != nil {
		return err
	}
	log.Info("content loaded",
		zap.Int("rooms", len(bundle.Rooms.Rooms)),
		zap.Int("npcs", len(bundle.NPCs)),
		zap.String("start", string(bundle.Start)))

	sessions := game.NewRegistry(game.RegistryConfig{
		MaxSessions: cfg.MaxConnections,
		IdleTimeout: cfg.IdleTimeout,
		IdleWarning: cfg.IdleWarning,
		AuthTimeout: cfg.AuthTimeout,
	}, log.Named("sessions"))
	g := game.NewGame(world, sessions, log)
	g.Rooms = mirror
	g.Accounts = game.NewAccountManager(gw, game.BcryptHasher{}, log.Named("accounts"))

	var journal *audit.Journal
	if cfg.AuditDir != "" {
		journal = audit.Open(cfg.AuditDir, log.Named("audit"))
		g.Events = journal
	}

	sched := game.NewScheduler(world, g.Router, log.Named("npc"), game.SchedulerOptions{
		PruneInterval: cfg.MemoryPruneInterval,
		Loader:        gw,
		Saver:         mirror,
		Events:        g.Events,
	})
	g.NPCs = sched
	if err := sched.Spawn(ctx, bundle.NPCs); err != nil {
		return err
	}
	sched.Start(ctx)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	goServe := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errs <- err
				log.Error(name+" stopped", zap.Error(err))
			}
		}()
	}

	var opts []game.ServerOption
	if cfg.TLS {
		opts = append(opts, game.WithTLS(cfg.TLSCert, cfg.TLSKey))
	}
	goServe("telnet", func() error {
		return g.ListenAndServe(ctx, cfg.Addr(), commands.Dispatch, opts...)
	})
	if cfg.WSAddr != "" {
		ws := wsline.NewServer(g, commands.Dispatch)
		goServe("websocket", func() error { return ws.ListenAndServe(ctx, cfg.WSAddr) })
	}
	go sessions.RunSweeper(ctx, cfg.SweepInterval)
	if cfg.WatchContent {
		err := content.Watch(ctx, cfg.ContentDir, log.Named("content"), func() {
			_ = content.Reload(ctx, g, cfg.ContentDir)
		})
		if err != nil {
			log.Error("content watcher not started", zap.Error(err))
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errs:
	}
	cancel()

	sched.Stop()
	sessions.CloseAll("server shutting down")
	wg.Wait()
	if journal != nil {
		_ = journal.Close()
	}
	shutdownCtx, release := context.WithTimeout(context.Background(), shutdownGrace)
	defer release()
	if err := mirror.Close(shutdownCtx); err != nil {
		log.Warn("persistence queue not drained", zap.Error(err))
	}
	stats := mirror.Stats()
	log.Info("shutdown complete", zap.Uint64("written", stats.Written), zap.Uint64("failed", stats.Failed))
	return runErr
}
