package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"kairos/internal/alarm"
	"kairos/internal/bus"
	"kairos/internal/calendar"
	"kairos/internal/config"
	appLog "kairos/internal/log"
	"kairos/internal/prefs"
	"kairos/internal/sched"
	"kairos/internal/wear"
	"kairos/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	verbose    bool
}

func main() {
	flags := parseFlags()
	if flags.verbose {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info("kairosd starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"peer_url", conf.PeerURL,
		"timezone", conf.Timezone,
		"sources", len(conf.Sources),
		"lookahead_minutes", conf.LookaheadMinutes,
		"sweep", conf.SweepCron,
		"push", conf.PushCron,
		"exact_alarms", conf.ExactAlarmsEnabled(),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("kairosd failed", err)
		os.Exit(1)
	}

	appLog.Info("kairosd exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	loc := resolveLocationOrLocal(conf.Timezone)

	db, err := prefs.OpenDB(conf.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := prefs.NewStore(db)
	if err != nil {
		return err
	}

	adapter := calendar.NewAdapter(conf.Sources, loc)
	b := bus.New()

	table := alarm.NewTable(alarm.StaticGate(conf.ExactAlarmsEnabled()), func(p alarm.FirePayload) {
		b.Publish(bus.AlarmFired{
			Title:       p.Title,
			UniqueID:    p.UniqueID,
			EventID:     p.EventID,
			StartMillis: p.StartMillis,
		})
	})

	alerter := alarm.NewAlerter(nil, nil, store)
	go alerter.Run(ctx, b)

	pusher := wear.NewPusher(adapter, store, conf.PeerURL)

	coord := sched.NewCoordinator(sched.Options{
		Source:  adapter,
		Prefs:   store,
		Table:   table,
		Bus:     b,
		Window:  time.Duration(conf.LookaheadMinutes) * time.Minute,
		Horizon: time.Duration(conf.HorizonDays) * 24 * time.Hour,
	})

	sweepAndPush := func() {
		coord.Sweep(ctx)
		if err := pusher.Push(ctx); err != nil {
			appLog.Error("snapshot push failed, watch cache stays stale until next attempt", err)
		}
		if err := pusher.PushPrefs(ctx); err != nil {
			appLog.Error("preference push failed, watch state stays stale until next attempt", err)
		}
	}

	if once {
		sweepAndPush()
		return nil
	}

	// Immediate pass on startup, before the first cron tick.
	sweepAndPush()

	// Preference changes re-evaluate and re-sync immediately. Toggle
	// endpoints already cancel precisely; the follow-up pass only ever adds
	// registrations that are still eligible.
	prefCh, unsubscribe := store.Subscribe()
	defer unsubscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-prefCh:
				if !ok {
					return
				}
				sweepAndPush()
			}
		}
	}()

	// Calendar-change observer: bursts of source-file changes coalesce into
	// one reload+push.
	deb := sched.NewDebouncer(time.Duration(conf.DebounceMillis)*time.Millisecond, sweepAndPush)
	defer deb.Stop()

	paths := make([]string, 0, len(conf.Sources))
	for _, src := range conf.Sources {
		paths = append(paths, src.Path)
	}
	if len(paths) > 0 {
		if err := sched.WatchSources(ctx, paths, deb); err != nil {
			appLog.Warn("calendar observer unavailable, relying on periodic sweeps", "reason", err)
		}
	}

	// Periodic sweeps and pushes.
	cr := cron.New()
	if _, err := cr.AddFunc(conf.SweepCron, func() { coord.Sweep(ctx) }); err != nil {
		return err
	}
	if _, err := cr.AddFunc(conf.PushCron, func() {
		if err := pusher.Push(ctx); err != nil {
			appLog.Error("periodic snapshot push failed", err)
		}
		if err := pusher.PushPrefs(ctx); err != nil {
			appLog.Error("periodic preference push failed", err)
		}
	}); err != nil {
		return err
	}
	cr.Start()
	defer cr.Stop()

	// HTTP API: UI state, toggles, the watch's pull requests.
	srv := &http.Server{
		Addr:    conf.Listen,
		Handler: web.NewServer(coord, pusher, alerter).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/kairos/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sweep+push cycle and exit")
	flag.BoolVar(&cfg.verbose, "verbose", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}
