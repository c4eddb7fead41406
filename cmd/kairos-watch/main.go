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
	"kairos/internal/config"
	appLog "kairos/internal/log"
	"kairos/internal/prefs"
	"kairos/internal/sched"
	"kairos/internal/wear"
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

	appLog.Info("kairos-watch starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"peer_url", conf.PeerURL,
		"lookahead_minutes", conf.LookaheadMinutes,
		"sweep", conf.WatchSweepCron,
		"exact_alarms", conf.ExactAlarmsEnabled(),
		"once", flags.once,
	)

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
		appLog.Error("kairos-watch failed", err)
		os.Exit(1)
	}

	appLog.Info("kairos-watch exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	db, err := prefs.OpenDB(conf.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := prefs.NewStore(db)
	if err != nil {
		return err
	}

	cache, err := wear.NewCache(db)
	if err != nil {
		return err
	}

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

	// The watch evaluates against its synced cache: the snapshot only ever
	// covers 24 hours, so that is also the sweep horizon.
	coord := sched.NewCoordinator(sched.Options{
		Source:  cache,
		Prefs:   store,
		Table:   table,
		Bus:     b,
		Window:  time.Duration(conf.LookaheadMinutes) * time.Minute,
		Horizon: wear.SnapshotHorizon,
	})

	if once {
		coord.Sweep(ctx)
		return nil
	}

	// Initial pass over whatever the cache already holds.
	coord.Sweep(ctx)

	// Local preference changes re-evaluate immediately; suppression sets
	// are honored by the next pass, cancellations happen at toggle time.
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
				coord.Sweep(ctx)
			}
		}
	}()

	cr := cron.New()
	if _, err := cr.AddFunc(conf.WatchSweepCron, func() { coord.Sweep(ctx) }); err != nil {
		return err
	}
	cr.Start()
	defer cr.Stop()

	// Sync listener: each received snapshot overwrites the cache and kicks
	// an immediate sweep; each received preference payload replaces the
	// local sets and cancels whatever they now suppress.
	listener := wear.NewListener(cache, store, b,
		func() { coord.Sweep(ctx) },
		func() {
			if err := coord.OnPrefsReplicated(ctx); err != nil {
				appLog.Error("replicated preference apply failed", err)
			}
		},
		alerter)

	srv := &http.Server{
		Addr:    conf.Listen,
		Handler: listener.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting sync listener", "listen", "http://"+conf.Listen)
		errCh <- srv.ListenAndServe()
	}()

	// Ask the phone for a fresh snapshot now that the listener is up; an
	// unreachable phone just means we keep scheduling off the cached copy.
	requestSync(ctx, conf.PeerURL)

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

// requestSync sends the pull-request message to the phone. Best effort.
func requestSync(ctx context.Context, peerURL string) {
	if peerURL == "" {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, peerURL+wear.PathSyncRequest, nil)
	if err != nil {
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		appLog.Warn("sync pull request failed, using cached snapshot", "reason", err)
		return
	}
	resp.Body.Close()
	appLog.Info("sync pull request sent", "status", resp.StatusCode)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/kairos/watch.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one scheduling sweep and exit")
	flag.BoolVar(&cfg.verbose, "verbose", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
