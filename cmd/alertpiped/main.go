package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alertpipe/internal/config"
	"alertpipe/internal/dedup"
	"alertpipe/internal/deliver"
	"alertpipe/internal/eventbus"
	"alertpipe/internal/notify"
	"alertpipe/internal/pipeline"
	"alertpipe/internal/runtime/supervisor"
	"alertpipe/internal/storage"
	"alertpipe/internal/transport"
	"alertpipe/internal/transport/journal"
	"alertpipe/internal/transport/telegram"
	"alertpipe/internal/transport/webhook"
	logx "alertpipe/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./alertpipe.yaml", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer func() { _ = logSvc.Close() }()
	cfgm.SetLogger(log)

	log.Info("starting", logx.String("config", cfgPath), logx.Int("channels", len(cfg.Channels)))

	// Optional cross-restart suppress-state.
	var store storage.Store
	if cfg.Dedup.Persist && cfg.Storage != nil {
		busy, _ := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		if store != nil {
			defer func() { _ = store.Close() }()
		}
	}

	cacheOpts := []dedup.Option{dedup.WithLogger(log)}
	if store != nil {
		cacheOpts = append(cacheOpts, dedup.WithStore(store))
	}
	cache := dedup.NewCache(cfg.Dedup.MaxEntries, cacheOpts...)

	senders := transport.NewRegistry()
	registerSenders(cfg, senders, log)

	bus := eventbus.New()
	breaker := deliver.NewBreaker()
	exec := deliver.NewExecutor(senders, breaker, log, deliver.WithBus(bus))
	pipe := pipeline.New(cfgm, exec, cache, nil, log, bus)

	sup := supervisor.New(ctx, log)

	// Config hot reload: follow the file, then apply side effects (log levels,
	// sender rebuilds) as snapshots get published.
	sup.GoRestart("config-watch", cfgm.Watch, 250*time.Millisecond, 5*time.Second)
	cfgCh := cfgm.Subscribe(1)
	defer cfgm.Unsubscribe(cfgCh)
	sup.Go("config-apply", func(ctx context.Context) error {
		prev := cfg
		for {
			select {
			case <-ctx.Done():
				return nil
			case next, ok := <-cfgCh:
				if !ok || next == nil {
					return nil
				}
				changed, attrs := config.SummarizeChange(prev, next)
				log.Info("config reloaded", append(attrs, logx.Any("changed", changed))...)
				logSvc.Apply(logx.Config{
					Level:   next.Logging.Level,
					Console: next.Logging.Console,
					File: logx.FileConfig{
						Enabled: next.Logging.File.Enabled,
						Path:    next.Logging.File.Path,
					},
				})
				registerSenders(next, senders, log)
				prev = next
			}
		}
	})

	// Stale-entry sweep; the cutoff tracks the live config so TTL edits apply
	// without restart.
	sweepEvery, _ := config.ParseDurationOrDefault("dedup.sweep_every", cfg.Dedup.SweepEvery, time.Minute)
	sweeper, err := dedup.StartSweeper(cache, sweepEvery, func() time.Duration {
		c := cfgm.Get()
		if c == nil {
			return 0
		}
		return 2 * c.MaxDedupTTL()
	}, log)
	if err != nil {
		return err
	}
	defer sweeper.Stop()

	sup.Go("dedup-persist", func(ctx context.Context) error {
		cache.RunPersist(ctx)
		return nil
	})

	sup.Go("event-log", func(ctx context.Context) error {
		logEvents(ctx, bus, log)
		return nil
	})

	if cfg.Ingest.Enabled {
		addr := cfg.Ingest.Addr
		if addr == "" {
			addr = "127.0.0.1:8480"
		}
		startIngest(sup, addr, pipe, log)
	}

	<-ctx.Done()
	log.Info("shutting down")

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	sup.Cancel()
	return sup.Wait(waitCtx)
}

// registerSenders (re)builds the sender registry from the channel table.
// A channel whose transport cannot be constructed is logged and skipped; the
// executor then reports it per request instead of the whole daemon dying.
func registerSenders(cfg *config.Config, reg *transport.Registry, log logx.Logger) {
	for name, cc := range cfg.Channels {
		var (
			s   transport.Sender
			err error
		)
		switch cc.Kind {
		case "webhook":
			timeout, _ := config.ParseDurationOrDefault("channels.timeout", cc.Timeout, 0)
			s, err = webhook.New(webhook.Config{
				URL:       cc.URL,
				AuthToken: cc.AuthToken,
				Timeout:   timeout,
			}, log)
		case "telegram":
			s, err = telegram.New(telegram.Config{
				Token:  cc.BotToken,
				ChatID: cc.ChatID,
			}, log)
		case "journal":
			s = journal.New(log)
		default:
			err = fmt.Errorf("unknown channel kind %q", cc.Kind)
		}
		if err != nil {
			log.Warn("channel sender unavailable", logx.String("channel", name), logx.Err(err))
			continue
		}
		reg.Register(name, s)
	}
}

// logEvents mirrors pipeline outcome events into the structured log.
func logEvents(ctx context.Context, bus eventbus.Bus, log logx.Logger) {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			de, _ := ev.Data.(eventbus.DeliveryEvent)
			fields := []logx.Field{
				logx.String("event", ev.Type),
				logx.String("correlation_id", de.CorrelationID),
				logx.String("channel", de.Channel),
				logx.String("recipient", de.Recipient),
			}
			if de.Reason != "" {
				fields = append(fields, logx.String("reason", de.Reason))
			}
			if de.Error != "" {
				fields = append(fields, logx.String("err", de.Error))
			}
			switch ev.Type {
			case "notify.sent":
				log.Info("notification delivered", fields...)
			case "notify.deduped":
				log.Debug("notification suppressed", fields...)
			default:
				log.Warn("delivery event", fields...)
			}
		}
	}
}

// startIngest serves the local HTTP intake:
//
//	POST /v1/notify  -> run the pipeline, respond with the Result
//	GET  /v1/history -> recent results ring
func startIngest(sup *supervisor.Supervisor, addr string, pipe *pipeline.Service, log logx.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/notify", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req notify.NotificationRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}

		res, err := pipe.Submit(r.Context(), req)
		status := http.StatusOK
		switch {
		case errors.Is(err, pipeline.ErrInvalidRequest):
			status = http.StatusBadRequest
		case errors.Is(err, pipeline.ErrNoConfig):
			status = http.StatusServiceUnavailable
		case errors.Is(err, pipeline.ErrNotDelivered):
			status = http.StatusBadGateway
		case err != nil:
			status = http.StatusInternalServerError
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(res)
	})
	mux.HandleFunc("/v1/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pipe.History())
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sup.Go("ingest-serve", func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		log.Info("ingest listening", logx.String("addr", addr))
		select {
		case <-ctx.Done():
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
			return nil
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	})
}
