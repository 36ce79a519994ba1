package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vigia/internal/auth"
	"vigia/internal/config"
	"vigia/internal/database"
	"vigia/internal/incident"
	"vigia/internal/logging"
	"vigia/internal/metrics"
	"vigia/internal/notify"
	"vigia/internal/overlay"
	"vigia/internal/stream"
	"vigia/internal/transport"
)

func main() {
	var (
		serverF = flag.String("server", "", "Backend base URL (overrides SERVER_URL)")
		listenF = flag.String("listen", "", "Status listener address (overrides LISTEN_ADDR)")
		dbgF    = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[vigia] ", log.Ltime)

	cfg := config.Load()
	if *serverF != "" {
		cfg.ServerURL = *serverF
	}
	if *listenF != "" {
		cfg.ListenAddr = *listenF
	}
	if *dbgF {
		logging.SetLevel(logging.LevelDebug)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		logger.Fatalf("failed to create data directory: %v", err)
	}
	db, err := database.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}

	tokens, err := auth.NewTokenStore(db)
	if err != nil {
		logger.Fatalf("failed to load auth token: %v", err)
	}

	m := metrics.New()

	// Notification feed: rehydrate, then wire debounced persistence.
	feed := notify.NewFeed(cfg.FeedCapacity, cfg.FeedRetention, m)
	store := notify.NewStore(db)
	if entries, err := store.Load(); err != nil {
		logging.Warn("[Main] Feed rehydration failed, starting empty: %v", err)
	} else {
		feed.Rehydrate(entries)
	}
	debouncer := notify.NewDebouncer(cfg.PersistDebounce, store.Save, m)
	feed.OnChange(debouncer.Schedule)

	live := stream.NewLiveState()
	renderer := overlay.NewRenderer(cfg.SurfaceWidth, cfg.SurfaceHeight, cfg.SeverityThreshold)
	compositor := overlay.NewCompositor(renderer, m, func(err error) {
		live.SetLastError(err.Error())
	})
	alerter := notify.NewFrameAlerter(feed, cfg.NotifyThreshold)
	ingestor := incident.NewIngestor(50, cfg.NotifyThreshold, feed, m)
	history := incident.NewClient(cfg.ServerURL, tokens)

	dial := func() (transport.Transport, error) {
		return transport.NewWebSocket(cfg.ServerURL, tokens)
	}
	manager := stream.NewManager(dial, stream.Config{
		ReconnectInterval: cfg.ReconnectInterval,
		MaxReconnects:     cfg.MaxReconnects,
	}, live, m)
	manager.SetFrameSink(func(snap stream.Snapshot) {
		compositor.Present(snap)
		alerter.HandleFrame(snap)
	})
	manager.SetIncidentSink(ingestor.Handle)
	manager.SetStatusListener(func(s stream.State, lastError string) {
		switch s {
		case stream.StateConnected:
			if cfg.AutoStartStream {
				go func() {
					if err := manager.StartStream(); err != nil {
						logging.Warn("[Main] Auto start stream: %v", err)
					}
				}()
			}
		case stream.StateFailed:
			feed.Add(notify.Notification{
				Type:      notify.TypeStatus,
				Message:   "Conexión perdida",
				Details:   lastError,
				Timestamp: time.Now(),
			})
		}
	})

	// Channel used by both the signal handler and the server goroutine to
	// notify the main goroutine when to stop.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	srv := newStatusServer(cfg.ListenAddr, live, feed, ingestor, compositor, manager, history, m)
	go func() {
		logger.Printf("status server listening on %s", cfg.ListenAddr)
		errc <- srv.ListenAndServe()
	}()

	logger.Printf("connecting to %s", cfg.ServerURL)
	if err := manager.Connect(); err != nil {
		logger.Fatalf("failed to start connection: %v", err)
	}

	logger.Printf("exiting (%v)", <-errc)

	manager.Disconnect()
	debouncer.FlushNow()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("status server shutdown: %v", err)
	}
	if err := db.Close(); err != nil {
		logger.Printf("database close: %v", err)
	}
	logger.Println("exited")
}
