// streamwatch connects to the realtime endpoint and prints incoming
// collaboration events plus presence changes to the console.
// Usage: go run ./cmd/streamwatch --config configs/streamwatch.example.yaml --track u1,u2
//
// The bearer credential is normally injected through the config file's
// ${SCHOLARSYNC_TOKEN} expansion.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/scholarsync/realtime/internal/api"
	"github.com/scholarsync/realtime/internal/auth"
	"github.com/scholarsync/realtime/internal/config"
	"github.com/scholarsync/realtime/internal/connection"
	"github.com/scholarsync/realtime/internal/event"
	"github.com/scholarsync/realtime/internal/presence"
	"github.com/scholarsync/realtime/internal/router"
	"github.com/scholarsync/realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/streamwatch.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	track := flag.String("track", "", "comma-separated user ids to track presence for")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	logger.Info("streamwatch", "version", version.String())

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Credential store. An empty token is allowed; the connection stays
	// down until one appears.
	tokens := auth.NewStore(cfg.Auth.Token)
	if tokens.Token() == "" {
		logger.Warn("no credential configured, set SCHOLARSYNC_TOKEN to connect")
	}

	// REST client for the presence endpoints
	apiClient := api.NewClient(cfg.API.BaseURL, tokens,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
	)

	// Presence tracker
	tracker := presence.New(presence.Config{
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		RefreshInterval:   cfg.Presence.RefreshInterval,
		RequestTimeout:    cfg.Presence.RequestTimeout,
	}, apiClient, tokens, logger)

	// Connection manager
	connMgr := connection.NewManager(connection.ManagerConfig{
		WSURL:              cfg.Realtime.WSURL,
		KeepaliveInterval:  cfg.Realtime.KeepaliveInterval,
		ReconnectBaseDelay: cfg.Realtime.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Realtime.ReconnectMaxDelay,
		DialTimeout:        cfg.Realtime.DialTimeout,
		WriteTimeout:       cfg.Realtime.WriteTimeout,
		FrameBufferSize:    cfg.Realtime.FrameBufferSize,
	}, tokens, logger)

	// Notification router over the manager
	rtr := router.New(connMgr, logger)

	// Both stream consumers see every decoded message, in order.
	connMgr.AddConsumer(tracker.HandleMessage)
	connMgr.AddConsumer(rtr.Dispatch)

	// Queues decouple the console printers from the dispatch path.
	comments := router.NewQueue[connection.Message](256)
	presences := router.NewQueue[connection.Message](256)

	rtr.Subscribe(event.TypeComment, func(m connection.Message) { comments.Push(m) })
	rtr.Subscribe(event.TypeCommentUpdated, func(m connection.Message) { comments.Push(m) })
	rtr.Subscribe(event.TypePresence, func(m connection.Message) { presences.Push(m) })

	// Start Presence Tracker
	logger.Info("starting presence tracker")
	if err := tracker.Start(ctx); err != nil {
		logger.Error("failed to start presence tracker", "error", err)
		os.Exit(1)
	}

	// Start Connection Manager and dial
	logger.Info("starting connection manager")
	if err := connMgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	connMgr.Connect()

	if *track != "" {
		ids := strings.Split(*track, ",")
		tracker.Track(ids...)
		logger.Info("tracking presence", "ids", ids)
	}

	// Start console printers
	go printComments(ctx, comments, *verbose)
	go printPresence(ctx, presences, tracker, *verbose)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				connStats := connMgr.Stats()
				routerStats := rtr.Stats()
				trackerStats := tracker.Stats()
				logger.Info("stats",
					"conn_state", connStats.State,
					"epoch", connStats.Epoch,
					"messages_in", connStats.MessagesIn,
					"pings_sent", connStats.PingsSent,
					"reconnects", connStats.ReconnectsScheduled,
					"router_dispatched", routerStats.Dispatched,
					"router_delivered", routerStats.Delivered,
					"presence_entries", trackerStats.Entries,
					"presence_polls", trackerStats.Polls,
					"heartbeats", trackerStats.Heartbeats,
				)
			}
		}
	}()

	logger.Info("watching stream - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Stop(shutdownCtx)
	tracker.Stop(shutdownCtx)
	comments.Close()
	presences.Close()

	logger.Info("shutdown complete")
}

func printComments(ctx context.Context, queue *router.Queue[connection.Message], verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, ok := queue.TryPop()
			if !ok {
				time.Sleep(10 * time.Millisecond)
				continue
			}

			if verbose {
				data, _ := json.MarshalIndent(msg.Raw, "", "  ")
				fmt.Printf("[%s] %s\n", strings.ToUpper(msg.Type), data)
				continue
			}

			c, err := event.ParseComment(msg.Raw)
			if err != nil {
				fmt.Printf("[%s] unparseable payload (%v)\n", strings.ToUpper(msg.Type), err)
				continue
			}
			fmt.Printf("[%s] paper=%s section=%s action=%s epoch=%d\n",
				strings.ToUpper(msg.Type), c.Data.PaperID, c.Data.SectionID, c.Data.Action, msg.Epoch)
		}
	}
}

func printPresence(ctx context.Context, queue *router.Queue[connection.Message], tracker *presence.Tracker, verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, ok := queue.TryPop()
			if !ok {
				time.Sleep(10 * time.Millisecond)
				continue
			}

			if verbose {
				data, _ := json.MarshalIndent(msg.Raw, "", "  ")
				fmt.Printf("[PRESENCE] %s\n", data)
				continue
			}

			p, err := event.ParsePresence(msg.Raw)
			if err != nil {
				fmt.Printf("[PRESENCE] unparseable payload (%v)\n", err)
				continue
			}
			// The tracker has already applied this push; report its view.
			fmt.Printf("[PRESENCE] user=%s status=%s epoch=%d\n",
				p.UserID, tracker.Status(p.UserID), msg.Epoch)
		}
	}
}
