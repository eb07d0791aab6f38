// amitap connects to the Asterisk manager interface and prints the
// decoded event stream to the console. Handy for checking credentials
// and seeing what a dialplan actually emits before pointing a dashboard
// at it.
// Usage: go run ./cmd/amitap --config configs/queuestatsd.yaml --events QueueMemberStatus,Hangup
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

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/bus"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/queuestatsd.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	eventNames := flag.String("events", "", "comma-separated event names to print (empty = all)")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Manager.Host == "" || cfg.Manager.Username == "" {
		logger.Error("config must set manager host and credentials")
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

	session := ami.NewSession(ami.SessionConfig{
		Address:           cfg.Manager.Address(),
		Username:          cfg.Manager.Username,
		Secret:            cfg.Manager.Secret,
		DialTimeout:       cfg.Manager.DialTimeout,
		WriteTimeout:      cfg.Manager.WriteTimeout,
		BannerTimeout:     cfg.Manager.BannerTimeout,
		ActionTimeout:     cfg.Manager.ActionTimeout,
		ReconnectBaseWait: cfg.Manager.Reconnect.BaseDelay,
		ReconnectMaxWait:  cfg.Manager.Reconnect.MaxDelay,
		HaltOnAuthFailure: cfg.Manager.HaltOnAuth(),
		EventBuffer:       cfg.Manager.EventBuffer,
	}, logger)

	events := bus.New(bus.Config{
		Backlog:     cfg.Bus.Backlog,
		RetryBudget: cfg.Bus.RetryBudget,
	}, logger)

	filter := bus.All()
	if *eventNames != "" {
		names := strings.Split(*eventNames, ",")
		for i := range names {
			names[i] = strings.TrimSpace(names[i])
		}
		filter = bus.Names(names...)
		logger.Info("filtering events", "names", names)
	}

	events.Subscribe("amitap", filter, bus.SinkFunc(func(ev *ami.Event) error {
		printEvent(ev, *verbose)
		return nil
	}))

	// Watch before Start so the first transitions are seen
	states := session.Watch()
	go func() {
		for st := range states {
			logger.Info("session state", "state", st.String())
		}
	}()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for ev := range session.Events() {
			events.Publish(ev)
		}
	}()

	if err := session.Start(ctx); err != nil {
		logger.Error("failed to start session", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sessStats := session.Stats()
				busStats := events.Stats()
				var dropped int64
				for _, sub := range busStats.Subscribers {
					dropped += sub.Dropped
				}
				logger.Info("stats",
					"state", sessStats.State,
					"events", sessStats.Events,
					"responses", sessStats.Responses,
					"reconnects", sessStats.Reconnects,
					"published", busStats.Published,
					"dropped", dropped,
				)
			}
		}
	}()

	logger.Info("tapping manager events - press Ctrl+C to stop", "manager", cfg.Manager.Address())

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	session.Stop(shutdownCtx)
	<-pumpDone
	events.Close()

	logger.Info("shutdown complete")
}

func printEvent(ev *ami.Event, verbose bool) {
	if verbose {
		payload := struct {
			Name       string            `json:"name"`
			ReceivedAt time.Time         `json:"received_at"`
			Fields     map[string]string `json:"fields"`
		}{ev.Name, ev.ReceivedAt, ev.Fields.Map()}
		data, _ := json.MarshalIndent(payload, "", "  ")
		fmt.Printf("[EVENT] %s\n", data)
		return
	}

	var b strings.Builder
	for _, f := range ev.Fields {
		if strings.EqualFold(f.Key, "Event") {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%s", f.Key, f.Value)
	}
	fmt.Printf("[%s] %s\n", ev.Name, b.String())
}
