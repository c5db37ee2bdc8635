package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/webexclaw/internal/bus"
	"github.com/nextlevelbuilder/webexclaw/internal/channels"
	"github.com/nextlevelbuilder/webexclaw/internal/channels/webex"
	"github.com/nextlevelbuilder/webexclaw/internal/config"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	msgBus := bus.New()
	channelMgr := channels.NewManager(msgBus)

	var webexChannel *webex.Channel
	if cfg.Channels.Webex.Enabled {
		webexChannel, err = webex.New(cfg.Channels.Webex, msgBus)
		if err != nil {
			slog.Error("failed to create webex channel", "error", err)
			os.Exit(1)
		}
		channelMgr.Register(webexChannel)
	} else {
		slog.Warn("webex channel disabled in config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Config watcher: hot-reload allowlists and policies.
	if webexChannel != nil {
		if watcher, werr := config.NewWatcher(cfgPath, func(next *config.Config) {
			webexChannel.ApplyConfig(next.Channels.Webex)
		}); werr != nil {
			slog.Warn("config watcher unavailable", "error", werr)
		} else {
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	// Startup is fatal on credential or (webhook-only) registration errors.
	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
		os.Exit(1)
	}

	slog.Info("webexclaw gateway started",
		"version", Version,
		"channels", channelMgr.EnabledChannels(),
	)

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		consumeInboundMessages(runCtx, msgBus)
		return nil
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			slog.Info("graceful shutdown initiated", "signal", sig)
			cancel()
		case <-runCtx.Done():
		}
		return nil
	})

	g.Wait()

	// Channels stop after the consumer: the webex channel deletes its
	// self-created webhook subscription here regardless of how the run
	// context ended.
	channelMgr.StopAll(context.Background())
	slog.Info("webexclaw gateway stopped")
}
