// cmd/guildscript/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keshon/guildscript/internal/config"
	"github.com/keshon/guildscript/internal/dashboard"
	"github.com/keshon/guildscript/internal/discord"
	"github.com/keshon/guildscript/internal/engine"
	"github.com/keshon/guildscript/internal/logging"
	"github.com/keshon/guildscript/internal/ratelimit"
	"github.com/keshon/guildscript/internal/sandbox"
	"github.com/keshon/guildscript/internal/storage"
	v "github.com/keshon/guildscript/internal/version"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		// Logger depends on config; fall back to a default one.
		fallback := logging.New("info", "")
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}

	log := logging.New(cfg.LogLevel, cfg.LogFile)
	log.Info().Str("app", v.AppName).Str("version", v.Version).Msg("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()
	store.MaxCodeBytes = cfg.MaxCodeBytes
	store.MaxCommandsPerGuild = cfg.MaxCommandsPerGuild
	store.DefaultPrefix = cfg.DefaultPrefix

	limiter := ratelimit.New(ratelimit.Config{
		UserLimit:  cfg.UserRateLimit,
		GuildLimit: cfg.GuildRateLimit,
		Window:     time.Duration(cfg.RateWindowMs) * time.Millisecond,
	})
	go ratelimit.RunSweeper(ctx, limiter, time.Duration(cfg.SweepIntervalMs)*time.Millisecond)

	pool := sandbox.NewPool(
		cfg.MaxConcurrentExecs,
		time.Duration(cfg.QueueWaitMs)*time.Millisecond,
		log,
		sandbox.NewJSRunner(log),
		sandbox.NewPythonRunner(cfg.PythonBin, log),
		sandbox.NewGoRunner(log),
	)

	limits := sandbox.Limits{
		Timeout:       time.Duration(cfg.ExecTimeoutMs) * time.Millisecond,
		MemoryBytes:   cfg.ExecMemoryBytes,
		OutputByteCap: cfg.OutputByteCap,
	}

	eng := engine.NewCoordinator(store, limiter, pool, limits, log)

	go dashboard.NewServer(cfg.DashboardAddr, store, log).Run(ctx)

	bot, err := discord.NewBot(cfg.DiscordToken, eng, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bot")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := bot.Run(ctx); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("bot error")
		}
		cancel()
	case <-ctx.Done():
	}

	log.Info().Msg("exited cleanly")
}
