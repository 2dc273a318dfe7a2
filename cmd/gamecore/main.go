package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/studydeck/gamecore/internal/aigen"
	"github.com/studydeck/gamecore/internal/config"
	"github.com/studydeck/gamecore/internal/game"
	"github.com/studydeck/gamecore/internal/gateway"
	"github.com/studydeck/gamecore/internal/leaderboard"
	"github.com/studydeck/gamecore/internal/outbox"
	"github.com/studydeck/gamecore/internal/realtime"
	"github.com/studydeck/gamecore/internal/repository"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg := config.FromEnv()
	if err := cfg.LoadGameConfig(os.Getenv("GAME_CONFIG_FILE")); err != nil {
		log.Fatal().Err(err).Msg("load game config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("open database pool")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("ping database")
	}
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("apply schema")
	}
	log.Info().
		Str("host", cfg.Database.Host).
		Str("database", cfg.Database.Database).
		Msg("connected to database")

	repo := repository.NewRepository(pool)

	// Redis leaderboard cache
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("ping redis")
	}
	boards := leaderboard.NewService(rdb, repo, cfg.Redis.KeyPrefix)

	// NATS publish side for the outbox relay
	rtCfg := realtime.DefaultClientConfig()
	rtCfg.URL = cfg.NATS.URL
	rtClient, err := realtime.NewClient(rtCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to NATS")
	}
	defer rtClient.Close()

	relay, err := outbox.NewRelay(pool, outbox.NewNATSPublisher(rtClient), outbox.DefaultRelayConfig(cfg.Database.DSN()))
	if err != nil {
		log.Fatal().Err(err).Msg("create outbox relay")
	}

	// Game engine
	clock := clockwork.NewRealClock()
	generator := aigen.NewClient(cfg.AIGen.BaseURL)
	if cfg.AIGen.APIKey != "" {
		generator.SetHeader("Authorization", "Bearer "+cfg.AIGen.APIKey)
	}
	processor := game.NewQuestionProcessor(cfg.Game.ProcessorSeed)
	coordinator := game.NewCoordinator(repo, generator, processor, clock)
	scorer := game.NewScoringEngine(repo, boards, clock)
	arbiter := game.NewBuzzerArbiter()
	loop := game.NewCommandLoop(coordinator, scorer, arbiter, repo, cfg.Game.CommandQueueDepth)

	// Gateway
	connections := gateway.NewConnectionManager(loop, gateway.DefaultConnectionConfig())
	loop.SetNotifier(gateway.Notifier(connections))

	consumer, err := gateway.NewEventConsumer(connections, gateway.DefaultConsumerConfig(cfg.NATS.URL))
	if err != nil {
		log.Fatal().Err(err).Msg("create gateway event consumer")
	}
	server := gateway.NewServer(gateway.ServerConfig{
		Addr:           cfg.Gateway.Addr,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
	}, coordinator, repo, connections)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Start(ctx) })
	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error { return consumer.Start(ctx) })
	g.Go(func() error { connections.Start(ctx); return nil })
	g.Go(func() error { return server.Start(ctx) })

	log.Info().Str("addr", cfg.Gateway.Addr).Msg("gamecore running")
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("engine stopped")
	}
	log.Info().Msg("graceful shutdown complete")
}
