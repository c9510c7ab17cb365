package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chatpush-go/internal/config"
	"chatpush-go/internal/handlers"
	"chatpush-go/internal/push"
	"chatpush-go/internal/store"
	"chatpush-go/internal/webpush"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	zerolog.SetGlobalLevel(cfg.LogLevel)
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Presence and the delivery queue live in Redis
	redisStore := store.NewRedisStore(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, cfg.PresenceWindow)
	defer redisStore.Close()
	if err := redisStore.Ping(ctx); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to Redis")
	}

	// Subscriptions and membership live in PostgreSQL
	pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}
	defer pgStore.Close()
	if err := pgStore.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("database migrations completed")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := push.NewMetrics(reg)

	var (
		queue     handlers.Enqueuer
		deliverer push.Deliverer
		publicKey string
	)
	if engine, q, err := setupPush(cfg, pgStore, redisStore, metrics); err != nil {
		log.Error().Err(err).Msg("push notifications disabled")
	} else {
		queue, deliverer, publicKey = q, engine, cfg.VAPIDPublicKey
		go func() {
			if err := q.Run(ctx, engine); err != nil {
				log.Error().Err(err).Msg("push queue worker exited")
			}
		}()
	}

	h := handlers.NewHandler(queue, deliverer, redisStore, publicKey, cfg.WebhookSecret)
	mux := http.NewServeMux()
	h.Routes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	log.Info().Str("port", cfg.Port).Bool("push_configured", deliverer != nil).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// setupPush builds the delivery pipeline. It fails when the VAPID keys are
// missing or do not form a valid pair.
func setupPush(cfg *config.Config, pg *store.PostgresStore, rs *store.RedisStore, metrics *push.Metrics) (*push.Engine, *push.Queue, error) {
	if !cfg.PushConfigured() {
		return nil, nil, webpush.ErrConfig
	}
	keys, err := webpush.ParseVAPIDKeys(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
	if err != nil {
		return nil, nil, err
	}
	signer, err := webpush.NewSigner(keys, cfg.VAPIDSubject)
	if err != nil {
		return nil, nil, err
	}

	client := &http.Client{Timeout: cfg.PushTimeout}
	sender := push.NewSender(client, signer, cfg.PushTTL)
	resolver := push.NewResolver(pg, pg, rs)
	engine := push.NewEngine(resolver, sender, pg, metrics, push.Options{
		Workers:        cfg.PushWorkers,
		Icon:           cfg.PushIcon,
		RetireRejected: cfg.PushRetireRejected,
	})
	queue := push.NewQueue(rs, metrics, 0)
	return engine, queue, nil
}
