package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aaronwang/zecond/api-gateway/internal/archive"
	"github.com/aaronwang/zecond/api-gateway/internal/handlers"
	redisClient "github.com/aaronwang/zecond/api-gateway/internal/redis"
	"github.com/aaronwang/zecond/api-gateway/internal/service"
	"github.com/aaronwang/zecond/shared/config"
	"github.com/aaronwang/zecond/shared/logging"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

func main() {
	log := logging.New("api-gateway")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redis, err := redisClient.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redis.Close()
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	natsConn, err := nats.Connect(cfg.NatsURL, nats.Name("api-gateway"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer natsConn.Close()
	log.Info().Str("url", cfg.NatsURL).Msg("connected to NATS")

	archiver, err := archive.NewPublisher(ctx, natsConn, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up archival stream")
	}

	biddingService := service.NewBiddingService(redis, redis, archiver, log)
	handler := handlers.NewHandler(biddingService, log)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler.SetupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.ServerAddr).Msg("API Gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		biddingService.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped gracefully")
}

// Config holds application configuration
type Config struct {
	ServerAddr      string        `yaml:"server_addr"`
	RedisAddr       string        `yaml:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	NatsURL         string        `yaml:"nats_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// loadConfig applies defaults, then CONFIG_FILE, then environment variables
func loadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddr:      ":8080",
		RedisAddr:       "localhost:6379",
		NatsURL:         "nats://localhost:4222",
		ShutdownTimeout: 30 * time.Second,
	}
	if err := config.LoadFile(os.Getenv("CONFIG_FILE"), cfg); err != nil {
		return nil, err
	}

	cfg.ServerAddr = config.GetEnv("SERVER_ADDR", cfg.ServerAddr)
	cfg.RedisAddr = config.GetEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = config.GetEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = config.GetEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.NatsURL = config.GetEnv("NATS_URL", cfg.NatsURL)
	cfg.ShutdownTimeout = config.GetEnvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	return cfg, nil
}
