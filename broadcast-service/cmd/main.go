package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisClient "github.com/aaronwang/zecond/broadcast-service/internal/redis"
	wsHandler "github.com/aaronwang/zecond/broadcast-service/internal/websocket"
	"github.com/aaronwang/zecond/shared/config"
	"github.com/aaronwang/zecond/shared/logging"
	"golang.org/x/sync/errgroup"
)

func main() {
	log := logging.New("broadcast-service")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	subscriber, err := redisClient.NewSubscriber(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer subscriber.Close()

	// Subscribe to every product room using pattern matching
	if err := subscriber.SubscribeToAll(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to Redis channels")
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("subscribed to bid events")

	wsManager := wsHandler.NewManager(log)
	handler := wsHandler.NewHandler(wsManager, log)

	server := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     handler.SetupRoutes(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	messageChan := make(chan *redisClient.Message, 256)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsManager.Run(ctx)
		return nil
	})
	g.Go(func() error {
		err := subscriber.Listen(ctx, messageChan)
		close(messageChan)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	// Redis Pub/Sub -> WebSocket rooms
	g.Go(func() error {
		for msg := range messageChan {
			wsManager.Broadcast(msg.ProductID, msg.Payload)
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.ServerAddr).Msg("Broadcast Service listening")
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
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("broadcast service stopped with error")
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
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// loadConfig applies defaults, then CONFIG_FILE, then environment variables
func loadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddr:      ":8081",
		RedisAddr:       "localhost:6379",
		ShutdownTimeout: 30 * time.Second,
	}
	if err := config.LoadFile(os.Getenv("CONFIG_FILE"), cfg); err != nil {
		return nil, err
	}

	cfg.ServerAddr = config.GetEnv("SERVER_ADDR", cfg.ServerAddr)
	cfg.RedisAddr = config.GetEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = config.GetEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = config.GetEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.ShutdownTimeout = config.GetEnvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	return cfg, nil
}
