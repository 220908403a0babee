package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/mockinterview/internal/config"
	"github.com/wolfman30/mockinterview/internal/interview"
	"github.com/wolfman30/mockinterview/internal/ledger"
	"github.com/wolfman30/mockinterview/internal/tavusclient"
	"github.com/wolfman30/mockinterview/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildLedger returns the shared Redis ledger when Redis is available and a
// process-local one otherwise.
func BuildLedger(redisClient *redis.Client, cfg *appconfig.Config, owner string, logger *logging.Logger) ledger.Ledger {
	if logger == nil {
		logger = logging.Default()
	}
	ttl := 30 * time.Second
	if cfg != nil && cfg.InstanceHeartbeatTTL > 0 {
		ttl = cfg.InstanceHeartbeatTTL
	}
	if redisClient == nil {
		logger.Warn("redis not configured; conversation ledger is process-local")
		return ledger.NewMemoryLedger(owner, ttl)
	}
	logger.Info("conversation ledger enabled", "backend", "redis", "owner", owner)
	return ledger.NewRedisLedger(redisClient, owner, ttl)
}

// BuildPostgresPool connects to Postgres, returning nil when the URL is empty
// or the database is unreachable.
func BuildPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Warn("postgres not available", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Warn("postgres not available", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// BuildTavusClient configures the vendor client with the server's key.
func BuildTavusClient(cfg *appconfig.Config, logger *logging.Logger) *tavusclient.Client {
	return tavusclient.New(tavusclient.Config{
		BaseURL:   cfg.TavusBaseURL,
		APIKey:    cfg.TavusAPIKey,
		PersonaID: cfg.PersonaID,
		Timeout:   cfg.TavusTimeout,
		Logger:    logger,
	})
}

// InterviewDefaults builds the controller options shared by every session.
func InterviewDefaults(cfg *appconfig.Config, tracker interview.Tracker, metrics interview.Metrics, logger *logging.Logger) interview.Options {
	return interview.Options{
		Request: tavusclient.CreateRequest{
			PersonaID:             cfg.PersonaID,
			ReplicaID:             cfg.ReplicaID,
			ConversationName:      cfg.ConversationName,
			CustomGreeting:        cfg.Greeting,
			ConversationalContext: cfg.Context,
		},
		TeardownTimeout: cfg.TeardownTimeout,
		Tracker:         tracker,
		Metrics:         metrics,
		Logger:          logger,
	}
}
