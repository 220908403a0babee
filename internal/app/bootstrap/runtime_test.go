package bootstrap

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	appconfig "github.com/wolfman30/mockinterview/internal/config"
	"github.com/wolfman30/mockinterview/internal/ledger"
	"github.com/wolfman30/mockinterview/pkg/logging"
)

func TestBuildRedisClientDisabled(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true); client != nil {
		t.Fatalf("expected nil client without REDIS_ADDR")
	}
	if client := BuildRedisClient(context.Background(), nil, nil, true); client != nil {
		t.Fatalf("expected nil client without config")
	}
}

func TestBuildRedisClientVerifies(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := logging.New("error")

	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, true)
	if client == nil {
		t.Fatalf("expected client for reachable redis")
	}
	_ = client.Close()

	addr := mr.Addr()
	mr.Close()
	if client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, logger, true); client != nil {
		t.Fatalf("expected nil client for unreachable redis")
	}
}

func TestBuildLedgerBackends(t *testing.T) {
	logger := logging.New("error")
	cfg := &appconfig.Config{InstanceHeartbeatTTL: time.Minute}

	if _, ok := BuildLedger(nil, cfg, "inst", logger).(*ledger.MemoryLedger); !ok {
		t.Fatalf("expected memory ledger without redis")
	}

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, false)
	defer client.Close()
	if _, ok := BuildLedger(client, cfg, "inst", logger).(*ledger.RedisLedger); !ok {
		t.Fatalf("expected redis ledger")
	}
}

func TestBuildPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	if pool := BuildPostgresPool(context.Background(), "", logging.New("error")); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
}

func TestInterviewDefaultsCarryConfig(t *testing.T) {
	cfg := &appconfig.Config{
		PersonaID:        "pe13ed370726",
		ConversationName: "AI Interview",
		Greeting:         "Hi there",
		Context:          "mock interview",
		TeardownTimeout:  3 * time.Second,
	}
	opts := InterviewDefaults(cfg, nil, nil, nil)
	if opts.Request.PersonaID != "pe13ed370726" || opts.Request.ConversationName != "AI Interview" {
		t.Fatalf("unexpected request: %+v", opts.Request)
	}
	if opts.Request.CustomGreeting != "Hi there" || opts.Request.ConversationalContext != "mock interview" {
		t.Fatalf("unexpected request: %+v", opts.Request)
	}
	if opts.TeardownTimeout != 3*time.Second {
		t.Fatalf("unexpected teardown timeout %v", opts.TeardownTimeout)
	}
}
