// Package integration_tests exercises the module against a real Redis
// instance. Tests skip unless REDIS_ADDR (host:port) points at one, so
// the suite is safe to run everywhere and meaningful where it matters:
//
//	docker run --rm -p 6379:6379 redis:7
//	REDIS_ADDR=localhost:6379 go test ./integration_tests/
package integration_tests

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/szaher/agentbus/internal/config"
	"github.com/szaher/agentbus/internal/redisx"
)

func redisClient(t *testing.T) *redisx.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("parse REDIS_ADDR %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse REDIS_ADDR port %q: %v", portStr, err)
	}

	cfg := config.Default()
	cfg.Host = host
	cfg.Port = port
	cfg.Password = os.Getenv("REDIS_PASSWORD")
	cfg.SocketTimeout = 5 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := redisx.Dial(ctx, cfg)
	if err != nil {
		t.Skipf("Redis at %s not reachable: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// uniqueRoot returns a namespace root that cannot collide across test
// runs sharing one Redis.
func uniqueRoot(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("bustest%d", time.Now().UnixNano())
}
