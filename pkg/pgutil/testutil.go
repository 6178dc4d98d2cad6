package pgutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"

	"github.com/chainsafe/xchain-vault/pkg/config"
)

// RequireDockerAccess skips the test when no docker daemon socket answers.
func RequireDockerAccess(t *testing.T) {
	t.Helper()

	candidates := []string{
		"/var/run/docker.sock",
		filepath.Join(os.Getenv("HOME"), ".docker/run/docker.sock"),
	}
	if sock, ok := strings.CutPrefix(os.Getenv("DOCKER_HOST"), "unix://"); ok {
		candidates = append([]string{sock}, candidates...)
	}

	for _, sock := range candidates {
		if sock == "" {
			continue
		}
		if _, err := os.Stat(sock); err != nil {
			continue
		}
		conn, err := (&net.Dialer{Timeout: time.Second}).DialContext(context.Background(), "unix", sock)
		if err == nil {
			_ = conn.Close()
			return
		}
	}

	t.Skip("docker daemon socket is not accessible; skipping testcontainer-backed tests")
}

// SetupTestDB starts a PostgreSQL testcontainer and returns a connection.
// The test is skipped when docker is unavailable.
func SetupTestDB(t *testing.T) (*bun.DB, func()) {
	t.Helper()
	RequireDockerAccess(t)
	ctx := context.Background()

	// postgres logs "ready" once for the init server and once for the real one
	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("vault_test"),
		postgres.WithUsername("vault"),
		postgres.WithPassword("vault"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		t.Fatalf("failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		t.Fatalf("failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "vault",
		Password: "vault",
		Database: "vault_test",
		SSLMode:  "disable",
	}

	db, err := connectWithRetry(ctx, cfg, 10)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		t.Fatalf("failed to connect to test database: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

// connectWithRetry backs off 100ms, 200ms, 400ms... while the container
// finishes starting.
func connectWithRetry(ctx context.Context, cfg *config.DatabaseConfig, attempts int) (*bun.DB, error) {
	var err error
	for i := 0; i < attempts; i++ {
		var db *bun.DB
		if db, err = ConnectDB(ctx, cfg); err == nil {
			return db, nil
		}
		time.Sleep(time.Duration(100*(1<<uint(i))) * time.Millisecond)
	}
	return nil, fmt.Errorf("after %d attempts: %w", attempts, err)
}

func exists(t *testing.T, db *bun.DB, query string, args ...any) bool {
	t.Helper()
	var found bool
	if err := db.NewSelect().ColumnExpr("EXISTS ("+query+")", args...).Scan(context.Background(), &found); err != nil {
		t.Fatalf("existence check failed: %v", err)
	}
	return found
}

const (
	tableQuery = "SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = ?"
	indexQuery = "SELECT 1 FROM pg_indexes WHERE schemaname = 'public' AND indexname = ?"
)

// AssertTableExists fails the test when tableName is missing.
func AssertTableExists(t *testing.T, db *bun.DB, tableName string) {
	t.Helper()
	if !exists(t, db, tableQuery, tableName) {
		t.Errorf("table %s does not exist", tableName)
	}
}

// AssertTableNotExists fails the test when tableName is present.
func AssertTableNotExists(t *testing.T, db *bun.DB, tableName string) {
	t.Helper()
	if exists(t, db, tableQuery, tableName) {
		t.Errorf("table %s should not exist but it does", tableName)
	}
}

// AssertIndexExists fails the test when indexName is missing.
func AssertIndexExists(t *testing.T, db *bun.DB, indexName string) {
	t.Helper()
	if !exists(t, db, indexQuery, indexName) {
		t.Errorf("index %s does not exist", indexName)
	}
}
