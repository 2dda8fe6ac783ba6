//go:build integration

package integration

import (
	"fmt"
	"os"
	"testing"
)

func pgConnString(t *testing.T) string {
	t.Helper()
	host := envOrDefault("ATMO_TEST_PG_HOST", "localhost")
	port := envOrDefault("ATMO_TEST_PG_PORT", "25432")
	db := envOrDefault("ATMO_TEST_PG_DATABASE", "atmo_test")
	user := envOrDefault("ATMO_TEST_PG_USER", "postgres")
	pass := envOrDefault("ATMO_TEST_PG_PASSWORD", "postgres")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, db)
}

func mongoURI(t *testing.T) string {
	t.Helper()
	return envOrDefault("ATMO_TEST_MONGO_URI", "mongodb://localhost:37017/?directConnection=true")
}

func skipIfNoPostgres(t *testing.T) {
	t.Helper()
	if os.Getenv("ATMO_TEST_PG_HOST") == "" && os.Getenv("ATMO_TEST_PG_PORT") == "" {
		t.Skip("skipping: ATMO_TEST_PG_HOST/PORT not set")
	}
}

func skipIfNoMongo(t *testing.T) {
	t.Helper()
	if os.Getenv("ATMO_TEST_MONGO_URI") == "" {
		t.Skip("skipping: ATMO_TEST_MONGO_URI not set")
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
