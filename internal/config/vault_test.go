package config

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func vaultServer(t *testing.T, path string, data map[string]interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Vault-Token") != "test-token" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"data": data},
		})
	}))
	t.Cleanup(server.Close)
	t.Setenv("VAULT_ADDR", server.URL)
	t.Setenv("VAULT_TOKEN", "test-token")
	return server
}

func TestResolveVault(t *testing.T) {
	vaultServer(t, "/v1/secret/data/atmo", map[string]interface{}{"dsn_password": "s3cret", "port": 5432})

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{"string key", "secret/data/atmo#dsn_password", "s3cret", false},
		{"missing key", "secret/data/atmo#nope", "", true},
		{"non-string value", "secret/data/atmo#port", "", true},
		{"missing path", "secret/data/other#dsn_password", "", true},
		{"no separator", "secret/data/atmo", "", true},
		{"empty key", "secret/data/atmo#", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveVault(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveVault_MissingEnv(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("VAULT_TOKEN", "")

	if _, err := resolveVault("secret/data/path#key"); err == nil {
		t.Error("expected error when VAULT_ADDR not set")
	}
}

func TestResolveValue_VaultEmbedded(t *testing.T) {
	vaultServer(t, "/v1/secret/data/atmo", map[string]interface{}{"pw": "hunter2"})

	got, err := ResolveValue("postgres://atmo:${VAULT:secret/data/atmo#pw}@db:5432/atmo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "postgres://atmo:hunter2@db:5432/atmo" {
		t.Errorf("got %q", got)
	}
}
