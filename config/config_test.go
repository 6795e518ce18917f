package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Setenv("ORDERS_JWT_SECRET", "env-secret")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8080" || !cfg.IsDev() {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DisputeWindow != 24*time.Hour {
		t.Fatalf("dispute window = %s", cfg.DisputeWindow)
	}
	if cfg.JWTSecret != "env-secret" {
		t.Fatalf("jwt secret not applied")
	}
}

func TestLoadTOMLFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orderd.toml")
	contents := `
ListenAddress = ":9090"
Environment = "staging"
DatabaseURL = "postgres://orders"
JWTSecret = "file-secret"
RazorpayKeyID = "rzp_id"
RazorpayKeySecret = "rzp_secret"
FileSignSecret = "file-sign"
DisputeWindow = "48h"
AllowSelfPurchase = true
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ORDERS_LISTEN", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7070" {
		t.Fatalf("env should override file, got %s", cfg.ListenAddress)
	}
	if cfg.DisputeWindow != 48*time.Hour {
		t.Fatalf("dispute window = %s", cfg.DisputeWindow)
	}
	if !cfg.AllowSelfPurchase || cfg.IsDev() {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestValidateProductionRequirements(t *testing.T) {
	t.Setenv("ORDERS_JWT_SECRET", "s")
	t.Setenv("ORDERS_ENV", "production")
	if _, err := Load(""); err == nil {
		t.Fatal("production without gateway credentials should fail")
	}
}

func TestValidateRequiresJWTSecret(t *testing.T) {
	t.Setenv("ORDERS_JWT_SECRET", "")
	if _, err := Load(""); err == nil {
		t.Fatal("missing JWT secret should fail")
	}
}
