package config

import (
	"os"
	"path/filepath"
	"testing"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "bloodlink",
		Password: "secret",
		Name:     "blood_donation",
		SSLMode:  "require",
	}
	want := "host=localhost port=5432 user=bloodlink password=secret dbname=blood_donation sslmode=require"
	if got := cfg.GetDSN(); got != want {
		t.Errorf("GetDSN() = %q, want %q", got, want)
	}
}

// ---------------------------------------------------------------------------
// ServerConfig.GetAddress
// ---------------------------------------------------------------------------

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 5000}, "0.0.0.0:5000"},
		{"localhost", ServerConfig{Host: "localhost", Port: 3000}, "localhost:3000"},
		{"empty host", ServerConfig{Host: "", Port: 5000}, ":5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetAddress(); got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Database.Name != "blood_donation" {
		t.Errorf("Database.Name = %q, want blood_donation", cfg.Database.Name)
	}
	if !cfg.Security.RateLimiting.Enabled {
		t.Error("expected rate limiting enabled by default")
	}
	if cfg.Auth.Identity.Enabled {
		t.Error("expected identity verification disabled by default")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  port: 8080
logging:
  level: debug
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("BLD_SERVER_PORT", "9999")
	t.Setenv("BLD_DATABASE_HOST", "db.internal")

	cfg, err := Load(writeConfig(t, "server:\n  port: 8080\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999 from env", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("Database.Host = %q, want db.internal from env", cfg.Database.Host)
	}
}

func TestLoad_ExpandsSecretReferences(t *testing.T) {
	t.Setenv("DB_SECRET", "s3cret")
	t.Setenv("IDENTITY_SERVICE_KEY", "base64-key-material")

	cfg, err := Load(writeConfig(t, `
database:
  password: ${DB_SECRET}
auth:
  identity:
    service_key: ${IDENTITY_SERVICE_KEY}
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Password != "s3cret" {
		t.Errorf("Database.Password = %q, want expanded secret", cfg.Database.Password)
	}
	if cfg.Auth.Identity.ServiceKey != "base64-key-material" {
		t.Errorf("ServiceKey = %q, want expanded secret", cfg.Auth.Identity.ServiceKey)
	}
}

func TestLoad_RejectsInvalidPort(t *testing.T) {
	if _, err := Load(writeConfig(t, "server:\n  port: 99999\n")); err == nil {
		t.Error("expected validation error for out-of-range port")
	}
}

func TestLoad_RejectsInvalidLogLevel(t *testing.T) {
	if _, err := Load(writeConfig(t, "logging:\n  level: verbose\n")); err == nil {
		t.Error("expected validation error for unknown log level")
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestValidate_IdentityRequiresKeyOrIssuer(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Identity.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when identity is enabled without key or issuer")
	}

	cfg.Auth.Identity.IssuerURL = "https://issuer.example.com"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error with issuer set: %v", err)
	}
}

func TestValidate_TLSRequiresCertAndKey(t *testing.T) {
	cfg := validConfig()
	cfg.Security.TLS.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when TLS is enabled without cert/key")
	}

	cfg.Security.TLS.CertFile = "/etc/tls/cert.pem"
	cfg.Security.TLS.KeyFile = "/etc/tls/key.pem"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error with cert and key set: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 5000, BaseURL: "http://localhost:5000"},
		Database: DatabaseConfig{Host: "localhost", Name: "blood_donation", User: "bloodlink"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}
