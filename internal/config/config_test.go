package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	c := Default()
	c.JWTSecret = "0123456789abcdef"
	return c
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		errorString string
	}{
		{name: "defaults with secret", mutate: func(c *Config) {}},
		{
			name:        "invalid port - non-numeric",
			mutate:      func(c *Config) { c.Port = "abc" },
			errorString: "invalid port 'abc': must be a number",
		},
		{
			name:        "invalid port - out of range",
			mutate:      func(c *Config) { c.Port = "70000" },
			errorString: "invalid port 70000: must be between 1 and 65535",
		},
		{
			name:        "unknown driver",
			mutate:      func(c *Config) { c.DBDriver = "mysql" },
			errorString: "invalid db driver 'mysql'",
		},
		{
			name:        "postgres without dsn",
			mutate:      func(c *Config) { c.DBDriver = "postgres" },
			errorString: "postgres DSN is required",
		},
		{
			name:        "short secret",
			mutate:      func(c *Config) { c.JWTSecret = "short" },
			errorString: "JWT secret must be at least 16 characters",
		},
		{
			name:        "bad week start",
			mutate:      func(c *Config) { c.AllowanceWeekStart = "funday" },
			errorString: "invalid allowance week start 'funday'",
		},
		{
			name:        "bad amqp scheme",
			mutate:      func(c *Config) { c.AMQPURL = "http://localhost" },
			errorString: "invalid AMQP URL scheme 'http'",
		},
		{
			name:        "half vapid",
			mutate:      func(c *Config) { c.VAPIDPublicKey = "pub" },
			errorString: "VAPID public and private keys must be set together",
		},
		{
			name:        "postmark without recipients",
			mutate:      func(c *Config) { c.PostmarkToken = "tok"; c.EmailFrom = "noreply@example.com" },
			errorString: "at least one parent email is required",
		},
		{
			name:        "partial backup settings",
			mutate:      func(c *Config) { c.S3Bucket = "b" },
			errorString: "backups need S3 bucket",
		},
		{
			name:        "worker interval too short",
			mutate:      func(c *Config) { c.WorkerInterval = time.Millisecond },
			errorString: "invalid worker interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.errorString == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorString) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.errorString)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	c := validConfig()
	c.Port = "0"
	c.JWTSecret = ""
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid port 0") || !strings.Contains(err.Error(), "JWT secret") {
		t.Errorf("error = %v, want both problems listed", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	file := filepath.Join(dir, "pocketmoney.yaml")
	yamlData := "port: \"9000\"\nlog_format: json\nworker_interval: 30s\norigin_patterns:\n  - app.example.com\n"
	if err := os.WriteFile(file, []byte(yamlData), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("POCKETMONEY_JWT_SECRET=from-dotenv-file-123\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("POCKETMONEY_CONFIG", file)
	t.Setenv("POCKETMONEY_PORT", "9100")
	t.Setenv("POCKETMONEY_ALLOWANCE_AUTO_PAY", "true")
	t.Setenv("POCKETMONEY_ALLOWANCE_WEEK_START", "Sunday")

	t.Cleanup(func() { os.Unsetenv("POCKETMONEY_JWT_SECRET") })
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9100" {
		t.Errorf("Port = %q, want env value 9100", cfg.Port)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want yaml value json", cfg.LogFormat)
	}
	if cfg.WorkerInterval != 30*time.Second {
		t.Errorf("WorkerInterval = %v, want 30s", cfg.WorkerInterval)
	}
	if len(cfg.OriginPatterns) != 1 || cfg.OriginPatterns[0] != "app.example.com" {
		t.Errorf("OriginPatterns = %v", cfg.OriginPatterns)
	}
	if cfg.JWTSecret != "from-dotenv-file-123" {
		t.Errorf("JWTSecret = %q, want value from .env", cfg.JWTSecret)
	}
	if !cfg.AllowanceAutoPay || cfg.WeekStart() != time.Sunday {
		t.Errorf("auto pay = %v week start = %v", cfg.AllowanceAutoPay, cfg.WeekStart())
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("DBDriver = %q, want default sqlite", cfg.DBDriver)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("POCKETMONEY_WORKER_INTERVAL", "often")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "POCKETMONEY_WORKER_INTERVAL") {
		t.Errorf("Load() error = %v, want bad duration reported", err)
	}
}

func TestLoadRejectsUnknownYAMLKeys(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	file := filepath.Join(dir, "c.yaml")
	os.WriteFile(file, []byte("prot: 80\n"), 0o600)
	t.Setenv("POCKETMONEY_CONFIG", file)
	if _, err := Load(); err == nil {
		t.Error("expected unknown key error")
	}
}
