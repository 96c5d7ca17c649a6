package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "POCKETMONEY_"

type Config struct {
	// HTTP Server
	Port           string   `yaml:"port"`
	OriginPatterns []string `yaml:"origin_patterns"`
	// MutationsPerMinute caps write requests per actor; 0 disables the limit.
	MutationsPerMinute int `yaml:"mutations_per_minute"`

	// Database
	DBDriver    string `yaml:"db_driver"`
	DBPath      string `yaml:"db_path"`
	PostgresDSN string `yaml:"postgres_dsn"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Identity
	JWTSecret string `yaml:"jwt_secret"`

	// Ledger
	LedgerMaxRetries int `yaml:"ledger_max_retries"`

	// Allowance
	AllowanceWeekStart string `yaml:"allowance_week_start"`
	AllowanceAutoPay   bool   `yaml:"allowance_auto_pay"`

	// Worker
	WorkerInterval time.Duration `yaml:"worker_interval"`
	BackupInterval time.Duration `yaml:"backup_interval"`

	// AMQP
	AMQPURL        string `yaml:"amqp_url"`
	AMQPExchange   string `yaml:"amqp_exchange"`
	AMQPQueue      string `yaml:"amqp_queue"`
	AMQPRoutingKey string `yaml:"amqp_routing_key"`

	// Web push
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	VAPIDSubscriber string `yaml:"vapid_subscriber"`

	// Email
	PostmarkToken string   `yaml:"postmark_token"`
	EmailFrom     string   `yaml:"email_from"`
	ParentEmails  []string `yaml:"parent_emails"`
	PublicURL     string   `yaml:"public_url"`

	// Backups
	S3Endpoint          string `yaml:"s3_endpoint"`
	S3Bucket            string `yaml:"s3_bucket"`
	S3Region            string `yaml:"s3_region"`
	S3AccessKey         string `yaml:"s3_access_key"`
	S3SecretKey         string `yaml:"s3_secret_key"`
	S3Prefix            string `yaml:"s3_prefix"`
	BackupPassphrase    string `yaml:"backup_passphrase"`
	BackupRetentionDays int    `yaml:"backup_retention_days"`
}

func Default() *Config {
	return &Config{
		Port:                "8080",
		MutationsPerMinute:  120,
		DBDriver:            "sqlite",
		DBPath:              "pocketmoney.db",
		LogLevel:            "info",
		LogFormat:           "text",
		LedgerMaxRetries:    5,
		AllowanceWeekStart:  "monday",
		WorkerInterval:      time.Minute,
		BackupInterval:      24 * time.Hour,
		AMQPExchange:        "pocketmoney",
		AMQPQueue:           "pocketmoney_events",
		AMQPRoutingKey:      "pocketmoney.events",
		S3Region:            "us-east-1",
		S3Prefix:            "pocketmoney",
		BackupRetentionDays: 30,
	}
}

// Load reads configuration in increasing precedence: defaults, the YAML file
// named by POCKETMONEY_CONFIG, then POCKETMONEY_* environment variables. A
// .env file in the working directory is loaded into the environment first
// when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %q is not a number", envPrefix, key, v))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %q is not a duration", envPrefix, key, v))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %q is not a boolean", envPrefix, key, v))
				return
			}
			*dst = b
		}
	}

	str("PORT", &c.Port)
	if v, ok := os.LookupEnv(envPrefix + "ORIGIN_PATTERNS"); ok {
		c.OriginPatterns = splitList(v)
	}
	num("MUTATIONS_PER_MINUTE", &c.MutationsPerMinute)
	str("DB_DRIVER", &c.DBDriver)
	str("DB_PATH", &c.DBPath)
	str("POSTGRES_DSN", &c.PostgresDSN)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("JWT_SECRET", &c.JWTSecret)
	num("LEDGER_MAX_RETRIES", &c.LedgerMaxRetries)
	str("ALLOWANCE_WEEK_START", &c.AllowanceWeekStart)
	flag("ALLOWANCE_AUTO_PAY", &c.AllowanceAutoPay)
	dur("WORKER_INTERVAL", &c.WorkerInterval)
	dur("BACKUP_INTERVAL", &c.BackupInterval)
	str("AMQP_URL", &c.AMQPURL)
	str("AMQP_EXCHANGE", &c.AMQPExchange)
	str("AMQP_QUEUE", &c.AMQPQueue)
	str("AMQP_ROUTING_KEY", &c.AMQPRoutingKey)
	str("VAPID_PUBLIC_KEY", &c.VAPIDPublicKey)
	str("VAPID_PRIVATE_KEY", &c.VAPIDPrivateKey)
	str("VAPID_SUBSCRIBER", &c.VAPIDSubscriber)
	str("POSTMARK_TOKEN", &c.PostmarkToken)
	str("EMAIL_FROM", &c.EmailFrom)
	if v, ok := os.LookupEnv(envPrefix + "PARENT_EMAILS"); ok {
		c.ParentEmails = splitList(v)
	}
	str("PUBLIC_URL", &c.PublicURL)
	str("S3_ENDPOINT", &c.S3Endpoint)
	str("S3_BUCKET", &c.S3Bucket)
	str("S3_REGION", &c.S3Region)
	str("S3_ACCESS_KEY", &c.S3AccessKey)
	str("S3_SECRET_KEY", &c.S3SecretKey)
	str("S3_PREFIX", &c.S3Prefix)
	str("BACKUP_PASSPHRASE", &c.BackupPassphrase)
	num("BACKUP_RETENTION_DAYS", &c.BackupRetentionDays)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// WeekStart returns the configured first day of the allowance week.
func (c *Config) WeekStart() time.Weekday {
	return weekdays[strings.ToLower(strings.TrimSpace(c.AllowanceWeekStart))]
}

// BackupsConfigured reports whether enough S3 settings are present to run
// backups. Partial settings are a validation error.
func (c *Config) BackupsConfigured() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.BackupPassphrase != ""
}

// Validate validates the configuration and returns an error listing every
// problem found.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, "database path cannot be empty when using the sqlite driver")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errs = append(errs, "postgres DSN is required when using the postgres driver")
		}
		if c.BackupsConfigured() {
			errs = append(errs, "backups snapshot the SQLite file and are not available with the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid db driver '%s': must be sqlite or postgres", c.DBDriver))
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if len(c.JWTSecret) < 16 {
		errs = append(errs, "JWT secret must be at least 16 characters")
	}
	if c.LedgerMaxRetries < 1 || c.LedgerMaxRetries > 50 {
		errs = append(errs, fmt.Sprintf("invalid ledger max retries %d: must be between 1 and 50", c.LedgerMaxRetries))
	}
	if _, ok := weekdays[strings.ToLower(strings.TrimSpace(c.AllowanceWeekStart))]; !ok {
		errs = append(errs, fmt.Sprintf("invalid allowance week start '%s': must be a weekday name", c.AllowanceWeekStart))
	}
	if c.MutationsPerMinute < 0 {
		errs = append(errs, "mutations per minute cannot be negative")
	}

	if c.WorkerInterval < time.Second || c.WorkerInterval > 24*time.Hour {
		errs = append(errs, fmt.Sprintf("invalid worker interval %v: must be between 1 second and 24 hours", c.WorkerInterval))
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL: %v", err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		errs = append(errs, "VAPID public and private keys must be set together")
	}

	if c.PostmarkToken != "" {
		if c.EmailFrom == "" {
			errs = append(errs, "email sender address is required when a Postmark token is set")
		}
		if len(c.ParentEmails) == 0 {
			errs = append(errs, "at least one parent email is required when a Postmark token is set")
		}
	}

	s3Fields := []string{c.S3Bucket, c.S3AccessKey, c.S3SecretKey, c.BackupPassphrase}
	set := 0
	for _, f := range s3Fields {
		if f != "" {
			set++
		}
	}
	if set > 0 && set < len(s3Fields) {
		errs = append(errs, "backups need S3 bucket, access key, secret key and passphrase together")
	}
	if c.BackupsConfigured() && c.BackupInterval < time.Hour {
		errs = append(errs, fmt.Sprintf("invalid backup interval %v: must be at least 1 hour", c.BackupInterval))
	}
	if c.BackupRetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("invalid backup retention %d: must be at least 1 day", c.BackupRetentionDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
