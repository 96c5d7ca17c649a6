package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "modernc.org/sqlite"

	"github.com/dukerupert/pocketmoney/internal/clock"
	"github.com/dukerupert/pocketmoney/internal/model"
	"github.com/dukerupert/pocketmoney/internal/store"
)

var (
	ErrNotConfigured = errors.New("backup not configured")
	ErrInProgress    = errors.New("backup already running")
)

// s3Client is the subset of the S3 API the manager uses.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config points at any S3-compatible store.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Config struct {
	S3            S3Config
	Passphrase    string
	Prefix        string
	RetentionDays int
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Manager takes encrypted snapshots of the SQLite ledger and keeps them in
// S3. One snapshot runs at a time.
type Manager struct {
	cfg     Config
	db      *sql.DB
	records *store.BackupStore
	client  s3Client
	clock   clock.Clock
	logger  *slog.Logger

	running sync.Mutex
	mu      sync.RWMutex
	status  Status
}

func NewManager(cfg Config, db *sql.DB, records *store.BackupStore, c clock.Clock, logger *slog.Logger) *Manager {
	var client s3Client
	if cfg.S3.complete() && cfg.Passphrase != "" {
		client = newS3Client(cfg.S3)
	}
	return newManager(cfg, db, records, client, c, logger)
}

func newManager(cfg Config, db *sql.DB, records *store.BackupStore, client s3Client, c clock.Clock, logger *slog.Logger) *Manager {
	if cfg.Prefix == "" {
		cfg.Prefix = "pocketmoney"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	m := &Manager{
		cfg:     cfg,
		db:      db,
		records: records,
		client:  client,
		clock:   c,
		logger:  logger.With("component", "backup"),
		status:  Status{State: StateDisabled},
	}
	if client != nil {
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func (m *Manager) Enabled() bool {
	return m.client != nil
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if s.LastBackup == nil {
		s.LastBackup = m.status.LastBackup
	}
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) List(ctx context.Context, limit int) ([]model.Backup, error) {
	return m.records.List(ctx, limit)
}

// Run snapshots the database, encrypts it and uploads it. The backup record
// tracks progress and ends completed or failed.
func (m *Manager) Run(ctx context.Context) (*model.Backup, error) {
	if m.client == nil {
		return nil, ErrNotConfigured
	}
	if !m.running.TryLock() {
		return nil, ErrInProgress
	}
	defer m.running.Unlock()

	now := m.clock.Now().UTC()
	filename := fmt.Sprintf("ledger-%s.db.enc", now.Format("2006-01-02T150405Z"))
	key := m.cfg.Prefix + "/" + filename

	record, err := m.records.Create(ctx, filename, key, now)
	if err != nil {
		return nil, fmt.Errorf("create backup record: %w", err)
	}
	m.setStatus(Status{State: StateRunning})

	size, err := m.upload(ctx, record.ID, key)
	if err != nil {
		m.logger.Error("backup failed", "backup_id", record.ID, "error", err)
		if uerr := m.records.UpdateStatus(ctx, record.ID, model.BackupStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("record backup failure", "backup_id", record.ID, "error", uerr)
		}
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return nil, err
	}

	done := m.clock.Now().UTC()
	if err := m.records.UpdateCompleted(ctx, record.ID, size, done); err != nil {
		return nil, err
	}
	m.setStatus(Status{State: StateIdle, LastBackup: &done})
	m.logger.Info("backup uploaded", "backup_id", record.ID, "key", key, "bytes", size)
	return m.records.GetByID(ctx, record.ID)
}

func (m *Manager) upload(ctx context.Context, id int64, key string) (int64, error) {
	if err := m.records.UpdateStatus(ctx, id, model.BackupStatusUploading, ""); err != nil {
		return 0, err
	}

	dir, err := os.MkdirTemp("", "pocketmoney-backup-")
	if err != nil {
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	// VACUUM INTO writes a consistent copy without blocking writers for long.
	snapshot := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, snapshot); err != nil {
		return 0, fmt.Errorf("snapshot database: %w", err)
	}
	plaintext, err := os.ReadFile(snapshot)
	if err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}

	sealed, err := Seal(plaintext, m.cfg.Passphrase)
	if err != nil {
		return 0, fmt.Errorf("encrypt snapshot: %w", err)
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return 0, fmt.Errorf("upload to s3: %w", err)
	}
	return int64(len(sealed)), nil
}

// Fetch downloads and decrypts a completed backup.
func (m *Manager) Fetch(ctx context.Context, id int64) ([]byte, error) {
	if m.client == nil {
		return nil, ErrNotConfigured
	}
	record, err := m.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Status != model.BackupStatusCompleted {
		return nil, fmt.Errorf("backup %d: %w", id, model.ErrNotFound)
	}

	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(record.S3Key),
	})
	if err != nil {
		return nil, fmt.Errorf("download from s3: %w", err)
	}
	defer out.Body.Close()

	sealed, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return Open(sealed, m.cfg.Passphrase)
}

// RestoreTo writes backup id to dstPath as a standalone SQLite file after
// checking its integrity. It never touches the live database; swap the file
// in while the service is stopped.
func (m *Manager) RestoreTo(ctx context.Context, id int64, dstPath string) error {
	if _, err := os.Stat(dstPath); err == nil {
		return fmt.Errorf("%w: %s already exists", model.ErrInvalidInput, dstPath)
	}

	plaintext, err := m.Fetch(ctx, id)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dstPath, plaintext, 0o600); err != nil {
		return fmt.Errorf("write restored db: %w", err)
	}

	if err := checkIntegrity(ctx, dstPath); err != nil {
		os.Remove(dstPath)
		return err
	}
	m.logger.Info("backup restored", "backup_id", id, "path", dstPath)
	return nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Cleanup deletes backups older than the retention window, both the
// records and their objects. It returns the number removed.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	if m.client == nil {
		return 0, nil
	}

	before := m.clock.Now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	keys, err := m.records.DeleteOlderThan(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("delete old backups: %w", err)
	}

	var errs []error
	for _, key := range keys {
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete backup object", "key", key, "error", err)
			errs = append(errs, err)
		}
	}
	return len(keys), errors.Join(errs...)
}
