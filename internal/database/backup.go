package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"slotguard/internal/config"

	"github.com/rs/zerolog"
)

const (
	backupPrefix      = "slots_"
	backupSuffix      = ".db"
	defaultBackupTick = 24 * time.Hour
)

// BackupService snapshots the slot store with VACUUM INTO, which produces a
// consistent copy while claims keep committing, and prunes snapshots older
// than the retention window.
type BackupService struct {
	db     *DB
	cfg    config.BackupConfig
	logger *zerolog.Logger
	now    func() time.Time
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BackupService{db: db, cfg: cfg, logger: logger, now: time.Now}
}

// backupInterval parses the schedule as a Go duration; empty means daily.
func backupInterval(schedule string) (time.Duration, error) {
	if strings.TrimSpace(schedule) == "" {
		return defaultBackupTick, nil
	}
	d, err := time.ParseDuration(schedule)
	if err != nil {
		return defaultBackupTick, fmt.Errorf("parse backup schedule %q: %w", schedule, err)
	}
	if d <= 0 {
		return defaultBackupTick, fmt.Errorf("backup schedule %q must be positive", schedule)
	}
	return d, nil
}

// Start takes a snapshot immediately and then on every tick until ctx ends.
func (s *BackupService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("backup service is disabled")
		return
	}
	if s.db.Path() == ":memory:" {
		s.logger.Warn().Msg("backup skipped for in-memory database")
		return
	}

	interval, err := backupInterval(s.cfg.Schedule)
	if err != nil {
		s.logger.Warn().Err(err).Dur("interval", interval).Msg("using default backup interval")
	}
	s.logger.Info().Dur("interval", interval).Str("dir", s.cfg.StoragePath).Msg("backup service started")

	s.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *BackupService) runOnce(ctx context.Context) {
	if _, err := s.PerformBackup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("backup failed")
		return
	}
	if removed, err := s.CleanupOldBackups(); err != nil {
		s.logger.Warn().Err(err).Msg("backup cleanup failed")
	} else if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("old backups pruned")
	}
}

// PerformBackup writes a snapshot and returns its path.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.cfg.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	name := backupPrefix + s.now().UTC().Format("20060102_150405.000") + backupSuffix
	target := filepath.Join(s.cfg.StoragePath, name)
	// VACUUM INTO takes a string literal, not a bind parameter
	if strings.ContainsRune(target, '\'') {
		return "", fmt.Errorf("backup path %q contains a quote", target)
	}

	started := time.Now()
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO '"+target+"'"); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", target, err)
	}

	s.logger.Info().Str("path", target).Dur("took", time.Since(started)).Msg("backup written")
	return target, nil
}

// CleanupOldBackups removes snapshots whose modification time falls outside
// the retention window and reports how many were deleted. Files not named
// like snapshots are left alone. Retention of zero keeps everything.
func (s *BackupService) CleanupOldBackups() (int, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(s.cfg.StoragePath)
	if err != nil {
		return 0, fmt.Errorf("read backup directory: %w", err)
	}

	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.StoragePath, name)); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("failed to delete old backup")
			continue
		}
		removed++
	}
	return removed, nil
}
