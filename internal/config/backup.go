package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	// MaxBackups is the maximum number of config backups to keep
	MaxBackups = 3

	// BackupSuffix is the file extension for backup files
	BackupSuffix = ".bak"

	// backupStamp formats backup timestamps so filenames sort
	// lexicographically, newest last.
	backupStamp = "20060102-150405"
)

// BackupUserConfig snapshots the user config next to itself as
// config.yaml.bak.<timestamp>. Returns the backup path, or "" when no
// user config exists.
func BackupUserConfig() (string, error) {
	if !UserConfigExists() {
		return "", nil
	}

	src := GetUserConfigPath()
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	dst := fmt.Sprintf("%s%s.%s", src, BackupSuffix, time.Now().Format(backupStamp))
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	// Best effort; the backup itself succeeded.
	_ = pruneBackups()

	return dst, nil
}

// ListUserConfigBackups returns all backups of the user config, newest
// first. The timestamp suffix orders them without stat calls.
func ListUserConfigBackups() ([]string, error) {
	backups, err := filepath.Glob(GetUserConfigPath() + BackupSuffix + ".*")
	if err != nil {
		return nil, fmt.Errorf("failed to list config backups: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

// LatestUserConfigBackup returns the newest backup of the user config,
// or "" when none exist.
func LatestUserConfigBackup() (string, error) {
	backups, err := ListUserConfigBackups()
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", nil
	}
	return backups[0], nil
}

// pruneBackups deletes all but the newest MaxBackups backups.
func pruneBackups() error {
	backups, err := ListUserConfigBackups()
	if err != nil {
		return err
	}
	for _, stale := range backups[min(MaxBackups, len(backups)):] {
		_ = os.Remove(stale)
	}
	return nil
}

// RestoreUserConfig replaces the user config with the named backup.
// The live config, if any, is itself backed up first. The backup is
// read before that safety copy is taken, so restoring within the
// timestamp resolution of the copy cannot clobber the data being
// restored.
func RestoreUserConfig(backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("backup file not found: %w", err)
	}

	if UserConfigExists() {
		if _, err := BackupUserConfig(); err != nil {
			return fmt.Errorf("failed to backup current config before restore: %w", err)
		}
	}

	if err := os.MkdirAll(GetUserConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(GetUserConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write restored config: %w", err)
	}
	return nil
}
