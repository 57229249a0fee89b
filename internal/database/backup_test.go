package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kajabook/internal/config"
	"kajabook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	storagePath := filepath.Join(tempDir, "backups")

	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(tempDir, "kajabook.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.CreateSlot(ctx, &models.Slot{DateKey: "2025-03-01", StartMin: 540, EndMin: 565, Capacity: 1}))

	s := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: storagePath, RetentionDays: 1}, &logger)

	var snapshot string
	t.Run("PerformBackup", func(t *testing.T) {
		snapshot, err = s.PerformBackup(ctx)
		require.NoError(t, err)
		assert.FileExists(t, snapshot)

		copyDB, err := sql.Open("sqlite3", snapshot)
		require.NoError(t, err)
		defer copyDB.Close()

		var n int
		require.NoError(t, copyDB.QueryRow(`SELECT COUNT(*) FROM slots`).Scan(&n))
		assert.Equal(t, 1, n)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldFile := filepath.Join(storagePath, backupPrefix+"old.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))
		foreign := filepath.Join(storagePath, "notes.txt")
		require.NoError(t, os.WriteFile(foreign, []byte("keep"), 0o644))

		oldTime := time.Now().AddDate(0, 0, -2)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))
		require.NoError(t, os.Chtimes(foreign, oldTime, oldTime))

		assert.Equal(t, 1, s.CleanupOldBackups())
		assert.NoFileExists(t, oldFile)
		assert.FileExists(t, foreign)
		assert.FileExists(t, snapshot)
	})
}

func TestBackupService_Disabled(_ *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService(nil, config.BackupConfig{Enabled: false}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)
}
