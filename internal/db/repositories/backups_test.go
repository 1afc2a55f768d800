package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drydock/internal/db"
	"drydock/pkg/models"
)

func TestBackupRepo_WriteReadRoundTrip(t *testing.T) {
	database := db.NewTest(t)
	repo := NewBackupRepo(database.Conn())
	ctx := context.Background()

	files := []models.BackupFile{
		{Path: "/main.py", Content: "print('hi')"},
		{Path: "/lib/util.py", Content: "def f(): pass"},
	}
	require.NoError(t, repo.Write(ctx, "owner-1", files))

	backup, err := repo.Read(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, backup)
	assert.Equal(t, files, backup.Files)
	assert.Equal(t, 2, backup.FileCount)
	assert.Equal(t, int64(len(files[0].Content)+len(files[1].Content)), backup.TotalSize)
}

func TestBackupRepo_ReadMissing(t *testing.T) {
	database := db.NewTest(t)
	repo := NewBackupRepo(database.Conn())

	backup, err := repo.Read(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, backup)

	info, err := repo.ReadInfo(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestBackupRepo_EmptyBackupIsNotMissing(t *testing.T) {
	database := db.NewTest(t)
	repo := NewBackupRepo(database.Conn())
	ctx := context.Background()

	require.NoError(t, repo.Write(ctx, "owner-1", []models.BackupFile{}))

	backup, err := repo.Read(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, backup)
	assert.Empty(t, backup.Files)
	assert.Equal(t, 0, backup.FileCount)
	assert.Equal(t, int64(0), backup.TotalSize)
}

func TestBackupRepo_WritePreservesCreatedAt(t *testing.T) {
	database := db.NewTest(t)
	repo := NewBackupRepo(database.Conn())
	ctx := context.Background()

	require.NoError(t, repo.Write(ctx, "owner-1", []models.BackupFile{{Path: "/a", Content: "1"}}))
	first, err := repo.ReadInfo(ctx, "owner-1")
	require.NoError(t, err)

	require.NoError(t, repo.Write(ctx, "owner-1", []models.BackupFile{{Path: "/b", Content: "22"}}))
	second, err := repo.ReadInfo(ctx, "owner-1")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, 1, second.FileCount)
	assert.Equal(t, int64(2), second.TotalSize)
}

func TestBackupRepo_ReadInfoMatchesAggregates(t *testing.T) {
	database := db.NewTest(t)
	repo := NewBackupRepo(database.Conn())
	ctx := context.Background()

	files := []models.BackupFile{
		{Path: "/x.txt", Content: "hello"},
		{Path: "/y.txt", Content: "world!"},
	}
	require.NoError(t, repo.Write(ctx, "owner-1", files))

	info, err := repo.ReadInfo(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, len(files), info.FileCount)
	assert.Equal(t, int64(11), info.TotalSize)
}

func TestBackupRepo_Delete(t *testing.T) {
	database := db.NewTest(t)
	repo := NewBackupRepo(database.Conn())
	ctx := context.Background()

	found, err := repo.Delete(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.Write(ctx, "owner-1", []models.BackupFile{{Path: "/a", Content: "1"}}))

	found, err = repo.Delete(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, found)

	backup, err := repo.Read(ctx, "owner-1")
	require.NoError(t, err)
	assert.Nil(t, backup)
}

func TestBackupRepo_OwnersAreIsolated(t *testing.T) {
	database := db.NewTest(t)
	repo := NewBackupRepo(database.Conn())
	ctx := context.Background()

	require.NoError(t, repo.Write(ctx, "owner-1", []models.BackupFile{{Path: "/a", Content: "one"}}))
	require.NoError(t, repo.Write(ctx, "owner-2", []models.BackupFile{{Path: "/b", Content: "two"}}))

	backup, err := repo.Read(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, backup.Files, 1)
	assert.Equal(t, "/a", backup.Files[0].Path)
}
