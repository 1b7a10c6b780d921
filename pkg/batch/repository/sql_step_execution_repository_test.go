package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/database"
	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/repository"
)

func newRepository(t *testing.T) *repository.SQLStepExecutionRepository {
	t.Helper()
	cfg := config.DatabaseConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "batch.db")}
	require.NoError(t, repository.Migrate(cfg))
	require.NoError(t, repository.Migrate(cfg), "二回目の適用は変更なしで成功する")

	db, err := database.NewDBConnectionFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.NewSQLStepExecutionRepository(db)
}

func TestSQLStepExecutionRepository_SaveUpdateFind(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	last, err := repo.FindLastStepExecution(ctx, "copyUsers")
	require.NoError(t, err)
	assert.Nil(t, last, "履歴がない場合は nil")

	se := core.NewStepExecution("copyUsers", nil)
	se.MarkAsStarted()
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	se.ReadCount = 4
	se.WriteCount = 3
	se.CommitCount = 2
	se.FilterCount = 1
	se.SkipWriteCount = 1
	se.ExecutionContext.Put("CursorItemReader.read.count", 4)
	se.MarkAsFailed(errors.New("UNIQUE constraint failed"))
	require.NoError(t, repo.UpdateStepExecution(ctx, se))

	found, err := repo.FindLastStepExecution(ctx, "copyUsers")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, se.ID, found.ID)
	assert.Equal(t, core.BatchStatusFailed, found.Status)
	assert.Equal(t, core.ExitStatusFailed, found.ExitStatus)
	assert.Equal(t, 4, found.ReadCount)
	assert.Equal(t, 3, found.WriteCount)
	assert.Equal(t, 2, found.CommitCount)
	assert.Equal(t, 1, found.FilterCount)
	assert.Equal(t, 1, found.SkipWriteCount)
	assert.False(t, found.EndTime.IsZero())
	require.Len(t, found.Failures, 1)
	assert.EqualError(t, found.Failures[0], "UNIQUE constraint failed")

	count, ok := found.ExecutionContext.GetInt("CursorItemReader.read.count")
	require.True(t, ok)
	assert.Equal(t, 4, count)
}

func TestSQLStepExecutionRepository_FindLastReturnsNewest(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	first := core.NewStepExecution("copyUsers", nil)
	first.MarkAsStarted()
	require.NoError(t, repo.SaveStepExecution(ctx, first))

	other := core.NewStepExecution("otherStep", nil)
	other.MarkAsStarted()
	require.NoError(t, repo.SaveStepExecution(ctx, other))

	second := core.NewStepExecution("copyUsers", nil)
	second.MarkAsStarted()
	second.StartTime = first.StartTime.Add(time.Second)
	require.NoError(t, repo.SaveStepExecution(ctx, second))

	found, err := repo.FindLastStepExecution(ctx, "copyUsers")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, second.ID, found.ID)
	assert.Equal(t, core.BatchStatusStarted, found.Status)
	assert.True(t, found.EndTime.IsZero())
	assert.Empty(t, found.Failures)
}

func TestSQLStepExecutionRepository_UpdateUnknown(t *testing.T) {
	repo := newRepository(t)
	se := core.NewStepExecution("copyUsers", nil)
	err := repo.UpdateStepExecution(context.Background(), se)
	assert.ErrorContains(t, err, se.ID)
}

func TestMigrate_UnsupportedTypeIsSkipped(t *testing.T) {
	assert.NoError(t, repository.Migrate(config.DatabaseConfig{Type: "snowflake"}))
}
