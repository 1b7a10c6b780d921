package step_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/database"
	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/sqlsession"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/step"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/step/listener"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/step/processor"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/step/reader"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/step/writer"
)

const copyMapper = `
namespace: copy
statements:
  - id: findSource
    sql: SELECT id, name FROM source WHERE id >= :minID ORDER BY id
  - id: insertTarget
    sql: INSERT INTO target (id, name) VALUES (:id, :name)
`

type record struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

func newCopyConfiguration(t *testing.T) (*sqlsession.Configuration, database.DBConnection) {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewDBConnectionFromConfig(ctx, config.DatabaseConfig{
		Type:           "sqlite",
		Path:           filepath.Join(t.TempDir(), "copy.db"),
		ConnectionPool: config.ConnectionPoolConfig{MaxOpenConns: 4},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, ddl := range []string{
		`CREATE TABLE source (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE target (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO source (id, name) VALUES (1, 'a'), (2, 'b'), (3, 'c'), (4, 'd'), (5, 'e')`,
	} {
		_, err := db.ExecContext(ctx, ddl)
		require.NoError(t, err)
	}
	cfg := sqlsession.NewConfiguration(db)
	require.NoError(t, cfg.LoadMapper([]byte(copyMapper)))
	return cfg, db
}

func targetIDs(t *testing.T, db database.DBConnection) []int64 {
	t.Helper()
	rows, err := db.QueryContext(context.Background(), `SELECT id FROM target ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	return ids
}

func newCopyStep(t *testing.T, cfg *sqlsession.Configuration, db database.DBConnection) *step.ChunkStep[record, record] {
	t.Helper()
	r := reader.NewCursorItemReader(reader.CursorItemReaderConfig[record]{
		QueryID:         "findSource",
		SessionFactory:  sqlsession.NewSqlSessionFactory[record](cfg),
		ParameterValues: map[string]any{"minID": 1},
	})
	require.NoError(t, r.Validate())
	w := writer.NewStatementItemWriter[record](cfg, "insertTarget")
	cs := step.NewChunkStep[record, record]("copy", r, processor.NewPassThroughItemProcessor[record](), w, 2, db,
		config.ItemRetryConfig{MaxAttempts: 1}, config.ItemSkipConfig{})
	cs.RegisterStepListener(listener.NewLoggingStepExecutionListener())
	cs.RegisterChunkListener(listener.NewLoggingChunkListener())
	return cs
}

// TestChunkStep_CopyWithCursorReader はカーソルリーダーからステートメントライターへの一連のコピーをテストします。
func TestChunkStep_CopyWithCursorReader(t *testing.T) {
	ctx := context.Background()
	cfg, db := newCopyConfiguration(t)

	se := core.NewStepExecution("copy", nil)
	require.NoError(t, newCopyStep(t, cfg, db).Execute(ctx, se))

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, targetIDs(t, db))
	assert.Equal(t, 5, se.ReadCount)
	assert.Equal(t, 3, se.CommitCount)
	count, ok := se.ExecutionContext.GetInt("CursorItemReader.read.count")
	require.True(t, ok)
	assert.Equal(t, 5, count)
}

// TestChunkStep_RestartAfterFailure は失敗したチャンクがロールバックされ、再実行でその位置から再開することをテストします。
func TestChunkStep_RestartAfterFailure(t *testing.T) {
	ctx := context.Background()
	cfg, db := newCopyConfiguration(t)

	// id=4 が既に存在するため2つ目のチャンク (3, 4) が一意制約違反で失敗する
	_, err := db.ExecContext(ctx, `INSERT INTO target (id, name) VALUES (4, 'existing')`)
	require.NoError(t, err)

	first := core.NewStepExecution("copy", nil)
	require.Error(t, newCopyStep(t, cfg, db).Execute(ctx, first))
	assert.Equal(t, core.BatchStatusFailed, first.Status)
	assert.Equal(t, []int64{1, 2, 4}, targetIDs(t, db))
	count, ok := first.ExecutionContext.GetInt("CursorItemReader.read.count")
	require.True(t, ok)
	assert.Equal(t, 2, count)

	_, err = db.ExecContext(ctx, `DELETE FROM target WHERE id = 4`)
	require.NoError(t, err)

	second := core.NewStepExecution("copy", first.ExecutionContext)
	require.NoError(t, newCopyStep(t, cfg, db).Execute(ctx, second))
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, targetIDs(t, db))
	assert.Equal(t, 3, second.ReadCount)
}
