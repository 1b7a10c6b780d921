package repository

import (
	"context"
	"embed"
	"strings"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/database"
	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

// MigrationsTable はフレームワークのスキーマ履歴を保持するテーブル名です。
// アプリケーションのマイグレーション履歴 (schema_migrations) とは分離されます。
const MigrationsTable = "batch_schema_migrations"

//go:embed migrations
var migrationsFS embed.FS

// StepExecutionRepository は StepExecution の永続化と取得に関する操作を定義します。
type StepExecutionRepository interface {
	// SaveStepExecution は新しい StepExecution を永続化します。
	SaveStepExecution(ctx context.Context, stepExecution *core.StepExecution) error

	// UpdateStepExecution は既存の StepExecution の状態を更新します。
	UpdateStepExecution(ctx context.Context, stepExecution *core.StepExecution) error

	// FindLastStepExecution は stepName の直近の StepExecution を返します。
	// 実行履歴が存在しない場合は nil, nil を返します。
	FindLastStepExecution(ctx context.Context, stepName string) (*core.StepExecution, error)
}

// Migrate はステップ実行履歴テーブルを作成します。
// 埋め込みスキーマを持たないデータベースタイプ (snowflake など) は警告を出してスキップします。
func Migrate(cfg config.DatabaseConfig) error {
	dir, ok := schemaDir(cfg.Type)
	if !ok {
		logger.Warnf("データベースタイプ '%s' 用のステップ実行履歴スキーマはありません。テーブルは事前に作成してください。", cfg.Type)
		return nil
	}
	return database.RunMigrationsFS(cfg, migrationsFS, "migrations/"+dir, MigrationsTable)
}

func schemaDir(dbType string) (string, bool) {
	switch strings.ToLower(dbType) {
	case "postgres", "redshift":
		return "postgres", true
	case "mysql":
		return "mysql", true
	case "sqlite":
		return "sqlite", true
	default:
		return "", false
	}
}
