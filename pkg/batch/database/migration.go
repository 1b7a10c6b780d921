package database

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"    // MySQL ドライバを登録
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // PostgreSQL および Redshift ドライバを登録
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"   // SQLite (modernc) ドライバを登録
	_ "github.com/golang-migrate/migrate/v4/source/file"       // ファイルソースドライバを登録
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/exception"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

// RunMigrations は指定されたデータベースにマイグレーションを実行します。
//
// migrationsPath: SQLマイグレーションファイルが配置されているディレクトリ (例: "./migrations")。空の場合は何もしません。
// migrationsTable: マイグレーション履歴テーブル名。空の場合はドライバのデフォルト (schema_migrations) を使用します。
func RunMigrations(cfg config.DatabaseConfig, migrationsPath, migrationsTable string) error {
	if migrationsPath == "" {
		logger.Infof("マイグレーションパスが指定されていません。スキップします。")
		return nil
	}
	databaseURL, err := migrationURL(cfg, migrationsTable)
	if err != nil {
		return err
	}

	logger.Infof("データベースマイグレーションを開始します。DBタイプ: %s, マイグレーションパス: %s", cfg.Type, migrationsPath)
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return exception.NewBatchError("migration", fmt.Sprintf("マイグレーションインスタンスの作成に失敗しました: %s", migrationsPath), err, false, false)
	}
	return up(m, migrationsPath)
}

// RunMigrationsFS は fsys の dir に埋め込まれたマイグレーションを実行します。
// フレームワーク自身のテーブル (ステップ実行履歴など) の作成に使用します。
func RunMigrationsFS(cfg config.DatabaseConfig, fsys fs.FS, dir, migrationsTable string) error {
	databaseURL, err := migrationURL(cfg, migrationsTable)
	if err != nil {
		return err
	}
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return exception.NewBatchError("migration", fmt.Sprintf("埋め込みマイグレーション '%s' を開けません", dir), err, false, false)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return exception.NewBatchError("migration", fmt.Sprintf("マイグレーションインスタンスの作成に失敗しました: %s", dir), err, false, false)
	}
	return up(m, dir)
}

func migrationURL(cfg config.DatabaseConfig, migrationsTable string) (string, error) {
	databaseURL := cfg.MigrationURL()
	if databaseURL == "" {
		return "", exception.NewBatchError("migration", fmt.Sprintf("マイグレーションに対応していないデータベースタイプ: %s", cfg.Type), exception.ErrInvalidConfiguration, false, false)
	}
	if migrationsTable != "" {
		sep := "?"
		if strings.Contains(databaseURL, "?") {
			sep = "&"
		}
		databaseURL += sep + "x-migrations-table=" + migrationsTable
	}
	return databaseURL, nil
}

func up(m *migrate.Migrate, source string) error {
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warnf("マイグレーションインスタンスのクローズに失敗しました: source=%v, database=%v", srcErr, dbErr)
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Infof("マイグレーションは不要です。データベースは最新の状態です: %s", source)
			return nil
		}
		return exception.NewBatchError("migration", fmt.Sprintf("マイグレーションの適用に失敗しました: %s", source), err, false, false)
	}
	logger.Infof("データベースマイグレーションが正常に完了しました: %s", source)
	return nil
}
