package database

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite" // pure Go の SQLite ドライバ

	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
)

// sqliteConnector は組み込み SQLite データベースを開く DBConnector の実装です。
// ローカル実行や結合テストで使用します。
type sqliteConnector struct{}

func (c *sqliteConnector) DriverName() string { return "sqlite" }

func (c *sqliteConnector) Connect(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.ConnectionString()
	// PRAGMA はコネクション単位のため DSN で全コネクションに適用する。
	// WAL ではカーソルの読み込み中も別コネクションからの書き込みをコミットできる。
	if dsn != "" {
		dsn = withPragma(dsn, "busy_timeout", "busy_timeout(5000)")
		dsn = withPragma(dsn, "journal_mode", "journal_mode(WAL)")
	}
	return openWithPool(c.DriverName(), dsn, cfg)
}

func withPragma(dsn, name, pragma string) string {
	if strings.Contains(dsn, "_pragma="+name) {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=" + pragma
}

func init() {
	RegisterConnector("sqlite", &sqliteConnector{})
}
