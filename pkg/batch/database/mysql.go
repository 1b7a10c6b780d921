package database

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql" // MySQL ドライバ

	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
)

// mysqlConnector は MySQL データベースへの接続を確立する DBConnector の実装です。
type mysqlConnector struct{}

func (c *mysqlConnector) DriverName() string { return "mysql" }

func (c *mysqlConnector) Connect(cfg config.DatabaseConfig) (*sql.DB, error) {
	return openWithPool(c.DriverName(), cfg.ConnectionString(), cfg)
}

func init() {
	RegisterConnector("mysql", &mysqlConnector{})
}
