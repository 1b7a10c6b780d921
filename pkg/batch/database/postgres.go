package database

import (
	"database/sql"

	_ "github.com/lib/pq" // PostgreSQL ドライバ

	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
)

// postgresConnector は PostgreSQL および Redshift への接続を確立する DBConnector の実装です。
// Redshift は PostgreSQL と互換性があるため、同じ pq ドライバを使用します。
type postgresConnector struct{}

func (c *postgresConnector) DriverName() string { return "postgres" }

func (c *postgresConnector) Connect(cfg config.DatabaseConfig) (*sql.DB, error) {
	return openWithPool(c.DriverName(), cfg.ConnectionString(), cfg)
}

func init() {
	RegisterConnector("postgres", &postgresConnector{})
	RegisterConnector("redshift", &postgresConnector{})
}
