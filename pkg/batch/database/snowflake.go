package database

import (
	"database/sql"

	_ "github.com/snowflakedb/gosnowflake" // Snowflake ドライバ

	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
)

type snowflakeConnector struct{}

func (c *snowflakeConnector) DriverName() string { return "snowflake" }

// Connect は Snowflake への接続を確立します。DSN は gosnowflake.DSN で構築されます。
func (c *snowflakeConnector) Connect(cfg config.DatabaseConfig) (*sql.DB, error) {
	return openWithPool(c.DriverName(), cfg.ConnectionString(), cfg)
}

func init() {
	RegisterConnector("snowflake", &snowflakeConnector{})
}
