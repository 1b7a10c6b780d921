package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/exception"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

// DBConnector は特定のデータベースタイプへの接続を確立するためのインターフェースです。
type DBConnector interface {
	// DriverName は database/sql に登録されたドライバ名を返します。
	DriverName() string
	Connect(cfg config.DatabaseConfig) (*sql.DB, error)
}

var (
	connectorsMu sync.RWMutex
	connectors   = make(map[string]DBConnector)
)

// RegisterConnector は指定されたタイプ名で DBConnector を登録します。既存の登録は上書きされます。
func RegisterConnector(dbType string, connector DBConnector) {
	connectorsMu.Lock()
	defer connectorsMu.Unlock()
	if _, exists := connectors[dbType]; exists {
		logger.Warnf("DBConnector '%s' は既に登録されています。上書きします。", dbType)
	}
	connectors[dbType] = connector
}

func lookupConnector(dbType string) (DBConnector, bool) {
	connectorsMu.RLock()
	defer connectorsMu.RUnlock()
	c, ok := connectors[strings.ToLower(dbType)]
	return c, ok
}

// GetSQLDB は設定に基づいて適切なデータベース接続を確立します。
func GetSQLDB(cfg config.DatabaseConfig) (*sql.DB, string, error) {
	connector, ok := lookupConnector(cfg.Type)
	if !ok {
		return nil, "", exception.NewBatchError("database", fmt.Sprintf("未対応のデータベースタイプ: %s", cfg.Type), exception.ErrInvalidConfiguration, false, false)
	}
	db, err := connector.Connect(cfg)
	if err != nil {
		return nil, "", err
	}
	return db, connector.DriverName(), nil
}

// NewDBConnectionFromConfig は設定に基づいてデータベース接続を確立し、Ping で疎通を確認します。
func NewDBConnectionFromConfig(ctx context.Context, cfg config.DatabaseConfig) (DBConnection, error) {
	rawDB, driverName, err := GetSQLDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := rawDB.PingContext(ctx); err != nil {
		_ = rawDB.Close()
		return nil, exception.NewBatchError("database", fmt.Sprintf("%s への Ping に失敗しました", cfg.Type), err, true, false)
	}
	logger.Debugf("%s に正常に接続しました。MaxOpenConns: %d, MaxIdleConns: %d, ConnMaxLifetime: %d秒",
		cfg.Type, cfg.ConnectionPool.MaxOpenConns, cfg.ConnectionPool.MaxIdleConns, cfg.ConnectionPool.ConnMaxLifetimeSeconds)
	return NewSQLDBAdapter(rawDB, driverName), nil
}

// openWithPool は sql.Open を呼び出し、コネクションプール設定を適用します。
func openWithPool(driverName, dsn string, cfg config.DatabaseConfig) (*sql.DB, error) {
	if dsn == "" {
		return nil, exception.NewBatchError("database", fmt.Sprintf("%s の接続文字列を構築できません", cfg.Type), exception.ErrInvalidConfiguration, false, false)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, exception.NewBatchError("database", fmt.Sprintf("%s への接続に失敗しました", cfg.Type), err, false, false)
	}
	pool := cfg.ConnectionPool
	db.SetMaxOpenConns(pool.MaxOpenConns)
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetimeSeconds) * time.Second)
	return db, nil
}
