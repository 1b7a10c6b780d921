package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/snowflakedb/gosnowflake"
)

// ConnectionPoolConfig はデータベースコネクションプールの設定を保持します。
type ConnectionPoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `yaml:"conn_max_lifetime_seconds"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Sslmode  string `yaml:"sslmode"`
	// Snowflake 用
	Account   string `yaml:"account"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	Role      string `yaml:"role"`
	// SQLite 用のデータベースファイルパス
	Path string `yaml:"path"`
	// アプリケーション固有のマイグレーションファイルのパス
	AppMigrationPath string               `yaml:"app_migration_path"`
	ConnectionPool   ConnectionPoolConfig `yaml:"connection_pool"`
}

// ConnectionString はドライバに渡す DSN を返します。未対応のタイプでは空文字列を返します。
func (c DatabaseConfig) ConnectionString() string {
	switch strings.ToLower(c.Type) {
	case "postgres", "redshift":
		// golang-migrate/migrate が期待する形式に合わせる
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port, c.Database, c.Sslmode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	case "snowflake":
		dsn, err := gosnowflake.DSN(&gosnowflake.Config{
			Account:   c.Account,
			User:      c.User,
			Password:  c.Password,
			Database:  c.Database,
			Schema:    c.Schema,
			Warehouse: c.Warehouse,
			Role:      c.Role,
		})
		if err != nil {
			return ""
		}
		return dsn
	case "sqlite":
		return c.Path
	default:
		return ""
	}
}

// MigrationURL は golang-migrate に渡すデータベース URL を返します。
func (c DatabaseConfig) MigrationURL() string {
	switch strings.ToLower(c.Type) {
	case "postgres", "redshift":
		return c.ConnectionString()
	case "mysql":
		return "mysql://" + c.ConnectionString()
	case "sqlite":
		return "sqlite://" + c.Path
	default:
		return ""
	}
}

// ItemRetryConfig はアイテムレベルのリトライ設定です。
type ItemRetryConfig struct {
	MaxAttempts         int      `yaml:"max_attempts"`
	InitialInterval     int      `yaml:"initial_interval"` // ミリ秒
	RetryableExceptions []string `yaml:"retryable_exceptions"`
}

// ItemSkipConfig はアイテムレベルのスキップ設定です。
type ItemSkipConfig struct {
	SkipLimit           int      `yaml:"skip_limit"`
	SkippableExceptions []string `yaml:"skippable_exceptions"`
}

type BatchConfig struct {
	JobName   string          `yaml:"job_name"`
	ChunkSize int             `yaml:"chunk_size"`
	ItemRetry ItemRetryConfig `yaml:"item_retry"`
	ItemSkip  ItemSkipConfig  `yaml:"item_skip"`
}

// ReaderConfig はカーソルリーダーの設定です。
type ReaderConfig struct {
	QueryID         string         `yaml:"query_id"`
	ParameterValues map[string]any `yaml:"parameters"`
	MapperPaths     []string       `yaml:"mapper_paths"`
	MaxItemCount    int            `yaml:"max_item_count"` // 0 は無制限
	SaveState       *bool          `yaml:"save_state"`
}

// IsSaveState は SaveState の実効値を返します。未設定の場合は true です。
func (r ReaderConfig) IsSaveState() bool {
	return r.SaveState == nil || *r.SaveState
}

// WriterConfig はステートメントライターの設定です。
type WriterConfig struct {
	StatementID string `yaml:"statement_id"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Batch    BatchConfig    `yaml:"batch"`
	Reader   ReaderConfig   `yaml:"reader"`
	Writer   WriterConfig   `yaml:"writer"`
	System   SystemConfig   `yaml:"system"`
}

// NewConfig はデフォルト値で初期化された Config の新しいインスタンスを返します。
func NewConfig() *Config {
	return &Config{
		System: SystemConfig{
			Timezone: "UTC",
			Logging:  LoggingConfig{Level: "INFO"},
		},
		Batch: BatchConfig{
			ChunkSize: 10,
			ItemRetry: ItemRetryConfig{
				MaxAttempts:         3,
				RetryableExceptions: []string{},
			},
			ItemSkip: ItemSkipConfig{
				SkipLimit:           0,
				SkippableExceptions: []string{},
			},
		},
		Reader: ReaderConfig{
			ParameterValues: map[string]any{},
		},
	}
}
