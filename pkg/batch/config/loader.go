package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

// BytesConfigLoader はバイトスライスから設定をロードする ConfigLoader の実装です。
type BytesConfigLoader struct {
	data []byte
}

// NewBytesConfigLoader は新しい BytesConfigLoader のインスタンスを作成します。
func NewBytesConfigLoader(data []byte) *BytesConfigLoader {
	return &BytesConfigLoader{data: data}
}

// Load はバイトスライスから設定をロードし、環境変数で上書きします。
func (l *BytesConfigLoader) Load() (*Config, error) {
	cfg := NewConfig()
	// デフォルト値の上に YAML を重ねる
	if err := yaml.Unmarshal(l.data, cfg); err != nil {
		return nil, fmt.Errorf("YAML設定のパースに失敗しました: %w", err)
	}
	if cfg.Reader.ParameterValues == nil {
		cfg.Reader.ParameterValues = map[string]any{}
	}
	loadEnvVars(cfg)
	return cfg, nil
}

// LoadFile は YAML ファイルから設定をロードします。
// envFile が存在する場合は、先に .env ファイルを環境変数として読み込みます。
func LoadFile(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf(".env ファイル '%s' の読み込みに失敗しました: %w", envFile, err)
			}
			logger.Debugf(".env ファイル '%s' が見つかりません。スキップします。", envFile)
		} else {
			logger.Debugf(".env ファイル '%s' を読み込みました。", envFile)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイル '%s' の読み込みに失敗しました: %w", path, err)
	}
	return NewBytesConfigLoader(data).Load()
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warnf("%s の値 '%s' が無効です。デフォルト値または設定ファイルの値を使用します。", key, v)
		return
	}
	*dst = n
}

// 環境変数で個別の設定値を上書きする関数
func loadEnvVars(cfg *Config) {
	// Database 設定
	setString("DATABASE_TYPE", &cfg.Database.Type)
	setString("DATABASE_HOST", &cfg.Database.Host)
	setInt("DATABASE_PORT", &cfg.Database.Port)
	setString("DATABASE_DATABASE", &cfg.Database.Database)
	setString("DATABASE_USER", &cfg.Database.User)
	setString("DATABASE_PASSWORD", &cfg.Database.Password)
	setString("DATABASE_SSLMODE", &cfg.Database.Sslmode)
	setString("DATABASE_ACCOUNT", &cfg.Database.Account)
	setString("DATABASE_SCHEMA", &cfg.Database.Schema)
	setString("DATABASE_WAREHOUSE", &cfg.Database.Warehouse)
	setString("DATABASE_PATH", &cfg.Database.Path)
	setString("DATABASE_APP_MIGRATION_PATH", &cfg.Database.AppMigrationPath)
	setInt("DATABASE_MAX_OPEN_CONNS", &cfg.Database.ConnectionPool.MaxOpenConns)
	setInt("DATABASE_MAX_IDLE_CONNS", &cfg.Database.ConnectionPool.MaxIdleConns)
	setInt("DATABASE_CONN_MAX_LIFETIME_SECONDS", &cfg.Database.ConnectionPool.ConnMaxLifetimeSeconds)

	// Batch 設定
	setString("BATCH_JOB_NAME", &cfg.Batch.JobName)
	setInt("BATCH_CHUNK_SIZE", &cfg.Batch.ChunkSize)

	// Reader 設定
	setString("READER_QUERY_ID", &cfg.Reader.QueryID)
	setInt("READER_MAX_ITEM_COUNT", &cfg.Reader.MaxItemCount)

	// System 設定
	setString("SYSTEM_LOGGING_LEVEL", &cfg.System.Logging.Level)
}
