package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
)

const applicationYAML = `
database:
  type: postgres
  host: db.local
  port: 5432
  database: batch
  user: "user@corp"
  password: "p@ss:word"
  sslmode: disable
  connection_pool:
    max_open_conns: 8
batch:
  job_name: copyUsers
  chunk_size: 50
  item_skip:
    skip_limit: 3
    skippable_exceptions: ["constraint failed"]
reader:
  query_id: users.findUsers
  parameters:
    status: ACTIVE
    minAge: 20
  mapper_paths: ["mappers/users.yaml"]
  max_item_count: 1000
  save_state: false
writer:
  statement_id: archive.insertUser
system:
  logging:
    level: DEBUG
`

// TestBytesConfigLoader_Load は YAML の値がデフォルト値の上に反映されることをテストします。
func TestBytesConfigLoader_Load(t *testing.T) {
	cfg, err := config.NewBytesConfigLoader([]byte(applicationYAML)).Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, 8, cfg.Database.ConnectionPool.MaxOpenConns)
	assert.Equal(t, "copyUsers", cfg.Batch.JobName)
	assert.Equal(t, 50, cfg.Batch.ChunkSize)
	assert.Equal(t, 3, cfg.Batch.ItemRetry.MaxAttempts, "未指定の値はデフォルト")
	assert.Equal(t, 3, cfg.Batch.ItemSkip.SkipLimit)
	assert.Equal(t, "users.findUsers", cfg.Reader.QueryID)
	assert.Equal(t, map[string]any{"status": "ACTIVE", "minAge": 20}, cfg.Reader.ParameterValues)
	assert.Equal(t, []string{"mappers/users.yaml"}, cfg.Reader.MapperPaths)
	assert.Equal(t, 1000, cfg.Reader.MaxItemCount)
	assert.False(t, cfg.Reader.IsSaveState())
	assert.Equal(t, "archive.insertUser", cfg.Writer.StatementID)
	assert.Equal(t, "DEBUG", cfg.System.Logging.Level)
	assert.Equal(t, "UTC", cfg.System.Timezone)
}

// TestBytesConfigLoader_Defaults は空の設定でデフォルト値が使われることをテストします。
func TestBytesConfigLoader_Defaults(t *testing.T) {
	cfg, err := config.NewBytesConfigLoader(nil).Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Batch.ChunkSize)
	assert.Equal(t, "INFO", cfg.System.Logging.Level)
	assert.NotNil(t, cfg.Reader.ParameterValues)
	assert.True(t, cfg.Reader.IsSaveState())
}

// TestBytesConfigLoader_EnvOverride は環境変数が YAML の値を上書きすることをテストします。
func TestBytesConfigLoader_EnvOverride(t *testing.T) {
	t.Setenv("DATABASE_HOST", "override.local")
	t.Setenv("BATCH_CHUNK_SIZE", "5")
	t.Setenv("READER_QUERY_ID", "users.findAll")
	t.Setenv("READER_MAX_ITEM_COUNT", "not-a-number")

	cfg, err := config.NewBytesConfigLoader([]byte(applicationYAML)).Load()
	require.NoError(t, err)
	assert.Equal(t, "override.local", cfg.Database.Host)
	assert.Equal(t, 5, cfg.Batch.ChunkSize)
	assert.Equal(t, "users.findAll", cfg.Reader.QueryID)
	assert.Equal(t, 1000, cfg.Reader.MaxItemCount, "不正な値は無視される")
}

// TestBytesConfigLoader_InvalidYAML はパースできない YAML がエラーになることをテストします。
func TestBytesConfigLoader_InvalidYAML(t *testing.T) {
	_, err := config.NewBytesConfigLoader([]byte("batch: [unclosed")).Load()
	assert.Error(t, err)
}

// TestLoadFile は .env ファイルの読み込みと存在しない .env の無視をテストします。
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "application.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(applicationYAML), 0o600))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("BATCH_JOB_NAME=fromDotenv\n"), 0o600))
	t.Setenv("BATCH_JOB_NAME", "")
	require.NoError(t, os.Unsetenv("BATCH_JOB_NAME"))

	cfg, err := config.LoadFile(configPath, envPath)
	require.NoError(t, err)
	assert.Equal(t, "fromDotenv", cfg.Batch.JobName)

	_, err = config.LoadFile(configPath, filepath.Join(dir, "missing.env"))
	assert.NoError(t, err)

	_, err = config.LoadFile(filepath.Join(dir, "missing.yaml"), "")
	assert.Error(t, err)
}

// TestDatabaseConfig_ConnectionString はデータベースタイプごとの DSN 構築をテストします。
func TestDatabaseConfig_ConnectionString(t *testing.T) {
	tests := []struct {
		name         string
		cfg          config.DatabaseConfig
		expected     string
		migrationURL string
	}{
		{
			name:         "postgres は資格情報をエスケープする",
			cfg:          config.DatabaseConfig{Type: "postgres", Host: "h", Port: 5432, Database: "d", User: "u@x", Password: "p:w", Sslmode: "disable"},
			expected:     "postgres://u%40x:p%3Aw@h:5432/d?sslmode=disable",
			migrationURL: "postgres://u%40x:p%3Aw@h:5432/d?sslmode=disable",
		},
		{
			name:         "mysql",
			cfg:          config.DatabaseConfig{Type: "mysql", Host: "h", Port: 3306, Database: "d", User: "u", Password: "p"},
			expected:     "u:p@tcp(h:3306)/d?parseTime=true",
			migrationURL: "mysql://u:p@tcp(h:3306)/d?parseTime=true",
		},
		{
			name:         "sqlite",
			cfg:          config.DatabaseConfig{Type: "sqlite", Path: "/tmp/batch.db"},
			expected:     "/tmp/batch.db",
			migrationURL: "sqlite:///tmp/batch.db",
		},
		{
			name: "未対応のタイプ",
			cfg:  config.DatabaseConfig{Type: "oracle"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.ConnectionString())
			assert.Equal(t, tt.migrationURL, tt.cfg.MigrationURL())
		})
	}
}

// TestDatabaseConfig_SnowflakeDSN は Snowflake の DSN にアカウントとウェアハウスが含まれることをテストします。
func TestDatabaseConfig_SnowflakeDSN(t *testing.T) {
	cfg := config.DatabaseConfig{Type: "snowflake", Account: "acme", User: "u", Password: "p", Database: "DB", Schema: "PUBLIC", Warehouse: "WH"}
	dsn := cfg.ConnectionString()
	assert.Contains(t, dsn, "acme")
	assert.Contains(t, dsn, "warehouse=WH")
	assert.Empty(t, cfg.MigrationURL())
}
