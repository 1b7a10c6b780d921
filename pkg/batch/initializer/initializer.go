package initializer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/database"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/repository"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/sqlsession"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/exception"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

const (
	defaultConnectRetries = 5
	defaultConnectDelay   = 2 * time.Second
)

// BatchInitializer はバッチアプリケーションの初期化処理を担当します。
// 設定の反映、データベース接続、マイグレーション、マッパーファイルのロードを順に行います。
// マイグレーションはフレームワークのステップ実行履歴テーブル、アプリケーションのスキーマの順に適用します。
type BatchInitializer struct {
	Config        *config.Config
	DB            database.DBConnection
	Configuration *sqlsession.Configuration
	JobRepository repository.StepExecutionRepository

	ConnectRetries int
	ConnectDelay   time.Duration
	// SkipMigrations が true の場合、フレームワークとアプリケーションのどちらのマイグレーションも実行しません。
	SkipMigrations bool
}

// NewBatchInitializer は新しい BatchInitializer のインスタンスを作成します。
func NewBatchInitializer(cfg *config.Config) *BatchInitializer {
	return &BatchInitializer{
		Config:         cfg,
		ConnectRetries: defaultConnectRetries,
		ConnectDelay:   defaultConnectDelay,
	}
}

// connectWithRetry は指定されたデータベースにリトライ付きで接続を試みます。
// 設定不備によるエラーはリトライしません。
func (bi *BatchInitializer) connectWithRetry(ctx context.Context) (database.DBConnection, error) {
	retries := bi.ConnectRetries
	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	for i := 0; i < retries; i++ {
		logger.Debugf("データベース接続を試行中 (試行 %d/%d)...", i+1, retries)
		db, err := database.NewDBConnectionFromConfig(ctx, bi.Config.Database)
		if err == nil {
			logger.Infof("データベース接続に成功しました。")
			return db, nil
		}
		if errors.Is(err, exception.ErrInvalidConfiguration) {
			return nil, err
		}
		lastErr = err
		logger.Warnf("データベースへの接続に失敗しました: %v", err)
		if i < retries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(bi.ConnectDelay):
			}
		}
	}
	return nil, fmt.Errorf("データベースへの接続に最大試行回数 (%d) 失敗しました: %w", retries, lastErr)
}

// Initialize はバッチアプリケーションの初期化処理を実行します。
func (bi *BatchInitializer) Initialize(ctx context.Context) error {
	logger.Debugf("BatchInitializer.Initialize が呼び出されました。")

	logger.SetLogLevel(bi.Config.System.Logging.Level)
	logger.Infof("ロギングレベルを '%s' に設定しました。", bi.Config.System.Logging.Level)

	db, err := bi.connectWithRetry(ctx)
	if err != nil {
		return exception.NewBatchError("initializer", "データベースへの接続に失敗しました", err, false, false)
	}
	bi.DB = db

	if !bi.SkipMigrations {
		if err := repository.Migrate(bi.Config.Database); err != nil {
			return exception.NewBatchError("initializer", "フレームワークのマイグレーションに失敗しました", err, false, false)
		}
		if bi.Config.Database.AppMigrationPath != "" {
			if err := database.RunMigrations(bi.Config.Database, bi.Config.Database.AppMigrationPath, ""); err != nil {
				return exception.NewBatchError("initializer", "アプリケーションのマイグレーションに失敗しました", err, false, false)
			}
		}
	}
	bi.JobRepository = repository.NewSQLStepExecutionRepository(db)

	mappers, err := LoadMappers(db, bi.Config.Reader.MapperPaths)
	if err != nil {
		return err
	}
	bi.Configuration = mappers
	return nil
}

// LoadMappers は paths のマッパーファイルを全て読み込んだ Configuration を返します。
func LoadMappers(db database.DBConnection, paths []string) (*sqlsession.Configuration, error) {
	configuration := sqlsession.NewConfiguration(db)
	for _, path := range paths {
		if err := configuration.LoadMapperFile(path); err != nil {
			return nil, exception.NewBatchError("initializer", fmt.Sprintf("マッパーファイル '%s' のロードに失敗しました", path), err, false, false)
		}
		logger.Debugf("マッパーファイル '%s' をロードしました。", path)
	}
	logger.Infof("マッパーファイルのロードが完了しました。ファイル数: %d", len(paths))
	return configuration, nil
}

// Close は BatchInitializer が保持するリソースを解放します。
func (bi *BatchInitializer) Close() error {
	if bi.DB == nil {
		return nil
	}
	if err := bi.DB.Close(); err != nil {
		logger.Errorf("データベース接続のクローズに失敗しました: %v", err)
		return err
	}
	logger.Infof("データベース接続を正常にクローズしました。")
	bi.DB = nil
	return nil
}
