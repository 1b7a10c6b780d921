package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/initializer"
	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/repository"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/sqlsession"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/step"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/step/listener"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/step/processor"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/step/reader"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/step/writer"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/exception"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

const defaultStepName = "cursorStep"

// row はクエリ結果の1行です。カラム名をキーとして保持します。
type row = map[string]any

func newRunCmd(opts *rootOptions) *cobra.Command {
	var restart bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the cursor chunk step.",
		Long: `Connects to the database, applies migrations, loads mapper files and runs the reader -> processor -> writer chunk step.
If the previous execution of the step failed or was stopped, the step resumes after the last committed chunk unless --restart=false is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(opts.configPath, opts.envFile)
			if err != nil {
				logger.Errorf("設定のロードに失敗しました: %v", err)
				return err
			}
			return runStep(cmd.Context(), cfg, restart)
		},
	}
	cmd.Flags().BoolVar(&restart, "restart", true, "resume from the last failed or stopped execution of the step")
	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config and mapper files.",
		Long:  `Loads the config and mapper files and checks that the reader and writer are fully configured, without running the step.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(opts.configPath, opts.envFile)
			if err != nil {
				logger.Errorf("設定のロードに失敗しました: %v", err)
				return err
			}
			logger.SetLogLevel(cfg.System.Logging.Level)
			// ステートメントの解決だけを確認するため接続は行わない
			mappers, err := initializer.LoadMappers(nil, cfg.Reader.MapperPaths)
			if err != nil {
				logger.Errorf("%v", err)
				return err
			}
			if _, _, err := buildComponents(cfg, mappers); err != nil {
				logger.Errorf("設定の検証に失敗しました: %v", err)
				return err
			}
			logger.Infof("設定は有効です。reader.query_id: '%s', writer.statement_id: '%s'", cfg.Reader.QueryID, cfg.Writer.StatementID)
			return nil
		},
	}
}

func buildComponents(cfg *config.Config, mappers *sqlsession.Configuration) (*reader.CursorItemReader[row], *writer.StatementItemWriter[row], error) {
	factory := sqlsession.NewSqlSessionFactory[row](mappers)
	r, err := reader.NewCursorItemReaderFromConfig[row]("CursorItemReader", cfg.Reader, factory)
	if err != nil {
		return nil, nil, err
	}
	// リーダーは実行時までステートメントを解決しないため、ここで確認する
	if _, err := mappers.MappedStatement(cfg.Reader.QueryID); err != nil {
		return nil, nil, exception.NewBatchError("cursorbatch", "reader.query_id を解決できません", err, false, false)
	}
	w := writer.NewStatementItemWriter[row](mappers, cfg.Writer.StatementID)
	if err := w.Validate(); err != nil {
		return nil, nil, err
	}
	return r, w, nil
}

func runStep(ctx context.Context, cfg *config.Config, restart bool) error {
	bi := initializer.NewBatchInitializer(cfg)
	defer func() {
		_ = bi.Close()
	}()
	if err := bi.Initialize(ctx); err != nil {
		logger.Errorf("バッチアプリケーションの初期化に失敗しました: %v", err)
		return err
	}

	r, w, err := buildComponents(cfg, bi.Configuration)
	if err != nil {
		logger.Errorf("コンポーネントの構築に失敗しました: %v", err)
		return err
	}

	stepName := cfg.Batch.JobName
	if stepName == "" {
		stepName = defaultStepName
	}
	chunkStep := step.NewChunkStep[row, row](
		stepName,
		r,
		processor.NewPassThroughItemProcessor[row](),
		w,
		cfg.Batch.ChunkSize,
		bi.DB,
		cfg.Batch.ItemRetry,
		cfg.Batch.ItemSkip,
	)
	chunkStep.RegisterStepListener(listener.NewLoggingStepExecutionListener())
	chunkStep.RegisterChunkListener(listener.NewLoggingChunkListener())
	chunkStep.RegisterItemReadListener(listener.NewLoggingItemReadListener())
	chunkStep.RegisterSkipListener(listener.NewLoggingSkipListener())
	chunkStep.RegisterRetryItemListener(listener.NewLoggingRetryItemListener())
	chunkStep.SetJobRepository(bi.JobRepository)

	var ec core.ExecutionContext
	if restart {
		if ec, err = restartContext(ctx, bi.JobRepository, stepName); err != nil {
			logger.Errorf("ステップ '%s' の実行履歴を取得できません: %v", stepName, err)
			return err
		}
	}
	stepExecution := core.NewStepExecution(stepName, ec)
	if err := chunkStep.Execute(ctx, stepExecution); err != nil {
		return handleStepError(err, stepExecution)
	}
	logger.Infof("ステップ '%s' が正常に完了しました。読み込み: %d, 書き込み: %d, フィルタ: %d",
		stepName, stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.FilterCount)
	return nil
}

// restartContext は前回の実行が失敗または停止していた場合に、その ExecutionContext の複製を返します。
// 再開の対象がない場合は nil を返します。
func restartContext(ctx context.Context, repo repository.StepExecutionRepository, stepName string) (core.ExecutionContext, error) {
	last, err := repo.FindLastStepExecution(ctx, stepName)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, nil
	}
	switch last.Status {
	case core.BatchStatusFailed, core.BatchStatusStopped:
		logger.Infof("ステップ '%s' を前回の実行 (ID: %s, ステータス: %s, 書き込み: %d) から再開します。",
			stepName, last.ID, last.Status, last.WriteCount)
		return last.ExecutionContext.Copy(), nil
	default:
		logger.Debugf("ステップ '%s' の前回の実行 (ID: %s) はステータス %s のため、最初から実行します。", stepName, last.ID, last.Status)
		return nil, nil
	}
}

// handleStepError はステップのエラーを分類してログに出力します。
func handleStepError(err error, stepExecution *core.StepExecution) error {
	switch {
	case errors.Is(err, context.Canceled):
		logger.Warnf("ステップ '%s' は中断されました。コミット済み件数: %d", stepExecution.StepName, stepExecution.WriteCount)
	case errors.Is(err, exception.ErrInvalidConfiguration):
		logger.Errorf("設定エラーによりステップ '%s' が失敗しました: %v", stepExecution.StepName, err)
	default:
		var be *exception.BatchError
		if errors.As(err, &be) {
			logger.Errorf("ステップ '%s' が失敗しました (モジュール: %s): %v", stepExecution.StepName, be.Module, err)
		} else {
			logger.Errorf("ステップ '%s' が失敗しました: %v", stepExecution.StepName, err)
		}
	}
	return err
}
