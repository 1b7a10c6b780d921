package listener

import (
	"context"

	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

// LoggingStepExecutionListener はステップの開始と終了、および最終的な件数をログに出力します。
type LoggingStepExecutionListener struct{}

func NewLoggingStepExecutionListener() *LoggingStepExecutionListener {
	return &LoggingStepExecutionListener{}
}

func (l *LoggingStepExecutionListener) BeforeStep(ctx context.Context, stepExecution *core.StepExecution) {
	logger.Infof("ステップ '%s' (ID: %s) を開始します。", stepExecution.StepName, stepExecution.ID)
}

func (l *LoggingStepExecutionListener) AfterStep(ctx context.Context, stepExecution *core.StepExecution) {
	logger.Infof("ステップ '%s' が終了しました。ステータス: %s, 読み込み: %d, フィルタ: %d, 書き込み: %d, スキップ(読/処/書): %d/%d/%d, コミット: %d, ロールバック: %d",
		stepExecution.StepName, stepExecution.Status,
		stepExecution.ReadCount, stepExecution.FilterCount, stepExecution.WriteCount,
		stepExecution.SkipReadCount, stepExecution.SkipProcessCount, stepExecution.SkipWriteCount,
		stepExecution.CommitCount, stepExecution.RollbackCount)
}

var _ core.StepExecutionListener = (*LoggingStepExecutionListener)(nil)
