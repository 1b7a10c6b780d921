package listener

import (
	"context"

	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

// LoggingChunkListener はチャンク処理の開始と完了をログに出力する ChunkListener の実装です。
type LoggingChunkListener struct{}

func NewLoggingChunkListener() *LoggingChunkListener {
	return &LoggingChunkListener{}
}

func (l *LoggingChunkListener) BeforeChunk(ctx context.Context, stepExecution *core.StepExecution) {
	logger.Debugf("ステップ '%s': チャンク %d の処理を開始します。", stepExecution.StepName, stepExecution.CommitCount+1)
}

func (l *LoggingChunkListener) AfterChunk(ctx context.Context, stepExecution *core.StepExecution) {
	logger.Infof("ステップ '%s': チャンクをコミットしました (読み込み: %d, 書き込み: %d, コミット: %d)",
		stepExecution.StepName, stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.CommitCount)
}

func (l *LoggingChunkListener) AfterChunkError(ctx context.Context, stepExecution *core.StepExecution, err error) {
	logger.Errorf("ステップ '%s': チャンクがロールバックされました (ロールバック: %d): %v",
		stepExecution.StepName, stepExecution.RollbackCount, err)
}

var _ core.ChunkListener = (*LoggingChunkListener)(nil)
