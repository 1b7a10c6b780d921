package listener

import (
	"context"

	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

// LoggingRetryItemListener はアイテムレベルのリトライイベントをログ出力する RetryItemListener の実装です。
type LoggingRetryItemListener struct{}

func NewLoggingRetryItemListener() *LoggingRetryItemListener {
	return &LoggingRetryItemListener{}
}

func (l *LoggingRetryItemListener) OnRetryRead(ctx context.Context, err error) {
	logger.Warnf("アイテムの読み込みをリトライします: %v", err)
}

func (l *LoggingRetryItemListener) OnRetryProcess(ctx context.Context, item interface{}, err error) {
	logger.Warnf("アイテムの処理をリトライします (アイテム: %+v): %v", item, err)
}

func (l *LoggingRetryItemListener) OnRetryWrite(ctx context.Context, items []interface{}, err error) {
	logger.Warnf("チャンクの書き込みをリトライします (アイテム数: %d): %v", len(items), err)
}

var _ core.RetryItemListener = (*LoggingRetryItemListener)(nil)
