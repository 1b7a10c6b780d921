package listener

import (
	"context"

	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

// LoggingSkipListener はアイテムスキップイベントをログ出力する SkipListener の実装です。
type LoggingSkipListener struct{}

func NewLoggingSkipListener() *LoggingSkipListener {
	return &LoggingSkipListener{}
}

func (l *LoggingSkipListener) OnSkipRead(ctx context.Context, err error) {
	logger.Warnf("読み込み中のエラーによりアイテムをスキップしました: %v", err)
}

func (l *LoggingSkipListener) OnSkipProcess(ctx context.Context, item interface{}, err error) {
	logger.Warnf("処理中のエラーによりアイテムをスキップしました (アイテム: %+v): %v", item, err)
}

func (l *LoggingSkipListener) OnSkipWrite(ctx context.Context, item interface{}, err error) {
	logger.Warnf("書き込み中のエラーによりアイテムをスキップしました (アイテム: %+v): %v", item, err)
}

var _ core.SkipListener = (*LoggingSkipListener)(nil)
