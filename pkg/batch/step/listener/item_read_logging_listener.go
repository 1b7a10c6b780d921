package listener

import (
	"context"
	"errors"

	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/exception"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

// LoggingItemReadListener はアイテム読み込みエラーイベントをログ出力する ItemReadListener の実装です。
type LoggingItemReadListener struct{}

func NewLoggingItemReadListener() *LoggingItemReadListener {
	return &LoggingItemReadListener{}
}

// OnReadError は読み込みエラー時に呼び出されます。
// ライフサイクル違反 (Open 前の Read など) はリーダーの使い方の誤りとして区別して出力します。
func (l *LoggingItemReadListener) OnReadError(ctx context.Context, err error) {
	if errors.Is(err, exception.ErrIllegalState) {
		logger.Errorf("リーダーの状態が不正なため読み込めません: %v", err)
		return
	}
	logger.Errorf("アイテムの読み込み中にエラーが発生しました (リトライ可能: %t): %v", exception.IsTemporary(err), err)
}

var _ core.ItemReadListener = (*LoggingItemReadListener)(nil)
