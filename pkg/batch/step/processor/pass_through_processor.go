package processor

import (
	"context"

	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
)

// PassThroughItemProcessor は受け取ったアイテムをそのまま返す ItemProcessor です。
// 読み込んだ行を変換せずに書き込むステップで使用します。
type PassThroughItemProcessor[T any] struct{}

func NewPassThroughItemProcessor[T any]() *PassThroughItemProcessor[T] {
	return &PassThroughItemProcessor[T]{}
}

func (p *PassThroughItemProcessor[T]) Process(ctx context.Context, item T) (T, error) {
	return item, nil
}

var _ core.ItemProcessor[any, any] = (*PassThroughItemProcessor[any])(nil)
