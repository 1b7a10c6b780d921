package processor

import (
	"context"

	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
)

// FuncItemProcessor は関数を ItemProcessor として扱うためのアダプタです。
type FuncItemProcessor[I, O any] func(ctx context.Context, item I) (O, error)

func (f FuncItemProcessor[I, O]) Process(ctx context.Context, item I) (O, error) {
	return f(ctx, item)
}

var _ core.ItemProcessor[any, any] = FuncItemProcessor[any, any](nil)
