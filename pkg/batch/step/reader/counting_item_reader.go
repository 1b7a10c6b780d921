package reader

import (
	"context"
	"errors"
	"io"

	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

const (
	readCountKey    = "read.count"
	readCountMaxKey = "read.count.max"
)

// ItemStream はリソースの取得・1件読み込み・解放だけを実装する低レベルのリーダーです。
// 件数の管理とリスタート時の位置復元は CountingItemReader が担当します。
type ItemStream[T any] interface {
	DoOpen(ctx context.Context) error
	// DoRead は次のアイテムを返します。終端では io.EOF を返します。
	DoRead(ctx context.Context) (T, error)
	DoClose(ctx context.Context) error
}

// CountingItemReader は ItemStream に読み込み件数の管理を加え、core.ItemReader を実装します。
//
// 読み込み件数は ExecutionContext の "<name>.read.count" に保存され、
// 次回 Open 時にその件数分を読み飛ばすことでリスタート位置を復元します。
type CountingItemReader[T any] struct {
	name     string
	delegate ItemStream[T]

	currentItemCount int
	maxItemCount     int // 0 は無制限
	saveState        bool

	executionContext core.ExecutionContext
}

// NewCountingItemReader は delegate をラップした CountingItemReader を作成します。
func NewCountingItemReader[T any](name string, delegate ItemStream[T]) *CountingItemReader[T] {
	return &CountingItemReader[T]{
		name:             name,
		delegate:         delegate,
		saveState:        true,
		executionContext: core.NewExecutionContext(),
	}
}

// Name は ExecutionContext のキー接頭辞として使うリーダー名を返します。
func (r *CountingItemReader[T]) Name() string {
	return r.name
}

// SetName は ExecutionContext のキー接頭辞を設定します。同じステップに複数のリーダーがある場合は一意にしてください。
func (r *CountingItemReader[T]) SetName(name string) {
	r.name = name
}

// SetMaxItemCount は読み込む最大件数を設定します。0 以下は無制限です。
func (r *CountingItemReader[T]) SetMaxItemCount(count int) {
	r.maxItemCount = count
}

// SetSaveState は読み込み件数を ExecutionContext に保存するかどうかを設定します。
func (r *CountingItemReader[T]) SetSaveState(saveState bool) {
	r.saveState = saveState
}

// SetCurrentItemCount は読み込み済み件数を設定します。次回 Open 時にこの件数分を読み飛ばします。
func (r *CountingItemReader[T]) SetCurrentItemCount(count int) {
	r.currentItemCount = count
}

// CurrentItemCount は読み込み済み件数を返します。
func (r *CountingItemReader[T]) CurrentItemCount() int {
	return r.currentItemCount
}

func (r *CountingItemReader[T]) key(suffix string) string {
	return r.name + "." + suffix
}

// Open は delegate を開き、ExecutionContext に保存された件数まで読み飛ばします。
func (r *CountingItemReader[T]) Open(ctx context.Context, ec core.ExecutionContext) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if ec != nil {
		r.executionContext = ec
	}
	if err := r.delegate.DoOpen(ctx); err != nil {
		return err
	}

	if r.saveState {
		if maxCount, ok := r.executionContext.GetInt(r.key(readCountMaxKey)); ok {
			r.maxItemCount = maxCount
		}
		if count, ok := r.executionContext.GetInt(r.key(readCountKey)); ok {
			r.currentItemCount = count
		}
	}
	if r.maxItemCount > 0 && r.currentItemCount > r.maxItemCount {
		r.currentItemCount = r.maxItemCount
	}
	if r.currentItemCount > 0 {
		if err := r.jumpToItem(ctx, r.currentItemCount); err != nil {
			// Open の失敗後は Close が呼ばれないため、ここで解放する
			if closeErr := r.delegate.DoClose(ctx); closeErr != nil {
				logger.Errorf("%s: 読み飛ばし失敗後のクローズに失敗しました: %v", r.name, closeErr)
			}
			r.currentItemCount = 0
			return err
		}
	}
	return nil
}

// jumpToItem は先頭から count 件を読み捨てます。
func (r *CountingItemReader[T]) jumpToItem(ctx context.Context, count int) error {
	logger.Infof("%s: リスタートのため %d 件を読み飛ばします。", r.name, count)
	for i := 0; i < count; i++ {
		if _, err := r.delegate.DoRead(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				logger.Warnf("%s: 読み飛ばし中にデータの終端に達しました (%d/%d 件)。", r.name, i, count)
				r.currentItemCount = i
				return nil
			}
			return err
		}
	}
	return nil
}

// Read は次のアイテムを返します。最大件数に達した場合やデータの終端では io.EOF を返します。
func (r *CountingItemReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.maxItemCount > 0 && r.currentItemCount >= r.maxItemCount {
		return zero, io.EOF
	}
	item, err := r.delegate.DoRead(ctx)
	if err != nil {
		return zero, err
	}
	r.currentItemCount++
	return item, nil
}

// Close は delegate を閉じ、件数をリセットします。
func (r *CountingItemReader[T]) Close(ctx context.Context) error {
	r.currentItemCount = 0
	return r.delegate.DoClose(ctx)
}

// SetExecutionContext は次回 Open で復元に使用する ExecutionContext を設定します。
func (r *CountingItemReader[T]) SetExecutionContext(ctx context.Context, ec core.ExecutionContext) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if ec == nil {
		ec = core.NewExecutionContext()
	}
	r.executionContext = ec
	return nil
}

// GetExecutionContext は現在の読み込み件数を保存した ExecutionContext を返します。
func (r *CountingItemReader[T]) GetExecutionContext(ctx context.Context) (core.ExecutionContext, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if r.saveState {
		r.executionContext.Put(r.key(readCountKey), r.currentItemCount)
		if r.maxItemCount > 0 {
			r.executionContext.Put(r.key(readCountMaxKey), r.maxItemCount)
		}
	}
	return r.executionContext, nil
}

var _ core.ItemReader[any] = (*CountingItemReader[any])(nil)
