package sqlsession

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Cursor は検索結果を1行ずつ取り出す前方向・一回限りのカーソルです。
// 結果セット全体をメモリに展開しません。
type Cursor[T any] interface {
	// Next は次の行に進み、行があれば true を返します。終端やエラーの後は常に false です。
	Next() bool
	// Item は直前の Next で取り出した行を返します。
	Item() T
	// Err は反復中に発生したエラーを返します。
	Err() error
	Close() error
	IsOpen() bool
	// IsConsumed はすべての行を読み終えたかどうかを返します。
	IsConsumed() bool
	// CurrentIndex は直前に取り出した行の0始まりの位置です。まだ取り出していなければ -1 です。
	CurrentIndex() int
}

type cursorState int

const (
	cursorOpen cursorState = iota
	cursorConsumed
	cursorClosed
)

// sqlCursor は *sqlx.Rows を Cursor[T] に適合させます。
type sqlCursor[T any] struct {
	rows   *sqlx.Rows
	cancel context.CancelFunc
	mapRow rowMapper[T]

	item  T
	index int
	state cursorState
	err   error
}

func newSQLCursor[T any](rows *sqlx.Rows, cancel context.CancelFunc, mapRow rowMapper[T]) *sqlCursor[T] {
	return &sqlCursor[T]{rows: rows, cancel: cancel, mapRow: mapRow, index: -1}
}

func (c *sqlCursor[T]) Next() bool {
	if c.state != cursorOpen {
		return false
	}
	if !c.rows.Next() {
		c.finish(c.rows.Err())
		return false
	}
	item, err := c.mapRow(c.rows)
	if err != nil {
		c.finish(err)
		return false
	}
	c.item = item
	c.index++
	return true
}

// finish は結果セットを読み終えた (またはエラーで中断した) カーソルの行を解放します。
func (c *sqlCursor[T]) finish(err error) {
	var zero T
	c.item = zero
	c.state = cursorConsumed
	c.err = err
	if closeErr := c.rows.Close(); closeErr != nil && c.err == nil {
		c.err = closeErr
	}
}

func (c *sqlCursor[T]) Item() T {
	return c.item
}

func (c *sqlCursor[T]) Err() error {
	return c.err
}

// Close は行とステートメントのコンテキストを解放します。二回目以降の呼び出しは何もしません。
func (c *sqlCursor[T]) Close() error {
	if c.state == cursorClosed {
		return nil
	}
	c.state = cursorClosed
	var zero T
	c.item = zero
	err := c.rows.Close()
	if c.cancel != nil {
		c.cancel()
	}
	return err
}

func (c *sqlCursor[T]) IsOpen() bool {
	return c.state == cursorOpen
}

func (c *sqlCursor[T]) IsConsumed() bool {
	return c.state == cursorConsumed
}

func (c *sqlCursor[T]) CurrentIndex() int {
	return c.index
}
