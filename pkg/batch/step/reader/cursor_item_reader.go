package reader

import (
	"context"
	"fmt"
	"io"
	"strings"

	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/sqlsession"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/exception"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

const cursorReaderModule = "cursor_item_reader"

// ReaderState は CursorItemReader のライフサイクル上の状態です。
type ReaderState int

const (
	StateUnvalidated ReaderState = iota
	StateValidated
	StateOpened
	StateClosed
)

func (s ReaderState) String() string {
	switch s {
	case StateUnvalidated:
		return "UNVALIDATED"
	case StateValidated:
		return "VALIDATED"
	case StateOpened:
		return "OPENED"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("ReaderState(%d)", int(s))
	}
}

// CursorItemReaderConfig は CursorItemReader の設定です。読み込み開始後は変更されません。
type CursorItemReaderConfig[T any] struct {
	// Name は ExecutionContext のキー接頭辞です。空の場合は "CursorItemReader" です。
	Name string
	// QueryID はマッパーに登録されたステートメントの識別子です。必須です。
	QueryID string
	// SessionFactory はクエリ実行用のセッションを開きます。必須です。
	SessionFactory sqlsession.SqlSessionFactory[T]
	// ParameterValues はステートメントの名前付きパラメータです。nil は空のマップとして扱います。
	ParameterValues map[string]any
}

// CursorItemReader はマップドステートメントの結果をカーソルで1件ずつ読み込むリーダーです。
// 結果セット全体をメモリに展開しないため、大量の行を扱うチャンクステップに向いています。
//
// Open ごとに SIMPLE 実行モードのセッションを1つ開き、Close でカーソル、セッションの順に解放します。
// 1つのインスタンスを複数のゴルーチンから同時に使用することはできません。
type CursorItemReader[T any] struct {
	*CountingItemReader[T]

	queryID         string
	sessionFactory  sqlsession.SqlSessionFactory[T]
	parameterValues map[string]any

	state   ReaderState
	session sqlsession.SqlSession[T]
	cursor  sqlsession.Cursor[T] // 反復ハンドル。Opened 以外では nil
}

// NewCursorItemReader は新しい CursorItemReader を作成します。使用前に Validate を呼び出す必要があります。
func NewCursorItemReader[T any](cfg CursorItemReaderConfig[T]) *CursorItemReader[T] {
	name := cfg.Name
	if name == "" {
		name = "CursorItemReader"
	}
	params := make(map[string]any, len(cfg.ParameterValues))
	for k, v := range cfg.ParameterValues {
		params[k] = v
	}
	r := &CursorItemReader[T]{
		queryID:         cfg.QueryID,
		sessionFactory:  cfg.SessionFactory,
		parameterValues: params,
		state:           StateUnvalidated,
	}
	r.CountingItemReader = NewCountingItemReader[T](name, r)
	return r
}

// State は現在の状態を返します。
func (r *CursorItemReader[T]) State() ReaderState {
	return r.state
}

// Validate は必須プロパティ (SessionFactory, QueryID) が設定されていることを確認します。
// 読み込みフェーズの前に一度だけ呼び出します。Open ごとの再検証は行いません。
func (r *CursorItemReader[T]) Validate() error {
	var missing []string
	if r.sessionFactory == nil {
		missing = append(missing, "SessionFactory")
	}
	if r.queryID == "" {
		missing = append(missing, "QueryID")
	}
	if len(missing) > 0 {
		return exception.NewBatchError(cursorReaderModule,
			fmt.Sprintf("%s: 必須プロパティが設定されていません: %s", r.Name(), strings.Join(missing, ", ")),
			exception.ErrInvalidConfiguration, false, false)
	}
	if r.state == StateUnvalidated {
		r.state = StateValidated
	}
	return nil
}

// DoOpen はセッションを開き、ステートメントを実行してカーソルを取得します。
// セッションとステートメントのエラーはそのまま返します。
func (r *CursorItemReader[T]) DoOpen(ctx context.Context) error {
	if r.state != StateValidated && r.state != StateClosed {
		return r.illegalState("DoOpen")
	}

	parameters := make(map[string]any, len(r.parameterValues))
	for k, v := range r.parameterValues {
		parameters[k] = v
	}

	session, err := r.sessionFactory.OpenSession(ctx, sqlsession.ExecutorSimple)
	if err != nil {
		return err
	}
	cursor, err := session.SelectCursor(ctx, r.queryID, parameters)
	if err != nil {
		if closeErr := session.Close(); closeErr != nil {
			logger.Warnf("%s: カーソル取得失敗後のセッションのクローズに失敗しました: %v", r.Name(), closeErr)
		}
		return err
	}

	r.session = session
	r.cursor = cursor
	r.state = StateOpened
	logger.Debugf("%s: ステートメント '%s' のカーソルを開きました。", r.Name(), r.queryID)
	return nil
}

// DoRead はカーソルの次の行を返します。行が残っていなければ io.EOF を返します。
func (r *CursorItemReader[T]) DoRead(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
	}
	if r.state != StateOpened {
		return zero, r.illegalState("DoRead")
	}
	if r.cursor.Next() {
		return r.cursor.Item(), nil
	}
	if err := r.cursor.Err(); err != nil {
		return zero, err
	}
	return zero, io.EOF
}

// DoClose はカーソル、セッションの順に閉じ、反復ハンドルを破棄します。
// 両方のクローズを試み、カーソルのエラーを優先して返します。
func (r *CursorItemReader[T]) DoClose(ctx context.Context) error {
	if r.state != StateOpened {
		return r.illegalState("DoClose")
	}
	cursorErr := r.cursor.Close()
	sessionErr := r.session.Close()
	r.cursor = nil
	r.session = nil
	r.state = StateClosed

	if cursorErr != nil {
		if sessionErr != nil {
			logger.Errorf("%s: セッションのクローズにも失敗しました: %v", r.Name(), sessionErr)
		}
		return cursorErr
	}
	if sessionErr == nil {
		logger.Debugf("%s: カーソルとセッションを閉じました。", r.Name())
	}
	return sessionErr
}

func (r *CursorItemReader[T]) illegalState(op string) error {
	return exception.NewBatchError(cursorReaderModule,
		fmt.Sprintf("%s: %s は状態 %s では呼び出せません", r.Name(), op, r.state),
		exception.ErrIllegalState, false, false)
}

var (
	_ core.ItemReader[any] = (*CursorItemReader[any])(nil)
	_ ItemStream[any]      = (*CursorItemReader[any])(nil)
)
