package writer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/database"
	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/sqlsession"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/exception"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

const statementWriterModule = "statement_item_writer"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StatementItemWriter はアイテムごとにマップドステートメント (INSERT/UPDATE など) を実行する ItemWriter です。
// ステートメントの :name はアイテムの db タグ付きフィールド、またはマップのキーから束縛されます。
type StatementItemWriter[T any] struct {
	configuration *sqlsession.Configuration
	statementID   string
	// AssertUpdates が true の場合、更新件数が 0 のアイテムをエラーとして扱います。
	AssertUpdates bool
}

func NewStatementItemWriter[T any](configuration *sqlsession.Configuration, statementID string) *StatementItemWriter[T] {
	return &StatementItemWriter[T]{
		configuration: configuration,
		statementID:   statementID,
		AssertUpdates: true,
	}
}

// Validate は必須プロパティとステートメントの存在を確認します。
func (w *StatementItemWriter[T]) Validate() error {
	if w.configuration == nil || w.statementID == "" {
		return exception.NewBatchError(statementWriterModule, "Configuration と StatementID は必須です", exception.ErrInvalidConfiguration, false, false)
	}
	if _, err := w.configuration.MappedStatement(w.statementID); err != nil {
		return exception.NewBatchError(statementWriterModule, fmt.Sprintf("ステートメント '%s' を解決できません", w.statementID), err, false, false)
	}
	return nil
}

func (w *StatementItemWriter[T]) Open(ctx context.Context, ec core.ExecutionContext) error {
	return w.Validate()
}

// Write はチャンクのトランザクション内で各アイテムのステートメントを実行します。
// tx が nil の場合はコネクションプールで直接実行します。
func (w *StatementItemWriter[T]) Write(ctx context.Context, tx database.Tx, items []T) error {
	var ex execer = w.configuration.Database()
	if tx != nil {
		ex = tx
	}
	for i, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		ms, query, args, err := w.configuration.Bind(w.statementID, item)
		if err != nil {
			return exception.NewBatchError(statementWriterModule, fmt.Sprintf("アイテム %d のパラメータ束縛に失敗しました", i), err, false, true)
		}
		res, err := ex.ExecContext(ctx, query, args...)
		if err != nil {
			return exception.NewBatchError(statementWriterModule, fmt.Sprintf("ステートメント '%s' の実行に失敗しました", ms.FullID()), err, exception.IsTemporary(err), false)
		}
		if w.AssertUpdates {
			n, err := res.RowsAffected()
			if err == nil && n == 0 {
				return exception.NewBatchError(statementWriterModule, fmt.Sprintf("ステートメント '%s' がアイテム %d を更新しませんでした", ms.FullID(), i), nil, false, true)
			}
		}
	}
	logger.Debugf("StatementItemWriter: ステートメント '%s' で %d 件を書き込みました。", w.statementID, len(items))
	return nil
}

func (w *StatementItemWriter[T]) Close(ctx context.Context) error {
	return nil
}

var _ core.ItemWriter[any] = (*StatementItemWriter[any])(nil)
