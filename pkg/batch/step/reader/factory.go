package reader

import (
	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/sqlsession"
)

// NewCursorItemReaderFromConfig は設定ファイルの reader セクションから CursorItemReader を作成し、検証します。
func NewCursorItemReaderFromConfig[T any](name string, rc config.ReaderConfig, factory sqlsession.SqlSessionFactory[T]) (*CursorItemReader[T], error) {
	r := NewCursorItemReader(CursorItemReaderConfig[T]{
		Name:            name,
		QueryID:         rc.QueryID,
		SessionFactory:  factory,
		ParameterValues: rc.ParameterValues,
	})
	r.SetMaxItemCount(rc.MaxItemCount)
	r.SetSaveState(rc.IsSaveState())
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
