package sqlsession

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/jmoiron/sqlx"
	pkgerrors "github.com/pkg/errors"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

// SqlSessionFactory はクエリ実行用のセッションを開く機能です。
// T はセッションが返すカーソルの要素型です。
type SqlSessionFactory[T any] interface {
	OpenSession(ctx context.Context, executorType ExecutorType) (SqlSession[T], error)
}

// SqlSession は1つのコネクションを専有し、マップドステートメントを実行します。
type SqlSession[T any] interface {
	// SelectCursor は名前付きステートメントを parameter で実行し、結果のカーソルを返します。
	SelectCursor(ctx context.Context, statement string, parameter map[string]any) (Cursor[T], error)
	// Close はセッションが開いたままのカーソル、キャッシュしたステートメント、コネクションを順に解放します。
	Close() error
}

// DefaultSqlSessionFactory は Configuration のデータベース接続からセッションを開きます。
type DefaultSqlSessionFactory[T any] struct {
	configuration *Configuration
}

// NewSqlSessionFactory は T 型の行を返すセッションファクトリを作成します。
func NewSqlSessionFactory[T any](configuration *Configuration) *DefaultSqlSessionFactory[T] {
	return &DefaultSqlSessionFactory[T]{configuration: configuration}
}

// Configuration はファクトリが使用する Configuration を返します。
func (f *DefaultSqlSessionFactory[T]) Configuration() *Configuration {
	return f.configuration
}

// OpenSession はプールからコネクションを1つ取得し、新しいセッションを返します。
func (f *DefaultSqlSessionFactory[T]) OpenSession(ctx context.Context, executorType ExecutorType) (SqlSession[T], error) {
	conn, err := f.configuration.db.Conn(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to acquire connection for sql session")
	}
	logger.Debugf("SqlSession を開きました (ExecutorType: %s)。", executorType)
	return &defaultSqlSession[T]{
		configuration: f.configuration,
		executorType:  executorType,
		conn:          conn,
		stmts:         make(map[string]*sql.Stmt),
		mapRow:        newRowMapper[T](),
	}, nil
}

type defaultSqlSession[T any] struct {
	configuration *Configuration
	executorType  ExecutorType
	mapRow        rowMapper[T]

	mu      sync.Mutex
	conn    *sql.Conn
	stmts   map[string]*sql.Stmt
	cursors []*sqlCursor[T]
	closed  bool
}

func (s *defaultSqlSession[T]) SelectCursor(ctx context.Context, statement string, parameter map[string]any) (Cursor[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	ms, query, args, err := s.configuration.Bind(statement, parameter)
	if err != nil {
		return nil, err
	}

	// カーソルが閉じられるまで有効なコンテキスト
	var queryCtx context.Context
	var cancel context.CancelFunc
	if ms.Timeout > 0 {
		queryCtx, cancel = context.WithTimeout(ctx, ms.Timeout)
	} else {
		queryCtx, cancel = context.WithCancel(ctx)
	}

	rows, err := s.query(ctx, queryCtx, query, args)
	if err != nil {
		cancel()
		return nil, pkgerrors.Wrapf(err, "failed to execute '%s'", ms.FullID())
	}

	cursor := newSQLCursor(&sqlx.Rows{Rows: rows, Mapper: s.configuration.mapper}, cancel, s.mapRow)
	s.cursors = append(s.cursors, cursor)
	logger.Debugf("ステートメント '%s' のカーソルを開きました。", ms.FullID())
	return cursor, nil
}

func (s *defaultSqlSession[T]) query(ctx, queryCtx context.Context, query string, args []any) (*sql.Rows, error) {
	if s.executorType != ExecutorReuse {
		return s.conn.QueryContext(queryCtx, query, args...)
	}
	stmt, ok := s.stmts[query]
	if !ok {
		var err error
		stmt, err = s.conn.PrepareContext(ctx, query)
		if err != nil {
			return nil, err
		}
		s.stmts[query] = stmt
	}
	return stmt.QueryContext(queryCtx, args...)
}

func (s *defaultSqlSession[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	// 開いたままの行がコネクションを保持しているため、先にカーソルを閉じる
	for _, c := range s.cursors {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.cursors = nil
	for _, stmt := range s.stmts {
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.stmts = nil
	if err := s.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	logger.Debugf("SqlSession を閉じました。")
	return errors.Join(errs...)
}
