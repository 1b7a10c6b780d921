package reader_test

import (
	"context"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/sqlsession"
)

// callLog はスタブの呼び出し順序を記録します。
type callLog struct {
	calls []string
}

func (l *callLog) add(call string) {
	l.calls = append(l.calls, call)
}

type stubCursor struct {
	log      *callLog
	items    []string
	pos      int
	iterErr  error // 全件を返した後に Err で返すエラー
	closeErr error
	closed   bool
}

func (c *stubCursor) Next() bool {
	if c.closed || c.pos >= len(c.items) {
		return false
	}
	c.pos++
	return true
}

func (c *stubCursor) Item() string {
	if c.pos == 0 {
		return ""
	}
	return c.items[c.pos-1]
}

func (c *stubCursor) Err() error {
	if c.pos >= len(c.items) {
		return c.iterErr
	}
	return nil
}

func (c *stubCursor) Close() error {
	c.log.add("cursor.Close")
	c.closed = true
	return c.closeErr
}

func (c *stubCursor) IsOpen() bool      { return !c.closed && c.pos < len(c.items) }
func (c *stubCursor) IsConsumed() bool  { return c.pos >= len(c.items) }
func (c *stubCursor) CurrentIndex() int { return c.pos - 1 }

type stubSession struct {
	log       *callLog
	cursor    *stubCursor
	selectErr error
	closeErr  error

	statement  string
	parameters map[string]any
	closeCount int
}

func (s *stubSession) SelectCursor(ctx context.Context, statement string, parameter map[string]any) (sqlsession.Cursor[string], error) {
	s.log.add("session.SelectCursor")
	s.statement = statement
	s.parameters = parameter
	if s.selectErr != nil {
		return nil, s.selectErr
	}
	return s.cursor, nil
}

func (s *stubSession) Close() error {
	s.log.add("session.Close")
	s.closeCount++
	return s.closeErr
}

// stubFactory は OpenSession のたびに newSession で新しいセッションを作成します。
type stubFactory struct {
	log        *callLog
	openErr    error
	newSession func(log *callLog) *stubSession

	executorTypes []sqlsession.ExecutorType
	sessions      []*stubSession
}

func newStubFactory(items ...string) *stubFactory {
	return &stubFactory{
		log: &callLog{},
		newSession: func(log *callLog) *stubSession {
			return &stubSession{
				log:    log,
				cursor: &stubCursor{log: log, items: items},
			}
		},
	}
}

func (f *stubFactory) OpenSession(ctx context.Context, executorType sqlsession.ExecutorType) (sqlsession.SqlSession[string], error) {
	f.log.add("factory.OpenSession")
	f.executorTypes = append(f.executorTypes, executorType)
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := f.newSession(f.log)
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *stubFactory) lastSession() *stubSession {
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}
