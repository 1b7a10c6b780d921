package sqlsession

import "errors"

var (
	ErrStatementNotFound  = errors.New("mapped statement not found")
	ErrAmbiguousStatement = errors.New("mapped statement id is ambiguous")
	ErrDuplicateStatement = errors.New("mapped statement already registered")
	ErrSessionClosed      = errors.New("sql session is closed")
)
