package exception

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

var (
	// ErrInvalidConfiguration は必須プロパティが未設定など、コンポーネントの設定不備を表します。
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrIllegalState はライフサイクルの順序に反した呼び出し (Open 前の Read など) を表します。
	ErrIllegalState = errors.New("illegal state")
)

// BatchError はバッチ処理中に発生するカスタムエラー型です。
// エラーの発生元モジュール、メッセージ、ラップされた元のエラー、
// そしてリトライ可能か、スキップ可能かのフラグを保持します。
type BatchError struct {
	Module      string // エラーが発生したモジュール (例: "reader", "writer", "sqlsession")
	Message     string
	OriginalErr error
	isRetryable bool
	isSkippable bool
	StackTrace  string // デバッグ用
}

// NewBatchError は新しい BatchError のインスタンスを作成します。
func NewBatchError(module, message string, originalErr error, isRetryable, isSkippable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf はフォーマット文字列からリトライ不可・スキップ不可の BatchError を作成します。
// 引数の末尾が error の場合は、それを OriginalErr として扱います。
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	if n := len(a); n > 0 {
		if err, ok := a[n-1].(error); ok && strings.Count(format, "%") < n {
			originalErr = err
			a = a[:n-1]
		}
	}
	return &BatchError{
		Module:      module,
		Message:     fmt.Sprintf(format, a...),
		OriginalErr: originalErr,
		StackTrace:  captureStack(),
	}
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Error は error インターフェースの実装です。
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap は errors.Unwrap のために元のエラーを返します。
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable はこのエラーがリトライ可能かどうかを返します。
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable はこのエラーがスキップ可能かどうかを返します。
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// IsTemporary は一時的なエラーかどうかを判定します。
// BatchError の IsRetryable フラグを優先し、それ以外はメッセージで判定します。
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "bad connection")
}

// IsFatal は致命的なエラー (スキップ不可) かどうかを判定します。
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		return !be.IsSkippable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid argument") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "data corruption")
}

// IsErrorOfType はエラーが指定された型名 (例: "*net.OpError") に一致するか、
// エラーメッセージにその文字列を含むかを、ラップされたエラーも辿って判定します。
// 設定ファイルの retryable_exceptions / skippable_exceptions の照合に使用します。
func IsErrorOfType(err error, errorTypeName string) bool {
	for err != nil {
		errType := reflect.TypeOf(err)
		if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
			return true
		}
		if strings.Contains(err.Error(), errorTypeName) {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
