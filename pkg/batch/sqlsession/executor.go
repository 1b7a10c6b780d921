package sqlsession

import (
	"fmt"
	"strings"
)

// ExecutorType はセッションがステートメントを実行する方式です。
type ExecutorType int

const (
	// ExecutorSimple は呼び出しごとに1つのステートメントを発行し、再利用もバッチ化もしません。
	ExecutorSimple ExecutorType = iota
	// ExecutorReuse はセッション内で準備済みステートメントをキャッシュして再利用します。
	ExecutorReuse
	// ExecutorBatch は更新系をまとめる方式です。検索 (カーソル) は Simple と同じく即時に実行されます。
	ExecutorBatch
)

func (t ExecutorType) String() string {
	switch t {
	case ExecutorSimple:
		return "SIMPLE"
	case ExecutorReuse:
		return "REUSE"
	case ExecutorBatch:
		return "BATCH"
	default:
		return fmt.Sprintf("ExecutorType(%d)", int(t))
	}
}

// ParseExecutorType は設定値の文字列を ExecutorType に変換します。空文字列は SIMPLE です。
func ParseExecutorType(s string) (ExecutorType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "SIMPLE":
		return ExecutorSimple, nil
	case "REUSE":
		return ExecutorReuse, nil
	case "BATCH":
		return ExecutorBatch, nil
	default:
		return ExecutorSimple, fmt.Errorf("不明な ExecutorType です: %s", s)
	}
}
