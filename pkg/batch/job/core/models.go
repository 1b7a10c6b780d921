package core

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// JobStatus はジョブ/ステップ実行の状態を表します。
type JobStatus string

const (
	BatchStatusStarting  JobStatus = "STARTING"
	BatchStatusStarted   JobStatus = "STARTED"
	BatchStatusStopped   JobStatus = "STOPPED"
	BatchStatusCompleted JobStatus = "COMPLETED"
	BatchStatusFailed    JobStatus = "FAILED"
	BatchStatusUnknown   JobStatus = "UNKNOWN"
)

// IsFinished は JobStatus が終了状態かどうかを判定するヘルパーメソッドです。
func (s JobStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped:
		return true
	default:
		return false
	}
}

// ExitStatus はステップ終了時の詳細なステータスを表します。
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
)

// ExecutionContext はステップの状態を保持するためのキー-値ストアです。
// リスタート時にリーダーの読み込み位置などを復元するために使用します。
type ExecutionContext map[string]interface{}

// NewExecutionContext は空の ExecutionContext を作成します。
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Put は値を設定します。
func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

// Get は値を取得します。
func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	v, ok := ec[key]
	return v, ok
}

// GetInt は値を int として取得します。
// YAML や JSON から復元された値を考慮し、数値型と数値文字列を受け付けます。
func (ec ExecutionContext) GetInt(key string) (int, bool) {
	v, ok := ec[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// GetString は値を文字列として取得します。
func (ec ExecutionContext) GetString(key string) (string, bool) {
	v, ok := ec[key]
	if !ok {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprintf("%v", v), true
}

// Merge は other の全エントリを ec にコピーします。
func (ec ExecutionContext) Merge(other ExecutionContext) {
	for k, v := range other {
		ec[k] = v
	}
}

// Copy は ExecutionContext の浅いコピーを返します。
func (ec ExecutionContext) Copy() ExecutionContext {
	c := make(ExecutionContext, len(ec))
	c.Merge(ec)
	return c
}

// StepExecution はステップの単一の実行インスタンスを表す構造体です。
type StepExecution struct {
	ID               string
	StepName         string
	StartTime        time.Time
	EndTime          time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	Failures         []error
	ReadCount        int
	WriteCount       int
	CommitCount      int
	RollbackCount    int
	FilterCount      int
	SkipReadCount    int
	SkipProcessCount int
	SkipWriteCount   int
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
}

// NewStepExecution は新しい StepExecution を作成します。
// ec が nil の場合は空の ExecutionContext で初期化します。リスタート時は前回の ExecutionContext を渡します。
func NewStepExecution(stepName string, ec ExecutionContext) *StepExecution {
	if ec == nil {
		ec = NewExecutionContext()
	}
	now := time.Now()
	return &StepExecution{
		ID:               uuid.New().String(),
		StepName:         stepName,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		ExecutionContext: ec,
		LastUpdated:      now,
	}
}

// MarkAsStarted はステップを開始状態にします。
func (se *StepExecution) MarkAsStarted() {
	se.StartTime = time.Now()
	se.Status = BatchStatusStarted
	se.LastUpdated = se.StartTime
}

// MarkAsCompleted はステップを完了状態にします。
func (se *StepExecution) MarkAsCompleted() {
	se.EndTime = time.Now()
	se.Status = BatchStatusCompleted
	se.ExitStatus = ExitStatusCompleted
	se.LastUpdated = se.EndTime
}

// MarkAsFailed はステップを失敗状態にし、エラーを記録します。
func (se *StepExecution) MarkAsFailed(err error) {
	se.EndTime = time.Now()
	se.Status = BatchStatusFailed
	se.ExitStatus = ExitStatusFailed
	if err != nil {
		se.Failures = append(se.Failures, err)
	}
	se.LastUpdated = se.EndTime
}

// MarkAsStopped はステップを停止状態にします。
func (se *StepExecution) MarkAsStopped(err error) {
	se.MarkAsFailed(err)
	se.Status = BatchStatusStopped
	se.ExitStatus = ExitStatusStopped
}
