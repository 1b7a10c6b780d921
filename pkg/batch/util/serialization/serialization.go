package serialization

import (
	"encoding/json"
	"errors"

	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/exception"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

const module = "serialization"

// MarshalExecutionContext は ExecutionContext を JSON バイトスライスにシリアライズします。
func MarshalExecutionContext(ec core.ExecutionContext) ([]byte, error) {
	if ec == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(ec)
	if err != nil {
		return nil, exception.NewBatchError(module, "ExecutionContext のシリアライズに失敗しました", err, false, false)
	}
	return data, nil
}

// UnmarshalExecutionContext は JSON バイトスライスを新しい ExecutionContext にデシリアライズします。
// 数値は float64 として復元されるため、読み出しには ExecutionContext.GetInt を使用してください。
func UnmarshalExecutionContext(data []byte) (core.ExecutionContext, error) {
	ec := core.NewExecutionContext()
	if len(data) == 0 || string(data) == "null" {
		logger.Debugf("ExecutionContext が空データです。空の ExecutionContext を返します。")
		return ec, nil
	}
	if err := json.Unmarshal(data, &ec); err != nil {
		return nil, exception.NewBatchError(module, "ExecutionContext のデシリアライズに失敗しました", err, false, false)
	}
	return ec, nil
}

// MarshalFailures は []error をエラーメッセージの JSON 配列にシリアライズします。
func MarshalFailures(failures []error) ([]byte, error) {
	messages := make([]string, 0, len(failures))
	for _, f := range failures {
		if f != nil {
			messages = append(messages, f.Error())
		}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return nil, exception.NewBatchError(module, "Failures のエンコードに失敗しました", err, false, false)
	}
	return data, nil
}

// UnmarshalFailures はエラーメッセージの JSON 配列を []error にデシリアライズします。
// 元のエラー型は復元されません。
func UnmarshalFailures(data []byte) ([]error, error) {
	if len(data) == 0 || string(data) == "null" {
		return []error{}, nil
	}
	var messages []string
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, exception.NewBatchError(module, "Failures のデコードに失敗しました", err, false, false)
	}
	failures := make([]error, len(messages))
	for i, msg := range messages {
		failures[i] = errors.New(msg)
	}
	return failures, nil
}
