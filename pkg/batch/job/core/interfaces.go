package core

import (
	"context"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/database"
)

// Step はジョブ内で実行される単一のステップのインターフェースです。
type Step interface {
	Execute(ctx context.Context, stepExecution *StepExecution) error
	StepName() string
}

// ItemReader はデータを読み込むステップのインターフェースです。
// O は読み込まれるアイテムの型です。データの終端では io.EOF を返します。
type ItemReader[O any] interface {
	Open(ctx context.Context, ec ExecutionContext) error // リソースを開き、ExecutionContextから状態を復元
	Read(ctx context.Context) (O, error)
	Close(ctx context.Context) error
	SetExecutionContext(ctx context.Context, ec ExecutionContext) error
	GetExecutionContext(ctx context.Context) (ExecutionContext, error)
}

// ItemProcessor はアイテムを処理するステップのインターフェースです。
// I は入力アイテムの型、O は出力アイテムの型です。
// nil のポインタ・マップ・スライス・インターフェースを返したアイテムはフィルタされたものとして扱われます。
// 0 や空文字列などのその他のゼロ値はフィルタされません。
type ItemProcessor[I, O any] interface {
	Process(ctx context.Context, item I) (O, error)
}

// ItemWriter はデータを書き込むステップのインターフェースです。
// I は書き込まれるアイテムの型です。
type ItemWriter[I any] interface {
	Open(ctx context.Context, ec ExecutionContext) error
	Write(ctx context.Context, tx database.Tx, items []I) error // チャンク単位のトランザクションを受け取る
	Close(ctx context.Context) error
}

// RetryItemListener はアイテムレベルのリトライイベントを処理するためのインターフェースです。
type RetryItemListener interface {
	OnRetryRead(ctx context.Context, err error)
	OnRetryProcess(ctx context.Context, item interface{}, err error)
	OnRetryWrite(ctx context.Context, items []interface{}, err error)
}

// SkipListener はアイテムスキップイベントを処理するためのインターフェースです。
type SkipListener interface {
	OnSkipRead(ctx context.Context, err error)
	OnSkipProcess(ctx context.Context, item interface{}, err error)
	OnSkipWrite(ctx context.Context, item interface{}, err error)
}

// StepExecutionListener はステップ実行イベントを処理するためのインターフェースです。
type StepExecutionListener interface {
	BeforeStep(ctx context.Context, stepExecution *StepExecution)
	AfterStep(ctx context.Context, stepExecution *StepExecution)
}

// ItemReadListener はアイテム読み込みイベントを処理するためのインターフェースです。
type ItemReadListener interface {
	OnReadError(ctx context.Context, err error)
}

// ChunkListener はチャンク (1トランザクション分の読み込み・処理・書き込み) の前後に呼び出されます。
type ChunkListener interface {
	BeforeChunk(ctx context.Context, stepExecution *StepExecution)
	AfterChunk(ctx context.Context, stepExecution *StepExecution)
	AfterChunkError(ctx context.Context, stepExecution *StepExecution, err error)
}
