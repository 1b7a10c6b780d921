package step

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/database"
	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/repository"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/exception"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

const chunkStepModule = "chunk_step"

// ChunkStep はチャンク指向のステップを実装します。
// Reader からデータの終端 (io.EOF) まで chunkSize 件ずつ読み込み、Processor で変換し、
// チャンク単位のトランザクションで Writer に書き込みます。
type ChunkStep[I, O any] struct {
	name      string
	reader    core.ItemReader[I]
	processor core.ItemProcessor[I, O]
	writer    core.ItemWriter[O]
	chunkSize int
	// txManager が nil の場合、Writer には nil のトランザクションが渡されます。
	txManager database.DBConnection

	stepListeners      []core.StepExecutionListener
	chunkListeners     []core.ChunkListener
	itemReadListeners  []core.ItemReadListener
	skipListeners      []core.SkipListener
	retryItemListeners []core.RetryItemListener

	itemRetryConfig config.ItemRetryConfig
	itemSkipConfig  config.ItemSkipConfig

	// jobRepository が設定されている場合、開始時・チャンクのコミットごと・終了時に StepExecution を永続化します。
	jobRepository repository.StepExecutionRepository
}

// NewChunkStep は新しい ChunkStep のインスタンスを作成します。
func NewChunkStep[I, O any](
	name string,
	r core.ItemReader[I],
	p core.ItemProcessor[I, O],
	w core.ItemWriter[O],
	chunkSize int,
	txManager database.DBConnection,
	itemRetryCfg config.ItemRetryConfig,
	itemSkipCfg config.ItemSkipConfig,
) *ChunkStep[I, O] {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	return &ChunkStep[I, O]{
		name:            name,
		reader:          r,
		processor:       p,
		writer:          w,
		chunkSize:       chunkSize,
		txManager:       txManager,
		itemRetryConfig: itemRetryCfg,
		itemSkipConfig:  itemSkipCfg,
	}
}

func (cs *ChunkStep[I, O]) RegisterStepListener(l core.StepExecutionListener) {
	cs.stepListeners = append(cs.stepListeners, l)
}

func (cs *ChunkStep[I, O]) RegisterChunkListener(l core.ChunkListener) {
	cs.chunkListeners = append(cs.chunkListeners, l)
}

func (cs *ChunkStep[I, O]) RegisterItemReadListener(l core.ItemReadListener) {
	cs.itemReadListeners = append(cs.itemReadListeners, l)
}

func (cs *ChunkStep[I, O]) RegisterSkipListener(l core.SkipListener) {
	cs.skipListeners = append(cs.skipListeners, l)
}

func (cs *ChunkStep[I, O]) RegisterRetryItemListener(l core.RetryItemListener) {
	cs.retryItemListeners = append(cs.retryItemListeners, l)
}

// SetJobRepository は StepExecution の永続化先を設定します。
func (cs *ChunkStep[I, O]) SetJobRepository(repo repository.StepExecutionRepository) {
	cs.jobRepository = repo
}

// StepName はステップの名前を返します。
func (cs *ChunkStep[I, O]) StepName() string {
	return cs.name
}

// Execute はチャンクステップを実行します。
// stepExecution の ExecutionContext は Reader の Open に渡され、チャンクのコミットごとに
// Reader の状態 (読み込み件数) で更新されます。失敗後に同じ ExecutionContext で再実行すると、
// 最後にコミットしたチャンクの次から再開します。
func (cs *ChunkStep[I, O]) Execute(ctx context.Context, stepExecution *core.StepExecution) (err error) {
	if stepExecution.ExecutionContext == nil {
		stepExecution.ExecutionContext = core.NewExecutionContext()
	}
	stepExecution.StepName = cs.name
	logger.Infof("ステップ '%s' の実行を開始します。", cs.name)

	for _, listener := range cs.stepListeners {
		listener.BeforeStep(ctx, stepExecution)
	}
	stepExecution.MarkAsStarted()
	if cs.jobRepository != nil {
		if err := cs.jobRepository.SaveStepExecution(ctx, stepExecution); err != nil {
			stepExecution.MarkAsFailed(err)
			return exception.NewBatchError(chunkStepModule, "StepExecution の保存に失敗しました", err, false, false)
		}
	}

	defer func() {
		if err != nil && stepExecution.Status != core.BatchStatusStopped {
			stepExecution.MarkAsFailed(err)
		}
		for _, listener := range cs.stepListeners {
			listener.AfterStep(ctx, stepExecution)
		}
		if cs.jobRepository != nil {
			// キャンセル済みのコンテキストでも最終状態は記録する
			if updateErr := cs.jobRepository.UpdateStepExecution(context.WithoutCancel(ctx), stepExecution); updateErr != nil {
				logger.Errorf("ステップ '%s': StepExecution の最終状態の保存に失敗しました: %v", cs.name, updateErr)
			}
		}
		logger.Infof("ステップ '%s' の実行が完了しました。ステータス: %s, 終了ステータス: %s", cs.name, stepExecution.Status, stepExecution.ExitStatus)
	}()

	if err := cs.reader.Open(ctx, stepExecution.ExecutionContext); err != nil {
		return exception.NewBatchError(chunkStepModule, "Reader のオープンに失敗しました", err, false, false)
	}
	defer func() {
		if closeErr := cs.reader.Close(ctx); closeErr != nil {
			logger.Errorf("ステップ '%s': Reader のクローズに失敗しました: %v", cs.name, closeErr)
			if err == nil {
				err = exception.NewBatchError(chunkStepModule, "Reader のクローズに失敗しました", closeErr, false, false)
			}
		}
	}()

	if err := cs.writer.Open(ctx, stepExecution.ExecutionContext); err != nil {
		return exception.NewBatchError(chunkStepModule, "Writer のオープンに失敗しました", err, false, false)
	}
	defer func() {
		if closeErr := cs.writer.Close(ctx); closeErr != nil {
			logger.Errorf("ステップ '%s': Writer のクローズに失敗しました: %v", cs.name, closeErr)
			if err == nil {
				err = exception.NewBatchError(chunkStepModule, "Writer のクローズに失敗しました", closeErr, false, false)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			stepExecution.MarkAsStopped(ctx.Err())
			logger.Warnf("ステップ '%s' がコンテキストキャンセルにより停止されました: %v", cs.name, ctx.Err())
			return ctx.Err()
		default:
		}

		for _, listener := range cs.chunkListeners {
			listener.BeforeChunk(ctx, stepExecution)
		}
		done, chunkErr := cs.executeChunk(ctx, stepExecution)
		if chunkErr != nil {
			for _, listener := range cs.chunkListeners {
				listener.AfterChunkError(ctx, stepExecution, chunkErr)
			}
			return chunkErr
		}
		for _, listener := range cs.chunkListeners {
			listener.AfterChunk(ctx, stepExecution)
		}
		if done {
			break
		}
	}

	stepExecution.MarkAsCompleted()
	return nil
}

// executeChunk は1チャンク分の読み込み・処理・書き込みを行います。データの終端に達した場合 done は true です。
func (cs *ChunkStep[I, O]) executeChunk(ctx context.Context, stepExecution *core.StepExecution) (done bool, err error) {
	items := make([]O, 0, cs.chunkSize)
	readInChunk := 0

	for readInChunk < cs.chunkSize {
		item, eof, err := cs.readItem(ctx, stepExecution)
		if err != nil {
			return false, err
		}
		if eof {
			done = true
			break
		}
		readInChunk++
		stepExecution.ReadCount++

		out, filtered, err := cs.processItem(ctx, stepExecution, item)
		if err != nil {
			return false, err
		}
		if filtered {
			stepExecution.FilterCount++
			continue
		}
		items = append(items, out)
	}

	if readInChunk == 0 {
		return true, nil
	}
	if err := cs.writeChunk(ctx, stepExecution, items); err != nil {
		return false, err
	}

	// コミット済みの位置を ExecutionContext に反映する
	ec, err := cs.reader.GetExecutionContext(ctx)
	if err != nil {
		return false, exception.NewBatchError(chunkStepModule, "Reader の ExecutionContext 取得に失敗しました", err, false, false)
	}
	stepExecution.ExecutionContext.Merge(ec)
	stepExecution.LastUpdated = time.Now()
	if cs.jobRepository != nil {
		if err := cs.jobRepository.UpdateStepExecution(ctx, stepExecution); err != nil {
			return false, exception.NewBatchError(chunkStepModule, "StepExecution の更新に失敗しました", err, false, false)
		}
	}
	return done, nil
}

func (cs *ChunkStep[I, O]) readItem(ctx context.Context, stepExecution *core.StepExecution) (item I, eof bool, err error) {
	attempts := 0
	for {
		attempts++
		item, err = cs.reader.Read(ctx)
		if err == nil {
			return item, false, nil
		}
		if errors.Is(err, io.EOF) {
			return item, true, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return item, false, err
		}

		if cs.isRetryable(err) && attempts < cs.itemRetryConfig.MaxAttempts {
			logger.Warnf("アイテム読み込みエラー (リトライ可能): %v (試行回数: %d/%d)", err, attempts, cs.itemRetryConfig.MaxAttempts)
			for _, listener := range cs.retryItemListeners {
				listener.OnRetryRead(ctx, err)
			}
			cs.backoff()
			continue
		}

		for _, listener := range cs.itemReadListeners {
			listener.OnReadError(ctx, err)
		}
		if cs.isSkippable(err) && stepExecution.SkipReadCount < cs.itemSkipConfig.SkipLimit {
			stepExecution.SkipReadCount++
			for _, listener := range cs.skipListeners {
				listener.OnSkipRead(ctx, err)
			}
			attempts = 0
			continue
		}
		return item, false, err
	}
}

func (cs *ChunkStep[I, O]) processItem(ctx context.Context, stepExecution *core.StepExecution, item I) (out O, filtered bool, err error) {
	attempts := 0
	for {
		attempts++
		out, err = cs.processor.Process(ctx, item)
		if err == nil {
			return out, isFiltered(out), nil
		}

		if cs.isRetryable(err) && attempts < cs.itemRetryConfig.MaxAttempts {
			logger.Warnf("アイテム処理エラー (リトライ可能): %v (試行回数: %d/%d)", err, attempts, cs.itemRetryConfig.MaxAttempts)
			for _, listener := range cs.retryItemListeners {
				listener.OnRetryProcess(ctx, item, err)
			}
			cs.backoff()
			continue
		}
		if cs.isSkippable(err) && stepExecution.SkipProcessCount < cs.itemSkipConfig.SkipLimit {
			stepExecution.SkipProcessCount++
			for _, listener := range cs.skipListeners {
				listener.OnSkipProcess(ctx, item, err)
			}
			var zero O
			return zero, true, nil
		}
		return out, false, err
	}
}

// writeChunk はトランザクションを開始して items を書き込み、コミットします。
// 書き込みのリトライは毎回新しいトランザクションで行います。
func (cs *ChunkStep[I, O]) writeChunk(ctx context.Context, stepExecution *core.StepExecution, items []O) error {
	if len(items) == 0 {
		return nil
	}
	attempts := 0
	for {
		attempts++
		err := cs.writeInTx(ctx, items)
		if err == nil {
			stepExecution.CommitCount++
			stepExecution.WriteCount += len(items)
			return nil
		}
		stepExecution.RollbackCount++

		if cs.isRetryable(err) && attempts < cs.itemRetryConfig.MaxAttempts {
			logger.Warnf("アイテム書き込みエラー (リトライ可能): %v (試行回数: %d/%d)", err, attempts, cs.itemRetryConfig.MaxAttempts)
			for _, listener := range cs.retryItemListeners {
				listener.OnRetryWrite(ctx, convertToInterfaceSlice(items), err)
			}
			cs.backoff()
			continue
		}
		// スキップ可能ならチャンク全体をスキップする
		if cs.isSkippable(err) && stepExecution.SkipWriteCount+len(items) <= cs.itemSkipConfig.SkipLimit {
			stepExecution.SkipWriteCount += len(items)
			for _, listener := range cs.skipListeners {
				for _, item := range items {
					listener.OnSkipWrite(ctx, item, err)
				}
			}
			return nil
		}
		return err
	}
}

func (cs *ChunkStep[I, O]) writeInTx(ctx context.Context, items []O) error {
	if cs.txManager == nil {
		return cs.writer.Write(ctx, nil, items)
	}
	tx, err := cs.txManager.BeginTx(ctx, nil)
	if err != nil {
		return exception.NewBatchError(chunkStepModule, "トランザクションの開始に失敗しました", err, true, false)
	}
	if err := cs.writer.Write(ctx, tx, items); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Errorf("ステップ '%s': ロールバックに失敗しました: %v", cs.name, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return exception.NewBatchError(chunkStepModule, "トランザクションのコミットに失敗しました", err, true, false)
	}
	return nil
}

func (cs *ChunkStep[I, O]) isRetryable(err error) bool {
	var be *exception.BatchError
	if errors.As(err, &be) && be.IsRetryable() {
		return true
	}
	return matchesAny(err, cs.itemRetryConfig.RetryableExceptions)
}

func (cs *ChunkStep[I, O]) isSkippable(err error) bool {
	if errors.Is(err, exception.ErrIllegalState) {
		return false
	}
	var be *exception.BatchError
	if errors.As(err, &be) && be.IsSkippable() {
		return true
	}
	return matchesAny(err, cs.itemSkipConfig.SkippableExceptions)
}

func matchesAny(err error, names []string) bool {
	for _, name := range names {
		if exception.IsErrorOfType(err, name) {
			return true
		}
	}
	return false
}

func (cs *ChunkStep[I, O]) backoff() {
	if cs.itemRetryConfig.InitialInterval > 0 {
		time.Sleep(time.Duration(cs.itemRetryConfig.InitialInterval) * time.Millisecond)
	}
}

// isFiltered は Processor の結果がフィルタを表すかを判定します。
// nil のポインタ・マップ・スライス・インターフェースだけがフィルタで、0 や空の構造体はそのまま書き込みます。
func isFiltered[T any](v T) bool {
	rv := reflect.ValueOf(&v).Elem()
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// convertToInterfaceSlice はリスナーに渡すために任意の型のスライスを []interface{} に変換します。
func convertToInterfaceSlice[T any](slice []T) []interface{} {
	result := make([]interface{}, len(slice))
	for i, v := range slice {
		result[i] = v
	}
	return result
}

// String はログ出力用の要約を返します。
func (cs *ChunkStep[I, O]) String() string {
	return fmt.Sprintf("ChunkStep{name=%s, chunkSize=%d}", cs.name, cs.chunkSize)
}

var _ core.Step = (*ChunkStep[any, any])(nil)
