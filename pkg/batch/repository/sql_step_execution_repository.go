package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/database"
	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/exception"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/serialization"
)

const module = "step_repository"

const (
	insertStepExecution = `
    INSERT INTO batch_step_execution (id, step_name, start_time, end_time, status, exit_status, read_count, write_count, commit_count, rollback_count, filter_count, skip_read_count, skip_process_count, skip_write_count, failures, execution_context, last_updated)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	updateStepExecution = `
    UPDATE batch_step_execution
    SET end_time = ?, status = ?, exit_status = ?, read_count = ?, write_count = ?, commit_count = ?, rollback_count = ?, filter_count = ?, skip_read_count = ?, skip_process_count = ?, skip_write_count = ?, failures = ?, execution_context = ?, last_updated = ?
    WHERE id = ?`

	selectLastStepExecution = `
    SELECT id, step_name, start_time, end_time, status, exit_status, read_count, write_count, commit_count, rollback_count, filter_count, skip_read_count, skip_process_count, skip_write_count, failures, execution_context, last_updated
    FROM batch_step_execution
    WHERE step_name = ?
    ORDER BY start_time DESC, last_updated DESC
    LIMIT 1`
)

// stepExecutionRow は batch_step_execution テーブルの 1 行です。
type stepExecutionRow struct {
	ID               string         `db:"id"`
	StepName         string         `db:"step_name"`
	StartTime        time.Time      `db:"start_time"`
	EndTime          sql.NullTime   `db:"end_time"`
	Status           string         `db:"status"`
	ExitStatus       string         `db:"exit_status"`
	ReadCount        int            `db:"read_count"`
	WriteCount       int            `db:"write_count"`
	CommitCount      int            `db:"commit_count"`
	RollbackCount    int            `db:"rollback_count"`
	FilterCount      int            `db:"filter_count"`
	SkipReadCount    int            `db:"skip_read_count"`
	SkipProcessCount int            `db:"skip_process_count"`
	SkipWriteCount   int            `db:"skip_write_count"`
	Failures         sql.NullString `db:"failures"`
	ExecutionContext sql.NullString `db:"execution_context"`
	LastUpdated      time.Time      `db:"last_updated"`
}

// SQLStepExecutionRepository は StepExecutionRepository の SQL データベース実装です。
type SQLStepExecutionRepository struct {
	db     database.DBConnection
	bind   int
	mapper *reflectx.Mapper
}

// NewSQLStepExecutionRepository は新しい SQLStepExecutionRepository のインスタンスを作成します。
func NewSQLStepExecutionRepository(db database.DBConnection) *SQLStepExecutionRepository {
	return &SQLStepExecutionRepository{
		db:     db,
		bind:   sqlx.BindType(db.DriverName()),
		mapper: reflectx.NewMapperFunc("db", sqlx.NameMapper),
	}
}

func (r *SQLStepExecutionRepository) encode(se *core.StepExecution) (failures, ec string, err error) {
	failuresJSON, err := serialization.MarshalFailures(se.Failures)
	if err != nil {
		return "", "", err
	}
	ecJSON, err := serialization.MarshalExecutionContext(se.ExecutionContext)
	if err != nil {
		return "", "", err
	}
	return string(failuresJSON), string(ecJSON), nil
}

// SaveStepExecution は新しい StepExecution をデータベースに保存します。
func (r *SQLStepExecutionRepository) SaveStepExecution(ctx context.Context, se *core.StepExecution) error {
	failures, ec, err := r.encode(se)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, sqlx.Rebind(r.bind, insertStepExecution),
		se.ID,
		se.StepName,
		se.StartTime,
		sql.NullTime{Time: se.EndTime, Valid: !se.EndTime.IsZero()},
		string(se.Status),
		string(se.ExitStatus),
		se.ReadCount,
		se.WriteCount,
		se.CommitCount,
		se.RollbackCount,
		se.FilterCount,
		se.SkipReadCount,
		se.SkipProcessCount,
		se.SkipWriteCount,
		failures,
		ec,
		se.LastUpdated,
	)
	if err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("StepExecution (ID: %s) の保存に失敗しました", se.ID), err, false, false)
	}
	logger.Debugf("StepExecution (ID: %s, Step: %s) を保存しました。", se.ID, se.StepName)
	return nil
}

// UpdateStepExecution は既存の StepExecution の状態をデータベースで更新します。
func (r *SQLStepExecutionRepository) UpdateStepExecution(ctx context.Context, se *core.StepExecution) error {
	failures, ec, err := r.encode(se)
	if err != nil {
		return err
	}
	se.LastUpdated = time.Now()
	res, err := r.db.ExecContext(ctx, sqlx.Rebind(r.bind, updateStepExecution),
		sql.NullTime{Time: se.EndTime, Valid: !se.EndTime.IsZero()},
		string(se.Status),
		string(se.ExitStatus),
		se.ReadCount,
		se.WriteCount,
		se.CommitCount,
		se.RollbackCount,
		se.FilterCount,
		se.SkipReadCount,
		se.SkipProcessCount,
		se.SkipWriteCount,
		failures,
		ec,
		se.LastUpdated,
		se.ID,
	)
	if err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("StepExecution (ID: %s) の更新に失敗しました", se.ID), err, false, false)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("StepExecution (ID: %s) の更新結果取得に失敗しました", se.ID), err, false, false)
	}
	if n == 0 {
		return exception.NewBatchErrorf(module, "StepExecution (ID: %s) の更新対象が見つかりませんでした", se.ID)
	}
	logger.Debugf("StepExecution (ID: %s) を更新しました。ステータス: %s", se.ID, se.Status)
	return nil
}

// FindLastStepExecution は stepName の直近の StepExecution をデータベースから取得します。
func (r *SQLStepExecutionRepository) FindLastStepExecution(ctx context.Context, stepName string) (*core.StepExecution, error) {
	rows, err := r.db.QueryContext(ctx, sqlx.Rebind(r.bind, selectLastStepExecution), stepName)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("ステップ '%s' の実行履歴の取得に失敗しました", stepName), err, false, false)
	}
	xrows := &sqlx.Rows{Rows: rows, Mapper: r.mapper}
	defer xrows.Close()

	if !xrows.Next() {
		if err := xrows.Err(); err != nil {
			return nil, exception.NewBatchError(module, fmt.Sprintf("ステップ '%s' の実行履歴の取得に失敗しました", stepName), err, false, false)
		}
		logger.Debugf("ステップ '%s' の実行履歴はありません。", stepName)
		return nil, nil
	}
	var row stepExecutionRow
	if err := xrows.StructScan(&row); err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("ステップ '%s' の実行履歴のスキャンに失敗しました", stepName), err, false, false)
	}
	return r.toStepExecution(row)
}

func (r *SQLStepExecutionRepository) toStepExecution(row stepExecutionRow) (*core.StepExecution, error) {
	ec, err := serialization.UnmarshalExecutionContext([]byte(row.ExecutionContext.String))
	if err != nil {
		return nil, err
	}
	failures, err := serialization.UnmarshalFailures([]byte(row.Failures.String))
	if err != nil {
		logger.Warnf("StepExecution (ID: %s) の Failures を復元できません: %v", row.ID, err)
		failures = []error{}
	}
	return &core.StepExecution{
		ID:               row.ID,
		StepName:         row.StepName,
		StartTime:        row.StartTime,
		EndTime:          row.EndTime.Time,
		Status:           core.JobStatus(row.Status),
		ExitStatus:       core.ExitStatus(row.ExitStatus),
		Failures:         failures,
		ReadCount:        row.ReadCount,
		WriteCount:       row.WriteCount,
		CommitCount:      row.CommitCount,
		RollbackCount:    row.RollbackCount,
		FilterCount:      row.FilterCount,
		SkipReadCount:    row.SkipReadCount,
		SkipProcessCount: row.SkipProcessCount,
		SkipWriteCount:   row.SkipWriteCount,
		ExecutionContext: ec,
		LastUpdated:      row.LastUpdated,
	}, nil
}

var _ StepExecutionRepository = (*SQLStepExecutionRepository)(nil)
