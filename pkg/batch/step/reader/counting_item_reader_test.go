package reader_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/config"
	core "github.com/tigerroll/go_cursor_batch/pkg/batch/job/core"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/step/reader"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/exception"
)

func readAll(t *testing.T, ctx context.Context, r core.ItemReader[string]) []string {
	t.Helper()
	var got []string
	for {
		item, err := r.Read(ctx)
		if errors.Is(err, io.EOF) {
			return got
		}
		require.NoError(t, err)
		got = append(got, item)
	}
}

// TestCountingItemReader_SavesReadCount は読み込み件数が ExecutionContext に保存されることをテストします。
func TestCountingItemReader_SavesReadCount(t *testing.T) {
	ctx := context.Background()
	r := newValidatedReader(t, newStubFactory("a", "b", "c"), nil)
	ec := core.NewExecutionContext()
	require.NoError(t, r.Open(ctx, ec))

	_, err := r.Read(ctx)
	require.NoError(t, err)
	_, err = r.Read(ctx)
	require.NoError(t, err)

	saved, err := r.GetExecutionContext(ctx)
	require.NoError(t, err)
	count, ok := saved.GetInt("CursorItemReader.read.count")
	require.True(t, ok)
	assert.Equal(t, 2, count)
	require.NoError(t, r.Close(ctx))
	assert.Equal(t, 0, r.CurrentItemCount())
}

// TestCountingItemReader_Restart は保存された件数まで読み飛ばして再開することをテストします。
func TestCountingItemReader_Restart(t *testing.T) {
	tests := []struct {
		name     string
		saved    any
		expected []string
	}{
		{name: "int で保存", saved: 2, expected: []string{"c", "d"}},
		{name: "float64 で保存 (JSON 復元)", saved: float64(1), expected: []string{"b", "c", "d"}},
		{name: "件数が行数を超える", saved: 10, expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			r := newValidatedReader(t, newStubFactory("a", "b", "c", "d"), nil)
			ec := core.NewExecutionContext()
			ec.Put("CursorItemReader.read.count", tt.saved)

			require.NoError(t, r.Open(ctx, ec))
			assert.Equal(t, tt.expected, readAll(t, ctx, r))
			require.NoError(t, r.Close(ctx))
		})
	}
}

// TestCountingItemReader_MaxItemCount は最大件数に達すると io.EOF を返すことをテストします。
func TestCountingItemReader_MaxItemCount(t *testing.T) {
	ctx := context.Background()
	r := newValidatedReader(t, newStubFactory("a", "b", "c"), nil)
	r.SetMaxItemCount(2)

	require.NoError(t, r.Open(ctx, nil))
	assert.Equal(t, []string{"a", "b"}, readAll(t, ctx, r))

	saved, err := r.GetExecutionContext(ctx)
	require.NoError(t, err)
	maxCount, ok := saved.GetInt("CursorItemReader.read.count.max")
	require.True(t, ok)
	assert.Equal(t, 2, maxCount)
	require.NoError(t, r.Close(ctx))
}

// TestCountingItemReader_SaveStateDisabled は SaveState が false の場合に件数を保存も復元もしないことをテストします。
func TestCountingItemReader_SaveStateDisabled(t *testing.T) {
	ctx := context.Background()
	r := newValidatedReader(t, newStubFactory("a", "b"), nil)
	r.SetSaveState(false)
	ec := core.NewExecutionContext()
	ec.Put("CursorItemReader.read.count", 1)

	require.NoError(t, r.Open(ctx, ec))
	assert.Equal(t, []string{"a", "b"}, readAll(t, ctx, r))

	saved, err := r.GetExecutionContext(ctx)
	require.NoError(t, err)
	count, _ := saved.GetInt("CursorItemReader.read.count")
	assert.Equal(t, 1, count)
	require.NoError(t, r.Close(ctx))
}

// TestCountingItemReader_Name は名前が ExecutionContext のキー接頭辞になることをテストします。
func TestCountingItemReader_Name(t *testing.T) {
	ctx := context.Background()
	r := reader.NewCursorItemReader(reader.CursorItemReaderConfig[string]{
		Name:           "userReader",
		QueryID:        "users.findUsers",
		SessionFactory: newStubFactory("a"),
	})
	require.NoError(t, r.Validate())
	require.NoError(t, r.Open(ctx, nil))
	_, err := r.Read(ctx)
	require.NoError(t, err)

	saved, err := r.GetExecutionContext(ctx)
	require.NoError(t, err)
	_, ok := saved.Get("userReader.read.count")
	assert.True(t, ok)
	require.NoError(t, r.Close(ctx))
}

// TestNewCursorItemReaderFromConfig は設定ファイルの値がリーダーに反映されることをテストします。
func TestNewCursorItemReaderFromConfig(t *testing.T) {
	ctx := context.Background()
	saveState := false
	rc := config.ReaderConfig{
		QueryID:         "users.findUsers",
		ParameterValues: map[string]any{"status": "ACTIVE"},
		MaxItemCount:    1,
		SaveState:       &saveState,
	}
	f := newStubFactory("a", "b")

	r, err := reader.NewCursorItemReaderFromConfig[string]("userReader", rc, f)
	require.NoError(t, err)
	assert.Equal(t, reader.StateValidated, r.State())
	assert.Equal(t, "userReader", r.Name())

	require.NoError(t, r.Open(ctx, nil))
	assert.Equal(t, []string{"a"}, readAll(t, ctx, r))
	assert.Equal(t, "ACTIVE", f.lastSession().parameters["status"])
	require.NoError(t, r.Close(ctx))

	_, err = reader.NewCursorItemReaderFromConfig[string]("userReader", config.ReaderConfig{}, f)
	assert.ErrorIs(t, err, exception.ErrInvalidConfiguration)
}

// TestCountingItemReader_RestartJumpFailure は読み飛ばし中のエラーでセッションとカーソルが解放されることをテストします。
func TestCountingItemReader_RestartJumpFailure(t *testing.T) {
	ctx := context.Background()
	iterErr := errors.New("network read failed")
	f := newStubFactory("a")
	f.newSession = func(log *callLog) *stubSession {
		return &stubSession{log: log, cursor: &stubCursor{log: log, items: []string{"a"}, iterErr: iterErr}}
	}
	r := newValidatedReader(t, f, nil)
	ec := core.NewExecutionContext()
	ec.Put("CursorItemReader.read.count", 2)

	err := r.Open(ctx, ec)
	assert.Same(t, iterErr, err)
	assert.Equal(t, []string{"factory.OpenSession", "session.SelectCursor", "cursor.Close", "session.Close"}, f.log.calls)
	assert.Equal(t, reader.StateClosed, r.State())
	assert.Equal(t, 0, r.CurrentItemCount())

	// 解放済みのため、件数なしで再度開ける
	require.NoError(t, r.Open(ctx, core.NewExecutionContext()))
	require.NoError(t, r.Close(ctx))
}
