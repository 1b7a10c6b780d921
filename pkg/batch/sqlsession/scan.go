package sqlsession

import (
	"database/sql"
	"reflect"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
)

// rowMapper は現在行を T に変換する関数です。
type rowMapper[T any] func(rows *sqlx.Rows) (T, error)

// newRowMapper は T の形に応じたマッピング方法を選択します。
//   - map[string]any (およびその名前付き型): カラム名をキーにしたマップ
//   - 構造体、構造体へのポインタ: db タグによるカラムとフィールドの対応付け
//   - それ以外 (スカラー、sql.Scanner、time.Time): 単一カラムの Scan
func newRowMapper[T any]() rowMapper[T] {
	t := reflect.TypeOf((*T)(nil)).Elem()

	switch {
	case t.Kind() == reflect.Map && t.Key().Kind() == reflect.String && t.Elem().Kind() == reflect.Interface:
		return func(rows *sqlx.Rows) (T, error) {
			var zero T
			m := make(map[string]any)
			if err := rows.MapScan(m); err != nil {
				return zero, err
			}
			return reflect.ValueOf(m).Convert(t).Interface().(T), nil
		}
	case isStructTarget(t):
		return func(rows *sqlx.Rows) (T, error) {
			var item T
			err := rows.StructScan(&item)
			return item, err
		}
	case t.Kind() == reflect.Ptr && isStructTarget(t.Elem()):
		return func(rows *sqlx.Rows) (T, error) {
			v := reflect.New(t.Elem())
			if err := rows.StructScan(v.Interface()); err != nil {
				var zero T
				return zero, err
			}
			return v.Interface().(T), nil
		}
	default:
		return func(rows *sqlx.Rows) (T, error) {
			var item T
			err := rows.Scan(&item)
			return item, err
		}
	}
}

func isStructTarget(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t != timeType && !reflect.PointerTo(t).Implements(scannerType)
}
