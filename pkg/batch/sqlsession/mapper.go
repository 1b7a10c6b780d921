package sqlsession

import (
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/go_cursor_batch/pkg/batch/database"
	"github.com/tigerroll/go_cursor_batch/pkg/batch/util/logger"
)

func init() {
	// sqlx が知らないドライバ名のプレースホルダ形式を登録する
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
	sqlx.BindDriver("snowflake", sqlx.QUESTION)
}

// MappedStatement は識別子で事前登録された SQL です。
// SQL 中の :name は実行時にパラメータマップ (またはアイテムの db タグ) から束縛されます。
type MappedStatement struct {
	Namespace string
	ID        string
	SQL       string
	Timeout   time.Duration
}

// FullID は namespace.id 形式の識別子を返します。
func (ms *MappedStatement) FullID() string {
	if ms.Namespace == "" {
		return ms.ID
	}
	return ms.Namespace + "." + ms.ID
}

type mapperFile struct {
	Namespace  string `yaml:"namespace"`
	Statements []struct {
		ID             string `yaml:"id"`
		SQL            string `yaml:"sql"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"statements"`
}

// Configuration はマップドステートメントの登録簿と、セッションが使用するデータベース接続を保持します。
// 複数の型の SqlSessionFactory で共有できます。
type Configuration struct {
	db     database.DBConnection
	mapper *reflectx.Mapper

	mu         sync.RWMutex
	statements map[string]*MappedStatement
}

// NewConfiguration は db を使用する空の Configuration を作成します。
func NewConfiguration(db database.DBConnection) *Configuration {
	return &Configuration{
		db:         db,
		mapper:     reflectx.NewMapperFunc("db", sqlx.NameMapper),
		statements: make(map[string]*MappedStatement),
	}
}

// Database は基盤のデータベース接続を返します。
func (c *Configuration) Database() database.DBConnection {
	return c.db
}

// AddMappedStatement はステートメントを登録します。同じ完全修飾 ID の二重登録はエラーです。
func (c *Configuration) AddMappedStatement(ms *MappedStatement) error {
	if ms == nil || ms.ID == "" {
		return errors.New("mapped statement id is empty")
	}
	if strings.TrimSpace(ms.SQL) == "" {
		return errors.Errorf("mapped statement '%s' has empty sql", ms.FullID())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.statements[ms.FullID()]; exists {
		return errors.Wrapf(ErrDuplicateStatement, "mapped statement '%s'", ms.FullID())
	}
	c.statements[ms.FullID()] = ms
	logger.Debugf("マップドステートメント '%s' を登録しました。", ms.FullID())
	return nil
}

// MappedStatement は ID でステートメントを検索します。
// 完全修飾 ID に一致しない場合、名前空間を除いた短い ID が一意であればそれを返します。
func (c *Configuration) MappedStatement(id string) (*MappedStatement, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ms, ok := c.statements[id]; ok {
		return ms, nil
	}
	var candidates []string
	for fullID, ms := range c.statements {
		if ms.ID == id {
			candidates = append(candidates, fullID)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, errors.Wrapf(ErrStatementNotFound, "mapped statement '%s'", id)
	case 1:
		return c.statements[candidates[0]], nil
	default:
		sort.Strings(candidates)
		return nil, errors.Wrapf(ErrAmbiguousStatement, "mapped statement '%s' matches %s", id, strings.Join(candidates, ", "))
	}
}

// HasStatement は ID が解決可能かどうかを返します。
func (c *Configuration) HasStatement(id string) bool {
	_, err := c.MappedStatement(id)
	return err == nil
}

// LoadMapper は YAML 形式のマッパー定義を読み込み、含まれるステートメントを登録します。
func (c *Configuration) LoadMapper(data []byte) error {
	var mf mapperFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return errors.Wrap(err, "failed to parse mapper")
	}
	for _, s := range mf.Statements {
		ms := &MappedStatement{
			Namespace: mf.Namespace,
			ID:        s.ID,
			SQL:       s.SQL,
			Timeout:   time.Duration(s.TimeoutSeconds) * time.Second,
		}
		if err := c.AddMappedStatement(ms); err != nil {
			return err
		}
	}
	logger.Infof("マッパー '%s' から %d 件のステートメントを読み込みました。", mf.Namespace, len(mf.Statements))
	return nil
}

// LoadMapperFile はファイルからマッパー定義を読み込みます。
func (c *Configuration) LoadMapperFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read mapper file %s", path)
	}
	return errors.WithMessagef(c.LoadMapper(data), "mapper file %s", path)
}

// Bind はステートメントの名前付きパラメータを arg (map または db タグ付き構造体) から束縛し、
// ドライバのプレースホルダ形式に変換したクエリと引数を返します。
func (c *Configuration) Bind(id string, arg any) (*MappedStatement, string, []any, error) {
	ms, err := c.MappedStatement(id)
	if err != nil {
		return nil, "", nil, err
	}
	if arg == nil {
		arg = map[string]any{}
	}
	query, args, err := sqlx.Named(ms.SQL, arg)
	if err != nil {
		return nil, "", nil, errors.Wrapf(err, "failed to bind parameters of '%s'", ms.FullID())
	}
	return ms, sqlx.Rebind(sqlx.BindType(c.db.DriverName()), query), args, nil
}
