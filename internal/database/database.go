package database

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Backend は選択された物理エンジンの種類を表す。
type Backend string

const (
	// BackendPostgres はPostgreSQL（pgxpool経由）を表す。
	BackendPostgres Backend = "postgres"
	// BackendSQLite は組み込みSQLite（modernc.org/sqlite）を表す。
	BackendSQLite Backend = "sqlite"
)

// Row は1行分の結果。カラム名から値へのマップ。
type Row map[string]any

// Result はクエリ結果。
// 読み取りではRowCountはlen(Rows)と等しく、書き込みでは影響を受けた行数を表す。
type Result struct {
	// Rows は結果行（取得順）。
	Rows []Row `json:"rows"`
	// RowCount は返却行数または影響行数。
	RowCount int64 `json:"rowCount"`
}

// DB は全バックエンド共通のクエリ契約。
// 並行する呼び出し元から安全に使用できる。
type DB interface {
	// Query は$n形式のプレースホルダーを持つSQLを実行する。
	Query(ctx context.Context, text string, args ...any) (*Result, error)
	// QueryInto はQueryと同じだが、RETURNINGエミュレーションで再取得するテーブル名を明示する。
	// テーブル名の推測が曖昧になる文（INSERT ... SELECT ... FROM など）で使用する。
	QueryInto(ctx context.Context, table, text string, args ...any) (*Result, error)
	// InitSchema はテーブル・インデックスを作成し、初期データを投入する。起動時に一度だけ呼ぶ。
	InitSchema(ctx context.Context) error
	// Backend は選択されたバックエンドを返す。
	Backend() Backend
	// Ping は接続を確認する。
	Ping(ctx context.Context) error
	// Close は接続（プール）を解放する。
	Close() error
}

// Options はバックエンド選択のための設定。
type Options struct {
	// PostgresURL が空でなければPostgreSQLを使用する。
	PostgresURL string
	// SQLitePath はPostgresURLが空の場合に使用するSQLiteファイルのパス。
	SQLitePath string
	// Debug がtrueの場合、SQLiteの変換後SQLをログ出力する。
	Debug bool
}

// Open は設定に従ってバックエンドを一度だけ選択し、接続を確立する。
// 接続文字列があればPostgreSQL、なければ組み込みSQLiteを使用する。
func Open(ctx context.Context, opts Options) (DB, error) {
	if opts.PostgresURL != "" {
		log.Printf("[DB] データベースURLを検出しました: %s", RedactURL(opts.PostgresURL))
		db, err := OpenPostgres(ctx, opts.PostgresURL)
		if err != nil {
			return nil, err
		}
		log.Println("[DB] PostgreSQLに接続しました")
		return db, nil
	}

	if opts.SQLitePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(opts.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("データディレクトリの作成に失敗: %w", err)
		}
	}
	db, err := OpenSQLite(opts.SQLitePath)
	if err != nil {
		return nil, err
	}
	db.debug = opts.Debug
	log.Printf("[DB] SQLiteに接続しました: %s", opts.SQLitePath)
	return db, nil
}

// dsnPasswordPattern はキーワード形式のDSN（host=... password=...）のパスワードにマッチする。
var dsnPasswordPattern = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|\S+)`)

// RedactURL は接続文字列のパスワードを伏字にする。
// URL形式として解析できない場合は、最後の@より前の認証情報をまとめて伏せる。
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		scheme, rest, ok := strings.Cut(raw, "://")
		if at := strings.LastIndex(rest, "@"); ok && at >= 0 {
			return scheme + "://xxxxx@" + rest[at+1:]
		}
		return dsnPasswordPattern.ReplaceAllString(raw, "${1}xxxxx")
	}
	if u.Scheme == "" {
		return dsnPasswordPattern.ReplaceAllString(raw, "${1}xxxxx")
	}
	if q := u.Query(); q.Has("password") {
		q.Set("password", "xxxxx")
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}

// isSelect は文がSELECTで始まるかを大文字小文字を区別せずに判定する。
func isSelect(text string) bool {
	return hasKeywordPrefix(text, "SELECT")
}

// isInsert は文がINSERTで始まるかを判定する。
func isInsert(text string) bool {
	return hasKeywordPrefix(text, "INSERT")
}

func hasKeywordPrefix(text, keyword string) bool {
	s := strings.TrimSpace(text)
	return len(s) >= len(keyword) && strings.EqualFold(s[:len(keyword)], keyword)
}
