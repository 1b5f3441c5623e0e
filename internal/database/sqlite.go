package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite は組み込みSQLiteをバックエンドとするDB実装。
// ネイティブのRETURNING句を使わず、プレースホルダー変換とRETURNINGエミュレーションを経由して実行する。
//
// 接続は1本に制限しており、同時に発行された書き込みは並列実行されず順番待ちになる。
type SQLite struct {
	// db は接続数1のdatabase/sqlハンドル。
	db *sql.DB
	// debug がtrueの場合、変換後のSQLをログ出力する。
	debug bool
}

var _ DB = (*SQLite)(nil)

// querier は *sql.DB と固定した *sql.Conn の共通部分。
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// upsertPattern は競合時に既存行を更新するINSERTを検出する。
// この経路では last_insert_rowid() が更新されない。
var upsertPattern = regexp.MustCompile(`(?is)\bON\s+CONFLICT\b.*\bDO\s+UPDATE\b`)

// rowidMarker はupsertの実行前に last_insert_rowid() へ書き込む値。
// AUTOINCREMENTのテーブルが割り当てることはない。
const rowidMarker int64 = math.MinInt64

// OpenSQLite はSQLiteデータベースを開く。pathに ":memory:" を指定するとインメモリDBになる。
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("SQLiteデータベース接続に失敗: %w", err)
	}
	// SQLiteは複数の書き込み接続を安全に扱えないため、共有接続1本に直列化する。
	// インメモリDBでも全呼び出しが同じデータベースを参照する。
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &SQLite{db: db}, nil
}

// sqliteDSN は外部キー制約とビジータイムアウトを有効にしたDSNを返す。
func sqliteDSN(path string) string {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	return dsn
}

// Backend はBackendSQLiteを返す。
func (s *SQLite) Backend() Backend { return BackendSQLite }

// Ping は接続を確認する。
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close は接続を閉じる。
func (s *SQLite) Close() error { return s.db.Close() }

// Query はPostgreSQL形式のSQLをSQLite向けに変換して実行する。
func (s *SQLite) Query(ctx context.Context, text string, args ...any) (*Result, error) {
	return s.query(ctx, "", text, args)
}

// QueryInto はRETURNINGエミュレーションの再取得先テーブルを明示してクエリを実行する。
func (s *SQLite) QueryInto(ctx context.Context, table, text string, args ...any) (*Result, error) {
	return s.query(ctx, table, text, args)
}

// query は 変換 → RETURNING検出 → 文の種類による振り分け を行う。
func (s *SQLite) query(ctx context.Context, table, text string, args []any) (res *Result, err error) {
	start := time.Now()
	defer func() { observe(BackendSQLite, start, err) }()

	stmt, params, err := TranslatePlaceholders(strings.TrimSpace(text), args)
	if err != nil {
		return nil, err
	}
	stmt, returning := splitReturning(stmt)

	if s.debug {
		log.Printf("[DB] SQLite: %s (RETURNING=%t, 値の数=%d)", stmt, returning, len(params))
	}

	if isSelect(stmt) {
		return selectRows(ctx, s.db, stmt, params)
	}

	// テーブル名の推測は書き込み前に済ませ、曖昧な文を半端に実行しない。
	emulate := returning && isInsert(stmt)
	if emulate && table == "" {
		table, err = InferTable(stmt)
		if err != nil {
			return nil, fmt.Errorf("RETURNING句のエミュレーションに失敗: %w", err)
		}
	}

	// 再取得は書き込みと同じ接続で行う必要がある。接続数は1なので、固定中は他の呼び出しが待つ。
	var q querier = s.db
	if emulate {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("接続の取得に失敗: %w", err)
		}
		defer func() { _ = conn.Close() }()
		q = conn
	}
	upsert := emulate && upsertPattern.MatchString(stmt)
	if upsert {
		if err := markRowid(ctx, q); err != nil {
			return nil, err
		}
	}

	r, err := q.ExecContext(ctx, stmt, params...)
	if err != nil {
		// 一意制約違反などの判定ができるよう、ドライバーのエラーをそのまま返す。
		return nil, err
	}
	affected, err := r.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("影響行数の取得に失敗: %w", err)
	}

	res = &Result{Rows: []Row{}, RowCount: affected}
	if !emulate || affected == 0 {
		return res, nil
	}

	id, err := r.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: rowidの取得に失敗: %w", ErrReturningFetch, err)
	}
	if upsert && id == rowidMarker {
		// 既存行が更新された。更新対象のrowidは取得できないため行は返さない。
		if s.debug {
			log.Printf("[DB] upsertが既存行を更新したため再取得を省略: table=%s", table)
		}
		return res, nil
	}

	rows, err := fetchInserted(ctx, q, table, id)
	if err != nil {
		log.Printf("[DB] 挿入行の再取得に失敗（書き込みは確定済み）: table=%s: %v", table, err)
		return nil, err
	}
	res.Rows = rows
	return res, nil
}

// markRowid は接続の last_insert_rowid() をrowidMarkerに置き換える。
func markRowid(ctx context.Context, q querier) error {
	if _, err := q.ExecContext(ctx, "CREATE TEMP TABLE IF NOT EXISTS rowid_marker (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("rowidマーカーの作成に失敗: %w", err)
	}
	if _, err := q.ExecContext(ctx, "INSERT OR REPLACE INTO temp.rowid_marker (id) VALUES (?)", rowidMarker); err != nil {
		return fmt.Errorf("rowidマーカーの書き込みに失敗: %w", err)
	}
	return nil
}

// fetchInserted は直前のINSERTで作成された行をrowidで再取得する。
// 複数行INSERTの場合は最後の1行のみ取得できる。
func fetchInserted(ctx context.Context, q querier, table string, id int64) ([]Row, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: rowidが割り当てられていません", ErrReturningFetch)
	}

	fetched, err := selectRows(ctx, q, "SELECT * FROM "+quoteIdent(table)+" WHERE rowid = ?", []any{id})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReturningFetch, err)
	}
	return fetched.Rows, nil
}

// selectRows は複数行の読み取りを実行する。RowCountは取得行数になる。
func selectRows(ctx context.Context, q querier, stmt string, params []any) (*Result, error) {
	rows, err := q.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("カラム情報の取得に失敗: %w", err)
	}

	out := []Row{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("行の読み取りに失敗: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Result{Rows: out, RowCount: int64(len(out))}, nil
}
