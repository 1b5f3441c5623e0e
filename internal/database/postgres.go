package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres はPostgreSQLをバックエンドとするDB実装。
// SQLはそのままpgxpoolに渡し、複数のクエリをコネクションプール上で並行に実行する。
type Postgres struct {
	// pool はプロセス全体で共有するコネクションプール。
	pool *pgxpool.Pool
	// url はマイグレーション適用時に使用する接続文字列。
	url string
}

var _ DB = (*Postgres)(nil)

// OpenPostgres はコネクションプールを作成し、pingで疎通を確認する。
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("接続文字列の解析に失敗: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("コネクションプールの作成に失敗: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQLへの接続に失敗: %w", err)
	}

	return &Postgres{pool: pool, url: url}, nil
}

// Backend はBackendPostgresを返す。
func (p *Postgres) Backend() Backend { return BackendPostgres }

// Ping は接続を確認する。
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Close はコネクションプールを閉じる。
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Query はSQLをそのまま実行し、返却行と影響行数を返す。
// ドライバーのエラー（*pgconn.PgError）は変換せずに返す。
func (p *Postgres) Query(ctx context.Context, text string, args ...any) (res *Result, err error) {
	start := time.Now()
	defer func() { observe(BackendPostgres, start, err) }()

	rows, err := p.pool.Query(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := collectRows(rows)
	if err != nil {
		return nil, err
	}

	return &Result{Rows: out, RowCount: rows.CommandTag().RowsAffected()}, nil
}

// QueryInto はPostgreSQLではネイティブのRETURNINGを使うため、tableを無視してQueryを実行する。
func (p *Postgres) QueryInto(ctx context.Context, _ string, text string, args ...any) (*Result, error) {
	return p.Query(ctx, text, args...)
}

// collectRows は全行をカラム名→値のマップとして読み取る。
func collectRows(rows pgx.Rows) ([]Row, error) {
	fields := rows.FieldDescriptions()
	out := []Row{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("行の読み取りに失敗: %w", err)
		}
		row := make(Row, len(fields))
		for i, f := range fields {
			row[f.Name] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
