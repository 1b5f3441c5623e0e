package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// スキーマ定義。migrations/postgres/000001_init.up.sql と同期すること。
// 各文は何度実行しても安全。
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    email TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS categories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    description TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS videos (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    category_id INTEGER,
    title TEXT NOT NULL,
    description TEXT,
    filename TEXT NOT NULL,
    file_path TEXT NOT NULL,
    file_size INTEGER,
    duration INTEGER,
    thumbnail_path TEXT,
    views INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    -- カテゴリ削除時は動画を残し、参照のみNULLにする
    FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE SET NULL
)`,
	`CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS video_tags (
    video_id INTEGER NOT NULL,
    tag_id INTEGER NOT NULL,
    PRIMARY KEY (video_id, tag_id),
    FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE,
    FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS favorites (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    video_id INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(user_id, video_id),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE
)`,
	`CREATE INDEX IF NOT EXISTS idx_videos_user_id ON videos(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_videos_category_id ON videos(category_id)`,
	`CREATE INDEX IF NOT EXISTS idx_favorites_user_id ON favorites(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_video_tags_video_id ON video_tags(video_id)`,
	`CREATE INDEX IF NOT EXISTS idx_video_tags_tag_id ON video_tags(tag_id)`,
}

// SeedCategories は初期カテゴリ（名前, 説明）。
var SeedCategories = [][2]string{
	{"エンターテイメント", "エンターテイメント関連の動画"},
	{"教育", "教育・学習関連の動画"},
	{"音楽", "音楽関連の動画"},
	{"スポーツ", "スポーツ関連の動画"},
	{"ゲーム", "ゲーム関連の動画"},
	{"その他", "その他の動画"},
}

// AnonymousUserID は暗黙の匿名ユーザーのID。全リクエストはこのユーザーとして扱われる。
const AnonymousUserID = 1

// InitSchema はテーブルとインデックスを無条件に作成し、
// カテゴリが空の場合のみ初期カテゴリを、ユーザーが空の場合のみ匿名ユーザーを投入する。
// 失敗した場合はエラーを返し、起動を中止させる。
func (s *SQLite) InitSchema(ctx context.Context) error {
	for _, ddl := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			log.Printf("[Schema] DDLの実行に失敗: %v", err)
			return fmt.Errorf("スキーマの適用に失敗: %w", err)
		}
	}

	empty, err := s.isEmpty(ctx, "categories")
	if err != nil {
		return err
	}
	if empty {
		for _, c := range SeedCategories {
			if _, err := s.Query(ctx, "INSERT INTO categories (name, description) VALUES ($1, $2)", c[0], c[1]); err != nil {
				return fmt.Errorf("初期カテゴリの投入に失敗: %w", err)
			}
		}
		log.Println("[Schema] 初期カテゴリを投入しました")
	}

	empty, err = s.isEmpty(ctx, "users")
	if err != nil {
		return err
	}
	if empty {
		if _, err := s.Query(ctx,
			"INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3)",
			"anonymous", "anonymous@example.com", "no-password",
		); err != nil {
			return fmt.Errorf("匿名ユーザーの作成に失敗: %w", err)
		}
		log.Println("[Schema] デフォルトの匿名ユーザーを作成しました")
	}

	log.Println("[Schema] データベースを初期化しました (SQLite)")
	return nil
}

// isEmpty はテーブルが空かを判定する。
func (s *SQLite) isEmpty(ctx context.Context, table string) (bool, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n); err != nil {
		return false, fmt.Errorf("%sの件数取得に失敗: %w", table, err)
	}
	return n == 0, nil
}

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// InitSchema はマーカーテーブル（users）の有無を確認し、存在しない場合のみ
// 埋め込みのDDLスクリプトをgolang-migrateで適用する。
// 失敗した場合はSQLiteと同様にエラーを返し、起動を中止させる。
func (p *Postgres) InitSchema(ctx context.Context) error {
	var exists bool
	if err := p.pool.QueryRow(ctx, "SELECT to_regclass('public.users') IS NOT NULL").Scan(&exists); err != nil {
		log.Printf("[Schema] PostgreSQL: マーカーテーブルの確認に失敗: %v", err)
		return fmt.Errorf("マーカーテーブルの確認に失敗: %w", err)
	}
	if exists {
		return nil
	}

	log.Println("[Schema] PostgreSQL: スキーマを初期化します...")
	if err := applyMigrations(p.url); err != nil {
		log.Printf("[Schema] PostgreSQL: 初期化に失敗: %v", err)
		return err
	}
	log.Println("[Schema] PostgreSQL: スキーマを初期化しました")
	return nil
}

// applyMigrations は埋め込みのマイグレーションをpgx5ドライバーで適用する。
func applyMigrations(url string) error {
	source, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("マイグレーションソースの作成に失敗: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(url))
	if err != nil {
		return fmt.Errorf("マイグレーションの初期化に失敗: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("マイグレーションの適用に失敗: %w", err)
	}
	return nil
}

// migrateURL はpostgres:// 形式の接続文字列をgolang-migrateのpgx5ドライバー形式に変換する。
func migrateURL(url string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if rest, ok := strings.CutPrefix(url, prefix); ok {
			return "pgx5://" + rest
		}
	}
	return url
}
