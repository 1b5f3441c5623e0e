// 動画ギャラリーAPIのエントリポイント。
// DATABASE_URLが設定されていればPostgreSQL、なければSQLiteファイルを使用し、
// スキーマを初期化してからHTTPサーバーを起動する。
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/squall008/dougagallery/internal/config"
	"github.com/squall008/dougagallery/internal/database"
	"github.com/squall008/dougagallery/internal/gallery"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("動画ギャラリーAPIの起動に失敗: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	ctx := context.Background()
	db, err := database.Open(ctx, database.Options{
		PostgresURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		Debug:       cfg.DBDebug,
	})
	if err != nil {
		return fmt.Errorf("データベース接続に失敗: %w", err)
	}
	defer db.Close()

	// スキーマ初期化の失敗はどちらのバックエンドでも起動を中止する
	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	server, err := gallery.NewServer(cfg, db)
	if err != nil {
		return fmt.Errorf("サーバーの初期化に失敗: %w", err)
	}

	log.Printf("動画ギャラリーAPIを起動します: :%s (database=%s)", cfg.Port, db.Backend())
	return server.Run()
}
