// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config は動画ギャラリーサーバーの設定。
type Config struct {
	// --- サーバー ---

	// Port はHTTPサーバーのリッスンポート。
	Port string
	// CORSOrigins はクロスオリジンリクエストを許可するオリジン。
	CORSOrigins []string

	// --- データベース ---

	// DatabaseURL はPostgreSQLの接続URL。空の場合はSQLiteを使用する。
	DatabaseURL string
	// SQLitePath はSQLiteデータベースファイルのパス。
	SQLitePath string
	// DBDebug はクエリのデバッグログを有効にする。
	DBDebug bool

	// --- ストレージ ---

	// UploadDir はアップロードされた動画の保存先ディレクトリ。
	UploadDir string
	// MaxUploadSize はアップロード可能な最大バイト数。
	MaxUploadSize int64

	// StreamCacheSize は動画ID→ファイルパスのキャッシュ件数。
	StreamCacheSize int
}

// Load は環境変数から設定を読み込む。
// 値が不正な場合は変数名を含むエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// PORT: HTTPポート（デフォルト 5000）
	port, err := getEnvInt("PORT", 5000)
	if err != nil {
		return nil, fmt.Errorf("PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("PORT: 範囲外のポート番号です: %d", port)
	}
	cfg.Port = strconv.Itoa(port)

	// CORS_ORIGINS: カンマ区切り
	cfg.CORSOrigins = splitList(getEnvDefault("CORS_ORIGINS", "http://localhost:5173"))

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SQLitePath = getEnvDefault("SQLITE_PATH", "data/video_gallery.db")

	cfg.DBDebug, err = getEnvBool("DB_DEBUG", false)
	if err != nil {
		return nil, fmt.Errorf("DB_DEBUG: %w", err)
	}

	cfg.UploadDir = getEnvDefault("UPLOAD_DIR", "uploads")

	// MAX_UPLOAD_SIZE: バイト数（デフォルト 500MB）
	cfg.MaxUploadSize, err = getEnvInt64("MAX_UPLOAD_SIZE", 500<<20)
	if err != nil {
		return nil, fmt.Errorf("MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_SIZE: 値は0より大きくなければなりません")
	}

	cfg.StreamCacheSize, err = getEnvInt("STREAM_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("STREAM_CACHE_SIZE: %w", err)
	}
	if cfg.StreamCacheSize <= 0 {
		return nil, fmt.Errorf("STREAM_CACHE_SIZE: 値は0より大きくなければなりません")
	}

	return cfg, nil
}

// getEnvDefault は環境変数の値、未設定ならデフォルト値を返す。
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("不正な整数です: %q", val)
	}
	return n, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("不正な整数です: %q", val)
	}
	return n, nil
}

// getEnvBool は true/false/1/0 を受け付ける。
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("不正な真偽値です: %q（true, false, 1, 0）", val)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
