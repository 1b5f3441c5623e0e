package gallery

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/squall008/dougagallery/internal/config"
	"github.com/squall008/dougagallery/internal/database"
	"github.com/squall008/dougagallery/pkg/middleware"
)

// multipartMemory はマルチパート解析時にメモリに保持する上限。超えた分は一時ファイルに書き出される。
const multipartMemory = 32 << 20

// Server は動画ギャラリーのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はバックエンドを抽象化したデータベース。
	db database.DB
	// uploadDir は動画ファイルの保存先。
	uploadDir string
	// maxUploadSize はアップロード可能な最大バイト数。
	maxUploadSize int64
	// filePaths は動画IDからファイルパスへのキャッシュ。配信時のDB問い合わせを省く。
	filePaths *lru.Cache[int64, string]
}

// NewServer は新しい動画ギャラリーサーバーを生成する。
// アップロードディレクトリの初期化も行う。スキーマの初期化は呼び出し側で済ませておくこと。
func NewServer(cfg *config.Config, db database.DB) (*Server, error) {
	if err := initStorage(cfg.UploadDir); err != nil {
		return nil, fmt.Errorf("ストレージ初期化に失敗: %w", err)
	}

	cache, err := lru.New[int64, string](cfg.StreamCacheSize)
	if err != nil {
		return nil, fmt.Errorf("キャッシュの作成に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.MaxMultipartMemory = multipartMemory

	s := &Server{
		router:        router,
		port:          cfg.Port,
		db:            db,
		uploadDir:     cfg.UploadDir,
		maxUploadSize: cfg.MaxUploadSize,
		filePaths:     cache,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	api.Use(middleware.AnonymousPrincipal(database.AnonymousUserID))
	{
		videos := api.Group("/videos")
		{
			// 動画一覧（検索・フィルタ・ページング）
			videos.GET("", s.handleListVideos())
			// 動画詳細（閲覧数を加算）
			videos.GET("/:id", s.handleGetVideo())
			// 動画アップロード（マルチパートフォーム）
			videos.POST("", s.handleUploadVideo())
			videos.PUT("/:id", s.handleUpdateVideo())
			videos.DELETE("/:id", s.handleDeleteVideo())
			// 動画ファイル配信（Range対応）
			videos.GET("/:id/stream", s.handleStreamVideo())
		}

		favorites := api.Group("/favorites")
		{
			favorites.GET("", s.handleListFavorites())
			favorites.POST("/:videoId", s.handleAddFavorite())
			favorites.DELETE("/:videoId", s.handleRemoveFavorite())
			favorites.GET("/check/:videoId", s.handleCheckFavorite())
		}

		categories := api.Group("/categories")
		{
			categories.GET("", s.handleListCategories())
			categories.POST("", s.handleCreateCategory())
		}

		tags := api.Group("/tags")
		{
			tags.GET("", s.handleListTags())
			tags.POST("", s.handleCreateTag())
		}
	}

	// アップロード済みファイルの静的配信
	s.router.Static("/uploads", s.uploadDir)

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		if err := s.db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "ERROR",
				"message":  "データベースに接続できません",
				"database": string(s.db.Backend()),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "OK",
			"message":  "Video Gallery API is running",
			"database": string(s.db.Backend()),
		})
	})
}
