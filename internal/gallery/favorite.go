package gallery

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/squall008/dougagallery/pkg/middleware"
)

// handleListFavorites はお気に入りに登録した動画を新しい順に返すハンドラを返す。
func (s *Server) handleListFavorites() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.db.Query(c.Request.Context(), `SELECT v.*, u.username, c.name AS category_name
FROM favorites f
JOIN videos v ON f.video_id = v.id
JOIN users u ON v.user_id = u.id
LEFT JOIN categories c ON v.category_id = c.id
WHERE f.user_id = $1
ORDER BY f.created_at DESC, f.id DESC`, middleware.GetUserID(c))
		if err != nil {
			log.Printf("お気に入り一覧の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"favorites": res.Rows})
	}
}

// handleAddFavorite は動画をお気に入りに追加するハンドラを返す。
// 登録済みの場合も成功として扱う。
func (s *Server) handleAddFavorite() gin.HandlerFunc {
	return func(c *gin.Context) {
		videoID, ok := parseIDParam(c, "videoId")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "動画IDが不正です"})
			return
		}

		ctx := c.Request.Context()
		check, err := s.db.Query(ctx, "SELECT id FROM videos WHERE id = $1", videoID)
		if err != nil {
			log.Printf("動画の確認に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}
		if len(check.Rows) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "動画が見つかりません"})
			return
		}

		if _, err := s.db.Query(ctx,
			"INSERT INTO favorites (user_id, video_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			middleware.GetUserID(c), videoID,
		); err != nil {
			log.Printf("お気に入りの追加に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"message": "お気に入りに追加しました"})
	}
}

// handleRemoveFavorite は動画をお気に入りから削除するハンドラを返す。
func (s *Server) handleRemoveFavorite() gin.HandlerFunc {
	return func(c *gin.Context) {
		videoID, ok := parseIDParam(c, "videoId")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "動画IDが不正です"})
			return
		}

		if _, err := s.db.Query(c.Request.Context(),
			"DELETE FROM favorites WHERE user_id = $1 AND video_id = $2",
			middleware.GetUserID(c), videoID,
		); err != nil {
			log.Printf("お気に入りの削除に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "お気に入りから削除しました"})
	}
}

// handleCheckFavorite は動画がお気に入り登録済みかを返すハンドラを返す。
func (s *Server) handleCheckFavorite() gin.HandlerFunc {
	return func(c *gin.Context) {
		videoID, ok := parseIDParam(c, "videoId")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "動画IDが不正です"})
			return
		}

		res, err := s.db.Query(c.Request.Context(),
			"SELECT id FROM favorites WHERE user_id = $1 AND video_id = $2",
			middleware.GetUserID(c), videoID,
		)
		if err != nil {
			log.Printf("お気に入り状態の確認に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"isFavorite": len(res.Rows) > 0})
	}
}
