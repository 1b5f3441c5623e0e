package gallery

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/squall008/dougagallery/internal/database"
)

type createTagRequest struct {
	Name string `json:"name" form:"name"`
}

// handleListTags はタグを名前順で返すハンドラを返す。
func (s *Server) handleListTags() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.db.Query(c.Request.Context(), "SELECT * FROM tags ORDER BY name")
		if err != nil {
			log.Printf("タグ一覧の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tags": res.Rows})
	}
}

// handleCreateTag はタグを作成するハンドラを返す。
func (s *Server) handleCreateTag() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createTagRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "タグ名は必須です"})
			return
		}

		res, err := s.db.Query(c.Request.Context(), "INSERT INTO tags (name) VALUES ($1) RETURNING *", req.Name)
		if err != nil {
			if database.IsUniqueViolation(err) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "このタグは既に存在します"})
				return
			}
			log.Printf("タグの作成に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}
		if len(res.Rows) == 0 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"tag": res.Rows[0]})
	}
}
