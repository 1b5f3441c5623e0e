package gallery

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/squall008/dougagallery/internal/database"
)

// createCategoryRequest はカテゴリ作成リクエスト。JSONとフォームの両方を受け付ける。
type createCategoryRequest struct {
	Name        string `json:"name" form:"name"`
	Description string `json:"description" form:"description"`
}

// handleListCategories はカテゴリを名前順で返すハンドラを返す。
func (s *Server) handleListCategories() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.db.Query(c.Request.Context(), "SELECT * FROM categories ORDER BY name")
		if err != nil {
			log.Printf("カテゴリ一覧の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"categories": res.Rows})
	}
}

// handleCreateCategory はカテゴリを作成するハンドラを返す。
// 同名のカテゴリが存在する場合は400を返す。
func (s *Server) handleCreateCategory() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createCategoryRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "カテゴリ名は必須です"})
			return
		}
		var description any
		if req.Description != "" {
			description = req.Description
		}

		res, err := s.db.Query(c.Request.Context(),
			"INSERT INTO categories (name, description) VALUES ($1, $2) RETURNING *",
			req.Name, description,
		)
		if err != nil {
			if database.IsUniqueViolation(err) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "このカテゴリ名は既に存在します"})
				return
			}
			log.Printf("カテゴリの作成に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}
		if len(res.Rows) == 0 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"category": res.Rows[0]})
	}
}
