package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/squall008/dougagallery/internal/database"
	"github.com/squall008/dougagallery/internal/stream"
	"github.com/squall008/dougagallery/pkg/middleware"
)

const (
	defaultPageLimit = 12
	maxPageLimit     = 100
	// maxPage はOFFSETの計算が桁あふれしないためのページ番号の上限。
	maxPage = 100000
)

// videoFilter は動画一覧の検索条件。
type videoFilter struct {
	search     string
	categoryID any
	tagIDs     []int64
}

// where はフィルターをWHERE句の条件とパラメーターに変換する。
// プレースホルダー番号はstartから振る。
func (f videoFilter) where(start int) (string, []any) {
	var sb strings.Builder
	var params []any
	n := start

	if f.search != "" {
		// 同じパラメーターをタイトルと説明の両方で参照する
		fmt.Fprintf(&sb, " AND (v.title LIKE $%d OR v.description LIKE $%d)", n, n)
		params = append(params, "%"+f.search+"%")
		n++
	}
	if f.categoryID != nil {
		fmt.Fprintf(&sb, " AND v.category_id = $%d", n)
		params = append(params, f.categoryID)
		n++
	}
	if len(f.tagIDs) > 0 {
		placeholders := make([]string, len(f.tagIDs))
		for i, id := range f.tagIDs {
			placeholders[i] = "$" + strconv.Itoa(n)
			params = append(params, id)
			n++
		}
		fmt.Fprintf(&sb, " AND v.id IN (SELECT video_id FROM video_tags WHERE tag_id IN (%s))", strings.Join(placeholders, ","))
	}
	return sb.String(), params
}

// orderBy はsortパラメーターをORDER BY句に変換する。未知の値は新しい順。
func orderBy(sort string) string {
	switch sort {
	case "oldest":
		return " ORDER BY v.created_at ASC, v.id ASC"
	case "views":
		return " ORDER BY v.views DESC, v.id DESC"
	default:
		return " ORDER BY v.created_at DESC, v.id DESC"
	}
}

// parseVideoFilter はクエリパラメーターから検索条件を組み立てる。
func parseVideoFilter(c *gin.Context) (videoFilter, error) {
	f := videoFilter{search: strings.TrimSpace(c.Query("search"))}

	categoryID, err := parseOptionalID(c.Query("category"))
	if err != nil {
		return f, fmt.Errorf("カテゴリIDが不正です")
	}
	f.categoryID = categoryID

	if tags := strings.TrimSpace(c.Query("tags")); tags != "" {
		for _, part := range strings.Split(tags, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return f, fmt.Errorf("タグIDが不正です")
			}
			f.tagIDs = append(f.tagIDs, id)
		}
	}
	return f, nil
}

// queryInt は正の整数のクエリパラメーターを返す。不正な値や未指定はdefaultValになる。
func queryInt(c *gin.Context, key string, defaultVal int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 1 {
		return defaultVal
	}
	return n
}

// handleListVideos は動画一覧を返すハンドラを返す。
// search, category, tags（カンマ区切りのタグID）, sort, page, limit に対応する。
func (s *Server) handleListVideos() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseVideoFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		page := queryInt(c, "page", 1)
		if page > maxPage {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ページ番号が大きすぎます（最大%d）", maxPage)})
			return
		}
		limit := min(queryInt(c, "limit", defaultPageLimit), maxPageLimit)
		offset := (page - 1) * limit

		cond, params := filter.where(1)
		text := `SELECT v.*, u.username, c.name AS category_name,
    string_agg(t.name, ',') AS tags_list
FROM videos v
JOIN users u ON v.user_id = u.id
LEFT JOIN categories c ON v.category_id = c.id
LEFT JOIN video_tags vt ON v.id = vt.video_id
LEFT JOIN tags t ON vt.tag_id = t.id
WHERE 1=1` + cond + `
GROUP BY v.id, u.username, c.name` + orderBy(c.Query("sort")) +
			fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(params)+1, len(params)+2)
		params = append(params, limit, offset)

		ctx := c.Request.Context()
		res, err := s.db.Query(ctx, text, params...)
		if err != nil {
			log.Printf("動画一覧の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}

		videos := make([]database.Row, 0, len(res.Rows))
		for _, row := range res.Rows {
			tags := []string{}
			if list, ok := row["tags_list"].(string); ok && list != "" {
				tags = strings.Split(list, ",")
			}
			delete(row, "tags_list")
			row["tags"] = tags
			videos = append(videos, row)
		}

		countCond, countParams := filter.where(1)
		countRes, err := s.db.Query(ctx, "SELECT COUNT(DISTINCT v.id) AS count FROM videos v WHERE 1=1"+countCond, countParams...)
		if err != nil || len(countRes.Rows) == 0 {
			log.Printf("動画件数の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}
		total, _ := asInt64(countRes.Rows[0]["count"])

		c.JSON(http.StatusOK, gin.H{
			"videos": videos,
			"pagination": gin.H{
				"page":       page,
				"limit":      limit,
				"total":      total,
				"totalPages": int64(math.Ceil(float64(total) / float64(limit))),
			},
		})
	}
}

// handleGetVideo は動画詳細を返すハンドラを返す。
// タグは {id, name} の配列で返し、応答後の値として閲覧数を1加算する。
func (s *Server) handleGetVideo() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "動画IDが不正です"})
			return
		}

		ctx := c.Request.Context()
		res, err := s.db.Query(ctx, `SELECT v.*, u.username, c.name AS category_name
FROM videos v
JOIN users u ON v.user_id = u.id
LEFT JOIN categories c ON v.category_id = c.id
WHERE v.id = $1`, id)
		if err != nil {
			log.Printf("動画の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}
		if len(res.Rows) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "動画が見つかりません"})
			return
		}
		video := res.Rows[0]

		tagRes, err := s.db.Query(ctx, `SELECT t.id, t.name FROM tags t
JOIN video_tags vt ON vt.tag_id = t.id
WHERE vt.video_id = $1
ORDER BY t.name`, id)
		if err != nil {
			log.Printf("動画タグの取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}
		tags := make([]gin.H, 0, len(tagRes.Rows))
		for _, t := range tagRes.Rows {
			tags = append(tags, gin.H{"id": t["id"], "name": t["name"]})
		}
		video["tags"] = tags

		if _, err := s.db.Query(ctx, "UPDATE videos SET views = views + 1 WHERE id = $1", id); err != nil {
			log.Printf("閲覧数の更新に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"video": video})
	}
}

// handleUploadVideo は動画のアップロードを処理するハンドラを返す。
// マルチパートフォームの video フィールドのMP4ファイルを保存し、
// title, description, category_id, tags（JSON配列）とともに登録する。
func (s *Server) handleUploadVideo() gin.HandlerFunc {
	return func(c *gin.Context) {
		// フォームの他フィールド分の余裕を持たせて本文サイズを制限する
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadSize+multipartMemory)

		header, err := c.FormFile("video")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": s.tooLargeMessage()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "動画ファイルが必要です"})
			return
		}
		if header.Size > s.maxUploadSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": s.tooLargeMessage()})
			return
		}
		if !isAllowedContentType(header.Header.Get("Content-Type")) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "MP4形式の動画のみアップロード可能です"})
			return
		}

		title := strings.TrimSpace(c.PostForm("title"))
		if title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "タイトルは必須です"})
			return
		}
		categoryID, err := parseOptionalID(c.PostForm("category_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "カテゴリIDが不正です"})
			return
		}
		tags, err := parseTags([]byte(c.PostForm("tags")))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var description any
		if d := c.PostForm("description"); d != "" {
			description = d
		}

		file, err := saveUpload(s.uploadDir, header)
		if err != nil {
			log.Printf("動画ファイルの保存に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ファイルの保存に失敗しました"})
			return
		}

		ctx := c.Request.Context()
		res, err := s.db.Query(ctx,
			`INSERT INTO videos (user_id, category_id, title, description, filename, file_path, file_size)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING *`,
			middleware.GetUserID(c), categoryID, title, description, file.Filename, file.Path, file.Size,
		)
		if err != nil {
			removeFile(file.Path)
			log.Printf("動画の登録に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}
		if len(res.Rows) == 0 {
			removeFile(file.Path)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "動画の保存に成功しましたが、データの取得に失敗しました"})
			return
		}
		video := res.Rows[0]

		videoID, _ := asInt64(video["id"])
		if err := s.attachTags(ctx, videoID, tags); err != nil {
			// 行は登録済みのため、カスケードでタグ関連も消えるよう動画ごと取り消す
			if _, delErr := s.db.Query(ctx, "DELETE FROM videos WHERE id = $1", videoID); delErr != nil {
				log.Printf("登録済み動画の取り消しに失敗: %v", delErr)
			}
			removeFile(file.Path)
			log.Printf("タグの登録に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}

		log.Printf("動画をアップロードしました: id=%d file=%s size=%d", videoID, file.Filename, file.Size)
		c.JSON(http.StatusCreated, gin.H{"video": video})
	}
}

func (s *Server) tooLargeMessage() string {
	return fmt.Sprintf("ファイルサイズが上限を超えています（最大%dMB）", s.maxUploadSize/(1<<20))
}

// attachTags はタグを作成（既存なら再利用）し、動画に関連付ける。
func (s *Server) attachTags(ctx context.Context, videoID int64, tags []string) error {
	for _, name := range tags {
		if _, err := s.db.Query(ctx,
			"INSERT INTO tags (name) VALUES ($1) ON CONFLICT(name) DO UPDATE SET name = EXCLUDED.name",
			name,
		); err != nil {
			return fmt.Errorf("タグ %q の作成に失敗: %w", name, err)
		}

		res, err := s.db.Query(ctx, "SELECT id FROM tags WHERE name = $1", name)
		if err != nil {
			return fmt.Errorf("タグ %q の取得に失敗: %w", name, err)
		}
		if len(res.Rows) == 0 {
			return fmt.Errorf("タグ %q が見つかりません", name)
		}

		if _, err := s.db.Query(ctx,
			"INSERT INTO video_tags (video_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			videoID, res.Rows[0]["id"],
		); err != nil {
			return fmt.Errorf("タグ %q の関連付けに失敗: %w", name, err)
		}
	}
	return nil
}

// updateVideoRequest は動画更新リクエストのJSON構造。
type updateVideoRequest struct {
	// Title は動画のタイトル。
	Title string `json:"title"`
	// Description は動画の説明。空の場合はNULLになる。
	Description string `json:"description"`
	// CategoryID はカテゴリのID。空またはnullの場合はNULLになる。
	CategoryID optionalID `json:"category_id"`
	// Tags はタグ名の配列。省略またはnullの場合はタグを変更しない。
	Tags json.RawMessage `json:"tags"`
}

// handleUpdateVideo は動画情報の更新を処理するハンドラを返す。
// tagsが指定された場合は既存のタグ関連付けを置き換える。
func (s *Server) handleUpdateVideo() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "動画IDが不正です"})
			return
		}

		var req updateVideoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		if req.Title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "タイトルは必須です"})
			return
		}
		// null または省略時はタグを変更しない
		replaceTags := len(req.Tags) > 0 && string(req.Tags) != "null"
		var tags []string
		if replaceTags {
			var err error
			if tags, err = parseTags(req.Tags); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		ctx := c.Request.Context()
		check, err := s.db.Query(ctx, "SELECT id FROM videos WHERE id = $1", id)
		if err != nil {
			log.Printf("動画の確認に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}
		if len(check.Rows) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "動画が見つかりません"})
			return
		}

		var description any
		if req.Description != "" {
			description = req.Description
		}
		if _, err := s.db.Query(ctx,
			`UPDATE videos SET title = $1, description = $2, category_id = $3, updated_at = CURRENT_TIMESTAMP
WHERE id = $4`,
			req.Title, description, req.CategoryID.value, id,
		); err != nil {
			log.Printf("動画の更新に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}

		if replaceTags {
			if _, err := s.db.Query(ctx, "DELETE FROM video_tags WHERE video_id = $1", id); err != nil {
				log.Printf("タグ関連付けの削除に失敗: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
				return
			}
			if err := s.attachTags(ctx, id, tags); err != nil {
				log.Printf("タグの登録に失敗: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"message": "動画を更新しました"})
	}
}

// handleDeleteVideo は動画の削除を処理するハンドラを返す。
// ファイルを削除した後に行を削除し、タグ関連付けとお気に入りはカスケードで消える。
func (s *Server) handleDeleteVideo() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "動画IDが不正です"})
			return
		}

		ctx := c.Request.Context()
		res, err := s.db.Query(ctx, "SELECT file_path FROM videos WHERE id = $1", id)
		if err != nil {
			log.Printf("動画の確認に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}
		if len(res.Rows) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "動画が見つかりません"})
			return
		}

		path, _ := res.Rows[0]["file_path"].(string)
		removeFile(path)
		s.filePaths.Remove(id)

		if _, err := s.db.Query(ctx, "DELETE FROM videos WHERE id = $1", id); err != nil {
			log.Printf("動画の削除に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "動画を削除しました"})
	}
}

// handleStreamVideo は動画ファイルをRange対応で配信するハンドラを返す。
func (s *Server) handleStreamVideo() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "動画IDが不正です"})
			return
		}

		path, cached := s.filePaths.Get(id)
		if !cached {
			res, err := s.db.Query(c.Request.Context(), "SELECT file_path FROM videos WHERE id = $1", id)
			if err != nil {
				log.Printf("[Stream] 動画の取得に失敗: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
				return
			}
			if len(res.Rows) == 0 {
				c.JSON(http.StatusNotFound, gin.H{"error": "動画が見つかりません"})
				return
			}
			path, _ = res.Rows[0]["file_path"].(string)
			s.filePaths.Add(id, path)
		}

		_, err := stream.Serve(c.Writer, c.Request, path, allowedContentType)
		var rangeErr *stream.RangeError
		switch {
		case err == nil:
		case errors.Is(err, stream.ErrFileNotFound):
			s.filePaths.Remove(id)
			c.JSON(http.StatusNotFound, gin.H{"error": "動画ファイルが見つかりません"})
		case errors.As(err, &rangeErr):
			log.Printf("[Stream] video=%d: %v", id, err)
		default:
			log.Printf("[Stream] video=%d: %v", id, err)
			if !c.Writer.Written() {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバーエラーが発生しました"})
			}
		}
	}
}
