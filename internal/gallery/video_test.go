package gallery

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
)

func TestHandleUploadVideo(t *testing.T) {
	t.Parallel()

	t.Run("正常系_MP4動画を登録できる", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t)

		w := uploadVideo(t, s, map[string]string{
			"title":       "はじめての動画",
			"description": "説明文",
			"category_id": "1",
			"tags":        `["旅行", " 猫 ", "", "旅行"]`,
		}, testVideoData(1000), "video/mp4")

		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d (body=%s)", w.Code, http.StatusCreated, w.Body.String())
		}
		video := decodeBody(t, w)["video"].(map[string]any)
		if video["title"] != "はじめての動画" {
			t.Errorf("title = %v", video["title"])
		}
		if video["file_size"] != float64(1000) {
			t.Errorf("file_size = %v, want 1000", video["file_size"])
		}
		if video["views"] != float64(0) {
			t.Errorf("views = %v, want 0", video["views"])
		}
		if video["category_id"] != float64(1) {
			t.Errorf("category_id = %v, want 1", video["category_id"])
		}

		data, err := os.ReadFile(video["file_path"].(string))
		if err != nil {
			t.Fatalf("保存されたファイルの読み取りに失敗: %v", err)
		}
		if !bytes.Equal(data, testVideoData(1000)) {
			t.Error("保存されたファイルの内容が一致しません")
		}

		// タグは重複と空白を除いて関連付けられる
		detail := decodeBody(t, doRequest(s, http.MethodGet, fmt.Sprintf("/api/videos/%.0f", video["id"]), nil))
		tags := detail["video"].(map[string]any)["tags"].([]any)
		if len(tags) != 2 {
			t.Fatalf("tags = %v, want 2件", tags)
		}
	})

	t.Run("説明とカテゴリは省略するとNULLになる", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t)

		w := uploadVideo(t, s, map[string]string{"title": "最小"}, testVideoData(10), "video/mp4")
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusCreated)
		}
		video := decodeBody(t, w)["video"].(map[string]any)
		if video["description"] != nil || video["category_id"] != nil {
			t.Errorf("description=%v category_id=%v, want null", video["description"], video["category_id"])
		}
	})

	tests := []struct {
		name        string
		fields      map[string]string
		data        []byte
		contentType string
		wantError   string
	}{
		{
			name:      "ファイルがない場合は400",
			fields:    map[string]string{"title": "ファイルなし"},
			wantError: "動画ファイルが必要です",
		},
		{
			name:        "MP4以外は400",
			fields:      map[string]string{"title": "画像"},
			data:        []byte("GIF89a"),
			contentType: "image/gif",
			wantError:   "MP4形式の動画のみアップロード可能です",
		},
		{
			name:        "タイトルがない場合は400",
			fields:      map[string]string{"description": "タイトルなし"},
			data:        testVideoData(10),
			contentType: "video/mp4",
			wantError:   "タイトルは必須です",
		},
		{
			name:        "タグがJSON配列でない場合は400",
			fields:      map[string]string{"title": "タグ不正", "tags": "旅行,猫"},
			data:        testVideoData(10),
			contentType: "video/mp4",
			wantError:   "タグの形式が不正です",
		},
		{
			name:        "カテゴリIDが数値でない場合は400",
			fields:      map[string]string{"title": "カテゴリ不正", "category_id": "music"},
			data:        testVideoData(10),
			contentType: "video/mp4",
			wantError:   "カテゴリIDが不正です",
		},
		{
			name:        "上限を超えるファイルは400",
			fields:      map[string]string{"title": "大きすぎる"},
			data:        testVideoData(1<<20 + 1),
			contentType: "video/mp4",
			wantError:   "ファイルサイズが上限を超えています（最大1MB）",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := setupTestServer(t)

			w := uploadVideo(t, s, tt.fields, tt.data, tt.contentType)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("ステータスコード = %d, want %d (body=%s)", w.Code, http.StatusBadRequest, w.Body.String())
			}
			if got := decodeBody(t, w)["error"]; got != tt.wantError {
				t.Errorf("error = %v, want %q", got, tt.wantError)
			}
			if n := countFiles(t, s.uploadDir); n != 0 {
				t.Errorf("失敗時にファイルが残っています: %d件", n)
			}
		})
	}

	t.Run("存在しないカテゴリは保存せずファイルも残さない", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t)

		w := uploadVideo(t, s, map[string]string{"title": "孤児", "category_id": "999"}, testVideoData(10), "video/mp4")
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		if n := countFiles(t, s.uploadDir); n != 0 {
			t.Errorf("失敗時にファイルが残っています: %d件", n)
		}
	})
}

func TestHandleListVideos(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)

	catID, _ := createTestVideo(t, s, "猫の動画", map[string]string{"category_id": "3", "tags": `["猫"]`})
	dogID, _ := createTestVideo(t, s, "犬の動画", map[string]string{"description": "かわいい猫も登場", "tags": `["犬", "猫"]`})
	carID, _ := createTestVideo(t, s, "車の動画", map[string]string{"tags": `["車"]`})

	if _, err := s.db.Query(t.Context(), "UPDATE videos SET views = $1 WHERE id = $2", 50, carID); err != nil {
		t.Fatalf("閲覧数の設定に失敗: %v", err)
	}

	tagID := func(name string) int64 {
		res, err := s.db.Query(t.Context(), "SELECT id FROM tags WHERE name = $1", name)
		if err != nil || len(res.Rows) != 1 {
			t.Fatalf("タグの取得に失敗: %v", err)
		}
		id, _ := asInt64(res.Rows[0]["id"])
		return id
	}

	ids := func(w *httptest.ResponseRecorder) []int64 {
		t.Helper()
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
		}
		var out []int64
		for _, v := range decodeBody(t, w)["videos"].([]any) {
			out = append(out, int64(v.(map[string]any)["id"].(float64)))
		}
		return out
	}

	equal := func(got, want []int64) bool {
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}

	tests := []struct {
		name  string
		query string
		want  []int64
	}{
		{name: "デフォルトは新しい順", query: "", want: []int64{carID, dogID, catID}},
		{name: "古い順", query: "?sort=oldest", want: []int64{catID, dogID, carID}},
		{name: "閲覧数順", query: "?sort=views", want: []int64{carID, dogID, catID}},
		{name: "タイトルと説明を検索", query: "?search=" + url.QueryEscape("猫"), want: []int64{dogID, catID}},
		{name: "カテゴリで絞り込み", query: "?category=3", want: []int64{catID}},
		{name: "タグで絞り込み", query: fmt.Sprintf("?tags=%d", tagID("猫")), want: []int64{dogID, catID}},
		{name: "複数タグはいずれかに一致", query: fmt.Sprintf("?tags=%d,%d", tagID("犬"), tagID("車")), want: []int64{carID, dogID}},
		{name: "条件の組み合わせ", query: fmt.Sprintf("?search=%s&tags=%d", url.QueryEscape("猫"), tagID("犬")), want: []int64{dogID}},
		{name: "ページング", query: "?limit=2&page=2", want: []int64{catID}},
		{name: "該当なし", query: "?search=" + url.QueryEscape("存在しない"), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(doRequest(s, http.MethodGet, "/api/videos"+tt.query, nil))
			if !equal(got, tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("ページ情報とタグ一覧を返す", func(t *testing.T) {
		body := decodeBody(t, doRequest(s, http.MethodGet, "/api/videos?limit=2&search="+url.QueryEscape("動画"), nil))
		p := body["pagination"].(map[string]any)
		if p["page"] != float64(1) || p["limit"] != float64(2) || p["total"] != float64(3) || p["totalPages"] != float64(2) {
			t.Errorf("pagination = %v", p)
		}
		videos := body["videos"].([]any)
		tags := videos[1].(map[string]any)["tags"].([]any)
		if len(tags) != 2 {
			t.Errorf("tags = %v, want 2件", tags)
		}
		if _, ok := videos[0].(map[string]any)["username"]; !ok {
			t.Error("username が含まれていません")
		}
	})

	t.Run("不正なフィルターは400", func(t *testing.T) {
		for _, q := range []string{"?category=abc", "?tags=1,x"} {
			w := doRequest(s, http.MethodGet, "/api/videos"+q, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: ステータスコード = %d, want %d", q, w.Code, http.StatusBadRequest)
			}
		}
	})

	t.Run("上限を超えるページ番号は400", func(t *testing.T) {
		for _, q := range []string{"?page=100001", "?page=9223372036854775807&limit=100"} {
			w := doRequest(s, http.MethodGet, "/api/videos"+q, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: ステータスコード = %d, want %d", q, w.Code, http.StatusBadRequest)
			}
		}
	})

	t.Run("上限のページ番号は空の一覧を返す", func(t *testing.T) {
		got := ids(doRequest(s, http.MethodGet, "/api/videos?page=100000&limit=100", nil))
		if len(got) != 0 {
			t.Errorf("ids = %v, want []", got)
		}
	})
}

func TestHandleGetVideo(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)

	id, _ := createTestVideo(t, s, "詳細", map[string]string{"category_id": "2", "tags": `["b", "a"]`})
	path := fmt.Sprintf("/api/videos/%d", id)

	t.Run("詳細とタグを返し閲覧数を加算する", func(t *testing.T) {
		first := decodeBody(t, doRequest(s, http.MethodGet, path, nil))["video"].(map[string]any)
		if first["views"] != float64(0) {
			t.Errorf("1回目のviews = %v, want 0", first["views"])
		}
		if first["category_name"] != "教育" {
			t.Errorf("category_name = %v, want 教育", first["category_name"])
		}
		tags := first["tags"].([]any)
		if len(tags) != 2 || tags[0].(map[string]any)["name"] != "a" {
			t.Errorf("tags = %v", tags)
		}
		if _, ok := tags[0].(map[string]any)["id"].(float64); !ok {
			t.Errorf("tag id がありません: %v", tags[0])
		}

		second := decodeBody(t, doRequest(s, http.MethodGet, path, nil))["video"].(map[string]any)
		if second["views"] != float64(1) {
			t.Errorf("2回目のviews = %v, want 1", second["views"])
		}
	})

	t.Run("存在しない動画は404", func(t *testing.T) {
		w := doRequest(s, http.MethodGet, "/api/videos/12345", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
		if got := decodeBody(t, w)["error"]; got != "動画が見つかりません" {
			t.Errorf("error = %v", got)
		}
	})
}

func TestHandleUpdateVideo(t *testing.T) {
	t.Parallel()

	t.Run("タイトルとタグを更新する", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t)
		id, _ := createTestVideo(t, s, "旧タイトル", map[string]string{"tags": `["old"]`})
		path := fmt.Sprintf("/api/videos/%d", id)

		w := doRequest(s, http.MethodPut, path, map[string]any{
			"title":       "新タイトル",
			"description": "新しい説明",
			"category_id": "4",
			"tags":        []string{"new1", "new2"},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
		}
		if got := decodeBody(t, w)["message"]; got != "動画を更新しました" {
			t.Errorf("message = %v", got)
		}

		video := decodeBody(t, doRequest(s, http.MethodGet, path, nil))["video"].(map[string]any)
		if video["title"] != "新タイトル" || video["description"] != "新しい説明" || video["category_id"] != float64(4) {
			t.Errorf("video = %v", video)
		}
		tags := video["tags"].([]any)
		if len(tags) != 2 || tags[0].(map[string]any)["name"] != "new1" {
			t.Errorf("tags = %v", tags)
		}
	})

	t.Run("tagsを省略した場合はタグを変更しない", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t)
		id, _ := createTestVideo(t, s, "タグ維持", map[string]string{"tags": `["keep"]`})
		path := fmt.Sprintf("/api/videos/%d", id)

		w := doRequest(s, http.MethodPut, path, map[string]any{"title": "タグ維持2", "category_id": nil})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		video := decodeBody(t, doRequest(s, http.MethodGet, path, nil))["video"].(map[string]any)
		if len(video["tags"].([]any)) != 1 {
			t.Errorf("tags = %v, want 1件", video["tags"])
		}
	})

	t.Run("空のtagsは全タグを外す", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t)
		id, _ := createTestVideo(t, s, "タグ削除", map[string]string{"tags": `["x", "y"]`})
		path := fmt.Sprintf("/api/videos/%d", id)

		w := doRequest(s, http.MethodPut, path, map[string]any{"title": "タグ削除", "tags": []string{}})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		video := decodeBody(t, doRequest(s, http.MethodGet, path, nil))["video"].(map[string]any)
		if len(video["tags"].([]any)) != 0 {
			t.Errorf("tags = %v, want 0件", video["tags"])
		}
	})

	t.Run("存在しない動画は404", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t)
		w := doRequest(s, http.MethodPut, "/api/videos/999", map[string]any{"title": "x"})
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("タイトルが空の場合は400", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t)
		id, _ := createTestVideo(t, s, "タイトル", nil)
		w := doRequest(s, http.MethodPut, fmt.Sprintf("/api/videos/%d", id), map[string]any{"title": " "})
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

func TestHandleDeleteVideo(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)

	id, filePath := createTestVideo(t, s, "削除対象", map[string]string{"tags": `["消える"]`})
	path := fmt.Sprintf("/api/videos/%d", id)
	if w := doRequest(s, http.MethodPost, fmt.Sprintf("/api/favorites/%d", id), nil); w.Code != http.StatusCreated {
		t.Fatalf("お気に入り追加に失敗: %d", w.Code)
	}
	// 配信してパスをキャッシュに載せる
	if w := doRequest(s, http.MethodGet, path+"/stream", nil); w.Code != http.StatusOK {
		t.Fatalf("配信に失敗: %d", w.Code)
	}

	w := doRequest(s, http.MethodDelete, path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decodeBody(t, w)["message"]; got != "動画を削除しました" {
		t.Errorf("message = %v", got)
	}

	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Errorf("ファイルが削除されていません: %v", err)
	}
	if w := doRequest(s, http.MethodGet, path, nil); w.Code != http.StatusNotFound {
		t.Errorf("削除後の取得 = %d, want %d", w.Code, http.StatusNotFound)
	}
	if w := doRequest(s, http.MethodGet, path+"/stream", nil); w.Code != http.StatusNotFound {
		t.Errorf("削除後の配信 = %d, want %d", w.Code, http.StatusNotFound)
	}

	for _, table := range []string{"favorites", "video_tags"} {
		res, err := s.db.Query(t.Context(), "SELECT COUNT(*) AS count FROM "+table+" WHERE video_id = $1", id)
		if err != nil {
			t.Fatalf("件数取得に失敗: %v", err)
		}
		if n, _ := asInt64(res.Rows[0]["count"]); n != 0 {
			t.Errorf("%s に %d 件残っています", table, n)
		}
	}

	if w := doRequest(s, http.MethodDelete, path, nil); w.Code != http.StatusNotFound {
		t.Errorf("2回目の削除 = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleStreamVideo(t *testing.T) {
	t.Parallel()
	s := setupTestServer(t)

	id, filePath := createTestVideo(t, s, "配信", nil)
	path := fmt.Sprintf("/api/videos/%d/stream", id)

	stream := func(rangeHeader string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if rangeHeader != "" {
			req.Header.Set("Range", rangeHeader)
		}
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	t.Run("Rangeなしは200で全体を返す", func(t *testing.T) {
		w := stream("")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if got := w.Header().Get("Content-Type"); got != "video/mp4" {
			t.Errorf("Content-Type = %q", got)
		}
		if !bytes.Equal(w.Body.Bytes(), testVideoData(1000)) {
			t.Error("本文が一致しません")
		}
	})

	t.Run("範囲指定は206", func(t *testing.T) {
		w := stream("bytes=0-99")
		if w.Code != http.StatusPartialContent {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusPartialContent)
		}
		if got := w.Header().Get("Content-Range"); got != "bytes 0-99/1000" {
			t.Errorf("Content-Range = %q", got)
		}
		if !bytes.Equal(w.Body.Bytes(), testVideoData(1000)[:100]) {
			t.Error("本文が一致しません")
		}
	})

	t.Run("範囲外は416", func(t *testing.T) {
		w := stream("bytes=2000-")
		if w.Code != http.StatusRequestedRangeNotSatisfiable {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusRequestedRangeNotSatisfiable)
		}
		if got := w.Header().Get("Content-Range"); got != "bytes */1000" {
			t.Errorf("Content-Range = %q", got)
		}
	})

	t.Run("存在しない動画は404", func(t *testing.T) {
		w := doRequest(s, http.MethodGet, "/api/videos/999/stream", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
		if got := decodeBody(t, w)["error"]; got != "動画が見つかりません" {
			t.Errorf("error = %v", got)
		}
	})

	t.Run("ファイルが消えている場合は404", func(t *testing.T) {
		if err := os.Remove(filePath); err != nil {
			t.Fatalf("ファイルの削除に失敗: %v", err)
		}
		w := stream("")
		if w.Code != http.StatusNotFound {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
		if got := decodeBody(t, w)["error"]; got != "動画ファイルが見つかりません" {
			t.Errorf("error = %v", got)
		}
		if s.filePaths.Contains(id) {
			t.Error("キャッシュが破棄されていません")
		}
	})
}
