package gallery

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// errInvalidTags はタグ指定の形式が不正な場合のエラー。
var errInvalidTags = errors.New("タグの形式が不正です")

// parseIDParam はパスパラメーターを正の整数IDとして解析する。
func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseOptionalID は空文字列をnil、それ以外を整数として解析する。
func parseOptionalID(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("IDが不正です: %q", s)
	}
	return id, nil
}

// optionalID はJSONの数値・数値文字列・空文字列・nullを受け付けるID。
type optionalID struct {
	value any
}

func (o *optionalID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		o.value = nil
	case float64:
		if x != float64(int64(x)) {
			return fmt.Errorf("IDが不正です: %v", x)
		}
		o.value = int64(x)
	case string:
		id, err := parseOptionalID(x)
		if err != nil {
			return err
		}
		o.value = id
	default:
		return fmt.Errorf("IDが不正です: %s", data)
	}
	return nil
}

// parseTags はタグ名の配列を解析する。
// JSON配列、またはJSON配列を文字列としてエンコードしたものを受け付ける。
// 前後の空白を除去し、空のタグ名と重複は取り除く。
func parseTags(raw []byte) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, errInvalidTags
		}
		return parseTags([]byte(encoded))
	}

	seen := make(map[string]struct{}, len(names))
	tags := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		tags = append(tags, name)
	}
	return tags, nil
}

// asInt64 はドライバーが返す整数値をint64に変換する。
// SQLiteはint64、PostgreSQLのINTEGER列はint32で返る。
func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
