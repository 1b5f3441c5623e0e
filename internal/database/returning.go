package database

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNoTable はRETURNINGエミュレーション用のテーブル名を推測できない場合のエラー。
	ErrNoTable = errors.New("テーブル名を推測できません")
	// ErrAmbiguousTable は文が複数のテーブルを参照し、テーブル名を一意に決められない場合のエラー。
	// QueryIntoでテーブル名を明示する必要がある。
	ErrAmbiguousTable = errors.New("テーブル名が曖昧です")
	// ErrReturningFetch は書き込み成功後の挿入行の再取得に失敗した場合のエラー。
	// 書き込み自体は確定済みで、取り消されない。
	ErrReturningFetch = errors.New("挿入行の再取得に失敗しました")
)

// returningPattern は文末のRETURNING句にマッチする（大文字小文字を区別しない）。
var returningPattern = regexp.MustCompile(`(?is)\s+RETURNING\s+.+?\s*;?\s*$`)

// tableRefPattern はINTO / UPDATE / FROM の直後の識別子にマッチする。
var tableRefPattern = regexp.MustCompile(`(?i)\b(INTO|UPDATE|FROM)\s+("?[A-Za-z_]\w*"?)`)

// notTableNames は候補位置に現れてもテーブル名ではないキーワード。
// ON CONFLICT ... DO UPDATE SET の SET など。
var notTableNames = map[string]struct{}{
	"SET":     {},
	"SELECT":  {},
	"VALUES":  {},
	"DEFAULT": {},
}

// splitReturning は文末のRETURNING句を取り除く。
// RETURNING句があった場合は第2戻り値がtrueになる。
func splitReturning(text string) (string, bool) {
	loc := returningPattern.FindStringIndex(text)
	if loc == nil {
		return text, false
	}
	return strings.TrimSpace(text[:loc[0]]), true
}

// InferTable は文が対象とするテーブル名を推測する。
//
// INTO、UPDATE、FROMの直後の識別子を候補とし、INTO > UPDATE > FROM の優先順で選ぶ。
// パーサーではなくヒューリスティックであり、異なるテーブルが複数候補に現れた場合は
// ErrAmbiguousTableを返して推測を拒否する（UPDATE ... FROM や INSERT ... SELECT ... FROM など）。
func InferTable(text string) (string, error) {
	matches := tableRefPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", ErrNoTable
	}

	byKeyword := make(map[string]string, 3)
	distinct := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		kw := strings.ToUpper(m[1])
		name := strings.Trim(m[2], `"`)
		if _, skip := notTableNames[strings.ToUpper(name)]; skip {
			continue
		}
		if _, ok := byKeyword[kw]; !ok {
			byKeyword[kw] = name
		}
		distinct[strings.ToLower(name)] = struct{}{}
	}
	if len(distinct) == 0 {
		return "", ErrNoTable
	}
	if len(distinct) > 1 {
		return "", fmt.Errorf("%w: %d個のテーブルを参照しています", ErrAmbiguousTable, len(distinct))
	}

	for _, kw := range []string{"INTO", "UPDATE", "FROM"} {
		if name, ok := byKeyword[kw]; ok {
			return name, nil
		}
	}
	return "", ErrNoTable
}

// quoteIdent はSQLiteの識別子をダブルクォートで囲む。
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
