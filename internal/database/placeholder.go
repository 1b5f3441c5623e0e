package database

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrPlaceholderIndex は$nが対応する値を持たない場合のエラー。
// エンジンへのI/Oより前に返される。
var ErrPlaceholderIndex = errors.New("プレースホルダーの番号が不正です")

// ordinalPattern は$1, $2, ... 形式の序数プレースホルダーにマッチする。
var ordinalPattern = regexp.MustCompile(`\$(\d+)`)

// TranslatePlaceholders は$n形式のプレースホルダーを位置指定の ? に置き換える。
//
// 出力のn番目の ? は、入力でn番目に現れた$kに対応し、その値はargs[k-1]となる。
// 同じ$kが複数回現れた場合はマーカーではなく値を複製する。
// マーカーを1つも含まない場合、argsはそのまま返す。
func TranslatePlaceholders(text string, args []any) (string, []any, error) {
	locs := ordinalPattern.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text, args, nil
	}

	out := make([]byte, 0, len(text))
	mapped := make([]any, 0, len(locs))
	prev := 0
	for _, loc := range locs {
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil || n < 1 || n > len(args) {
			return "", nil, fmt.Errorf("%w: %s (値の数: %d)", ErrPlaceholderIndex, text[loc[0]:loc[1]], len(args))
		}
		out = append(out, text[prev:loc[0]]...)
		out = append(out, '?')
		mapped = append(mapped, args[n-1])
		prev = loc[1]
	}
	out = append(out, text[prev:]...)

	return string(out), mapped, nil
}
