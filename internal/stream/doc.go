// Package stream はHTTPのバイト範囲リクエストに対応したファイル配信を提供する。
//
// Rangeヘッダーがなければ200で全体を、bytes=<start>-[<end>] 形式であれば206で指定範囲のみを返す。
// 範囲は 0 <= start <= end < ファイルサイズ を満たす必要があり、満たさない場合は416を返す。
// 配信にタイムアウトは設定しない。
package stream
