// Package middleware は動画ギャラリーAPIで使用するGinミドルウェアを提供する。
//
// パニックリカバリ、ブラウザの動画プレイヤー向けCORS設定、
// 匿名ユーザーをリクエストに割り当てるプリンシパル設定を含む。
package middleware
