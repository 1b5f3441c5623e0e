// Package gallery は動画ギャラリーのHTTP APIを提供する。
//
// 動画のアップロード・一覧・検索・更新・削除・Range配信、お気に入り、
// カテゴリとタグの管理を扱う。すべてのリクエストは匿名ユーザーとして処理され、
// データベースへのアクセスは database.DB を通じて行う。
package gallery
