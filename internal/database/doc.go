// Package database は動画ギャラリーの全データアクセスが通過するクエリゲートウェイを提供する。
//
// 呼び出し側は常にPostgreSQL形式（$1, $2, ... のプレースホルダー、RETURNING句付き）のSQLを発行する。
// 起動時に一度だけバックエンドが選択され、PostgreSQLではそのまま転送し、
// 組み込みSQLiteではプレースホルダー変換とRETURNING句のエミュレーションを経由して実行する。
//
// 既知の制約:
//   - 文字列リテラル内の "$1" や "RETURNING" もマーカーとして扱われる（エスケープしない）。
//   - SQLiteでのRETURNINGエミュレーションは書き込みと再取得の2段階で、トランザクションで囲まない。
//     再取得に失敗しても書き込みは取り消されない。
//   - 複数行INSERTでは最後の1行のみ返る。ON CONFLICT ... DO UPDATE が既存行を更新した場合は行を返さない。
//   - クエリにタイムアウトは設定しない。呼び出し側のcontextのみが有効。
package database
