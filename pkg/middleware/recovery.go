package middleware

import (
	"errors"
	"log"
	"net/http"
	"runtime/debug"
	"syscall"

	"github.com/gin-gonic/gin"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
//
// レスポンス未送信のパニックはスタックトレースとともにログへ出力し、500エラーを返す。
// 動画配信の途中（ステータスと一部のボディを送信済み）で発生した場合はステータスを変更できないため、
// 送信済みのステータスとバイト数を記録して処理を打ち切る。
// クライアントの切断による書き込み失敗はエラーとして扱わない。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			method, path := c.Request.Method, c.Request.URL.Path

			switch {
			case isClientGone(r):
				log.Printf("[Stream] クライアントが切断しました %s %s: 送信済み%dバイト", method, path, max(c.Writer.Size(), 0))
				c.Abort()
			case c.Writer.Written():
				log.Printf("[PANIC] 送信途中で中断 %s %s: status=%d 送信済み%dバイト: %v\n%s",
					method, path, c.Writer.Status(), max(c.Writer.Size(), 0), r, debug.Stack())
				c.Abort()
			default:
				log.Printf("[PANIC] %s %s: %v\n%s", method, path, r, debug.Stack())
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "サーバーエラーが発生しました",
				})
			}
		}()
		c.Next()
	}
}

// isClientGone はパニック値がクライアント側の切断を表すかを判定する。
func isClientGone(r any) bool {
	err, ok := r.(error)
	if !ok {
		return false
	}
	return errors.Is(err, http.ErrAbortHandler) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
