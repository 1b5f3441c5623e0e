package middleware

import (
	"github.com/gin-gonic/gin"
)

// contextKeyUserID はGinコンテキストにユーザーIDを保存するキー。
const contextKeyUserID = "user_id"

// AnonymousPrincipal はすべてのリクエストを指定ユーザーとして扱うGinミドルウェアを返す。
// 認証を持たないため、動画の所有者やお気に入りはこのユーザーに紐づく。
func AnonymousPrincipal(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(contextKeyUserID, userID)
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// AnonymousPrincipalが適用されていない場合は0を返す。
func GetUserID(c *gin.Context) int64 {
	if id, ok := c.Get(contextKeyUserID); ok {
		if v, ok := id.(int64); ok {
			return v
		}
	}
	return 0
}
