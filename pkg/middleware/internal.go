package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderInternalToken は内部APIの呼び出し元が共有トークンを渡すヘッダー。
const HeaderInternalToken = "X-Internal-Token"

// InternalToken は共有トークンを検証するGinミドルウェアを返す。
// 通知の作成はシステム内部のイベント発生元だけに許可する。
func InternalToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderInternalToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "内部トークンが無効です",
			})
			return
		}
		c.Next()
	}
}
