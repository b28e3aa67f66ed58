package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// 認証サービスが発行するトークンは "id" クレームにユーザーIDを持つ。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email,omitempty"`
}

// headerKeyUserID は解決済みのユーザーIDを返すHTTPヘッダーキー。
const headerKeyUserID = "X-User-ID"

// queryKeyToken はヘッダーを設定できないクライアント（ブラウザのWebSocket等）が
// トークンを渡すためのクエリパラメータ名。
const queryKeyToken = "token"

// tokenIssuer はこのリポジトリで発行するトークンの発行者。
const tokenIssuer = "fastconnect"

// GenerateJWT はユーザー情報からJWTトークンを生成する。
// 本番のトークンは外部の認証サービスが発行する。開発用ツールとテストで使用する。
func GenerateJWT(secret, userID, email string) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    tokenIssuer,
		},
		UserID: userID,
		Email:  email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTOption はJWTAuthの挙動を変更するオプション。
type JWTOption func(*jwtConfig)

type jwtConfig struct {
	allowQueryToken bool
}

// AllowQueryToken はAuthorizationヘッダーが無い場合に
// クエリパラメータ "token" からトークンを読み取ることを許可する。
func AllowQueryToken() JWTOption {
	return func(cfg *jwtConfig) {
		cfg.allowQueryToken = true
	}
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id" と "email" を設定する。
// ユーザーIDを持たないトークンは無効として扱う。
func JWTAuth(secret string, opts ...JWTOption) gin.HandlerFunc {
	cfg := jwtConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(c *gin.Context) {
		tokenString, errMsg := extractToken(c, cfg)
		if errMsg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMsg})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || claims.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Header(headerKeyUserID, claims.UserID)
		c.Next()
	}
}

// extractToken はリクエストからBearerトークンを取り出す。
// 取り出せない場合はクライアントに返すエラーメッセージを返す。
func extractToken(c *gin.Context, cfg jwtConfig) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if cfg.allowQueryToken {
			if q := c.Query(queryKeyToken); q != "" {
				return q, ""
			}
		}
		return "", "Authorizationヘッダーが必要です"
	}

	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found || tokenString == "" {
		return "", "Bearer トークン形式が不正です"
	}
	return tokenString, ""
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}
