// Package middleware は通知サービスのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証、内部API用の共有トークン検証、zapによるリクエストログ、
// パニックリカバリ、CORS設定を含む。
package middleware
