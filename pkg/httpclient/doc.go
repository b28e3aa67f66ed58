// Package httpclient は通知サービスのHTTP APIを呼び出すクライアントを提供する。
//
// 通知を作成する上流のツール（notify-sendコマンドなど）が内部APIを呼び出す際に使用する。
// 認証ヘッダーはWithHeaderで全リクエストに付与する。
package httpclient
