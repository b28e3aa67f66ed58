// Package event はサーバーからクライアントへプッシュするフレームを定義する。
//
// WebSocketとSSEのどちらの伝送路でも同じJSON形式で配送される。
// クライアントはtypeを見てdataの構造を判断する。
package event

import (
	"encoding/json"
	"time"
)

// Type はプッシュフレームの種類を表す。
type Type string

const (
	// TypeConnected はチャネル登録が完了したことを表す。
	TypeConnected Type = "connected"
	// TypeNewNotification は新しい通知が作成されたことを表す。
	TypeNewNotification Type = "newNotification"
	// TypeNotificationRead は通知が既読になったことを表す。
	TypeNotificationRead Type = "notificationRead"
	// TypeNotificationsReadAll は全通知が既読になったことを表す。
	TypeNotificationsReadAll Type = "notificationsReadAll"
	// TypeNotificationDeleted は通知が削除されたことを表す。
	TypeNotificationDeleted Type = "notificationDeleted"
)

// Frame はクライアントへ送る1件のプッシュメッセージ。
type Frame struct {
	// Type はフレームの種類。
	Type Type `json:"type"`
	// Data はフレーム固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はフレームを生成した日時。
	CreatedAt time.Time `json:"created_at"`
}

// ConnectedData はconnectedフレームのデータ。
type ConnectedData struct {
	// UserID は登録されたユーザーID。
	UserID string `json:"user_id"`
	// UnreadCount は登録時点の未読件数。
	UnreadCount int `json:"unread_count"`
}

// NewNotificationData はnewNotificationフレームのデータ。
type NewNotificationData struct {
	// ID は通知の一意識別子。クライアントは既読APIにそのまま渡せる。
	ID string `json:"id"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Link は遷移先。未指定なら省略される。
	Link string `json:"link,omitempty"`
	// Read は常にfalse。
	Read bool `json:"read"`
	// CreatedAt は通知の作成日時。
	CreatedAt time.Time `json:"created_at"`
	// UnreadCount は配送時点の未読件数。算出できなかった場合は省略される。
	UnreadCount *int `json:"unread_count,omitempty"`
}

// ReadStateData は既読状態の変化を伝えるフレームのデータ。
// notificationRead / notificationsReadAll / notificationDeleted で共通に使う。
type ReadStateData struct {
	// ID は対象の通知ID。全件既読の場合は空。
	ID string `json:"id,omitempty"`
	// UnreadCount は変更後の未読件数。
	UnreadCount int `json:"unread_count"`
}
