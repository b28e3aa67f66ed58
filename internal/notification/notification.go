package notification

import "time"

// Notification は1人の受信者に宛てた通知レコード。
// 既読フラグ以外は作成後に変更されない。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string `json:"id"`
	// Recipient は通知先のユーザーID。
	Recipient string `json:"recipient"`
	// Message は表示用のメッセージ。
	Message string `json:"message"`
	// Link は遷移先（例: /groups/:id）。未指定なら空。
	Link string `json:"link,omitempty"`
	// Read は既読状態。falseからtrueへの一方向にしか変化しない。
	Read bool `json:"read"`
	// CreatedAt は通知の作成日時。一覧の並び順を決める。
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot はある時点での通知一覧と未読件数。
// UnreadCount はページングに関係なく受信者の全通知から算出する。
type Snapshot struct {
	// Notifications は新しい順に並んだ通知。
	Notifications []Notification `json:"notifications"`
	// UnreadCount は未読通知の総数。
	UnreadCount int `json:"unread_count"`
}

const (
	// DefaultSnapshotLimit はスナップショットの件数を指定しなかった場合の件数。
	DefaultSnapshotLimit = 50
	// MaxSnapshotLimit はスナップショットで一度に返す件数の上限。
	MaxSnapshotLimit = 200
)

// normalizeLimit はスナップショットの件数指定を有効範囲に収める。
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultSnapshotLimit
	case limit > MaxSnapshotLimit:
		return MaxSnapshotLimit
	default:
		return limit
	}
}
