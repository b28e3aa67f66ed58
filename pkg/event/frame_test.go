package event

import (
	"encoding/json"
	"testing"
	"time"
)

// TestNew はNew関数でフレームが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("NewNotificationDataでフレームを生成できること", func(t *testing.T) {
		t.Parallel()

		count := 3
		data := NewNotificationData{
			ID:          "notif-1",
			Message:     "hello",
			Link:        "/groups/1",
			CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			UnreadCount: &count,
		}

		before := time.Now().UTC()
		f, err := New(TypeNewNotification, data)
		after := time.Now().UTC()
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		if f.Type != TypeNewNotification {
			t.Errorf("Type = %q, want %q", f.Type, TypeNewNotification)
		}
		if f.CreatedAt.Before(before) || f.CreatedAt.After(after) {
			t.Errorf("CreatedAt = %v, 期待する範囲: [%v, %v]", f.CreatedAt, before, after)
		}

		var decoded map[string]any
		if err := json.Unmarshal(f.Data, &decoded); err != nil {
			t.Fatalf("Dataのデシリアライズに失敗: %v", err)
		}
		if decoded["id"] != "notif-1" {
			t.Errorf("id = %v, want notif-1", decoded["id"])
		}
		if decoded["read"] != false {
			t.Errorf("read = %v, want false", decoded["read"])
		}
		if decoded["unread_count"] != float64(3) {
			t.Errorf("unread_count = %v, want 3", decoded["unread_count"])
		}
	})

	t.Run("未読件数とリンクが未設定の場合は省略されること", func(t *testing.T) {
		t.Parallel()

		f, err := New(TypeNewNotification, NewNotificationData{ID: "notif-2", Message: "x"})
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(f.Data, &decoded); err != nil {
			t.Fatalf("Dataのデシリアライズに失敗: %v", err)
		}
		if _, ok := decoded["unread_count"]; ok {
			t.Error("unread_countは省略されるべき")
		}
		if _, ok := decoded["link"]; ok {
			t.Error("linkは省略されるべき")
		}
	})

	t.Run("シリアライズできないデータはエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := New(TypeConnected, make(chan int)); err == nil {
			t.Fatal("チャネル型のシリアライズはエラーを返すべき")
		}
	})
}

// TestDecodeData はDecodeData関数を検証する。
func TestDecodeData(t *testing.T) {
	t.Parallel()

	t.Run("ReadStateDataを復元できること", func(t *testing.T) {
		t.Parallel()

		f, err := New(TypeNotificationRead, ReadStateData{ID: "notif-1", UnreadCount: 0})
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		got, err := DecodeData[ReadStateData](f)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if got.ID != "notif-1" || got.UnreadCount != 0 {
			t.Errorf("DecodeData() = %+v, want {ID:notif-1 UnreadCount:0}", got)
		}
	})

	t.Run("壊れたJSONはエラーになること", func(t *testing.T) {
		t.Parallel()

		f := &Frame{Type: TypeConnected, Data: json.RawMessage(`{"user_id":`)}
		if _, err := DecodeData[ConnectedData](f); err == nil {
			t.Fatal("壊れたJSONのデコードはエラーを返すべき")
		}
	})
}
