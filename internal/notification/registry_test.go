package notification

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRegistryRegister(t *testing.T) {
	t.Parallel()

	t.Run("同じユーザーに複数のチャネルを登録できる", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		tab1, tab2 := newFakeChannel(), newFakeChannel()

		if err := r.Register("user-1", tab1); err != nil {
			t.Fatalf("登録に失敗: %v", err)
		}
		if err := r.Register("user-1", tab2); err != nil {
			t.Fatalf("登録に失敗: %v", err)
		}

		if got := len(r.ChannelsFor("user-1")); got != 2 {
			t.Errorf("チャネル数: got %d, want 2", got)
		}
		if got := r.Count(); got != 2 {
			t.Errorf("総チャネル数: got %d, want 2", got)
		}
	})

	t.Run("同じチャネルを2回登録しても1つとして扱う", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		ch := newFakeChannel()

		for range 2 {
			if err := r.Register("user-1", ch); err != nil {
				t.Fatalf("登録に失敗: %v", err)
			}
		}

		if got := len(r.ChannelsFor("user-1")); got != 1 {
			t.Errorf("チャネル数: got %d, want 1", got)
		}
	})

	t.Run("別のユーザーで登録し直すと付け替えられる", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		ch := newFakeChannel()

		if err := r.Register("user-1", ch); err != nil {
			t.Fatalf("登録に失敗: %v", err)
		}
		if err := r.Register("user-2", ch); err != nil {
			t.Fatalf("登録に失敗: %v", err)
		}

		if got := len(r.ChannelsFor("user-1")); got != 0 {
			t.Errorf("旧ユーザーのチャネル数: got %d, want 0", got)
		}
		if got := len(r.ChannelsFor("user-2")); got != 1 {
			t.Errorf("新ユーザーのチャネル数: got %d, want 1", got)
		}
	})

	t.Run("ユーザーIDが空の場合はErrInvalidInputを返す", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()

		if err := r.Register("", newFakeChannel()); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("エラー: got %v, want %v", err, ErrInvalidInput)
		}
		if got := r.Count(); got != 0 {
			t.Errorf("総チャネル数: got %d, want 0", got)
		}
	})

	t.Run("nilチャネルはErrInvalidInputを返す", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()

		if err := r.Register("user-1", nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("エラー: got %v, want %v", err, ErrInvalidInput)
		}
	})
}

func TestRegistryUnregister(t *testing.T) {
	t.Parallel()

	t.Run("解除したチャネルだけが取り除かれる", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		tab1, tab2 := newFakeChannel(), newFakeChannel()
		_ = r.Register("user-1", tab1)
		_ = r.Register("user-1", tab2)

		r.Unregister(tab1)

		got := r.ChannelsFor("user-1")
		if len(got) != 1 || got[0] != Channel(tab2) {
			t.Errorf("残ったチャネル: got %v, want [tab2]", got)
		}
	})

	t.Run("未登録のチャネルの解除は何もしない", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		ch := newFakeChannel()
		_ = r.Register("user-1", ch)

		r.Unregister(newFakeChannel())
		r.Unregister(ch)
		r.Unregister(ch)

		if got := r.Count(); got != 0 {
			t.Errorf("総チャネル数: got %d, want 0", got)
		}
	})
}

func TestRegistryChannelsForReturnsSnapshot(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ch := newFakeChannel()
	_ = r.Register("user-1", ch)

	snapshot := r.ChannelsFor("user-1")
	r.Unregister(ch)
	_ = r.Register("user-1", newFakeChannel())
	_ = r.Register("user-1", newFakeChannel())

	if len(snapshot) != 1 || snapshot[0] != Channel(ch) {
		t.Errorf("取得後の変更がスナップショットに反映されています: %v", snapshot)
	}
	if got := r.ChannelsFor("unknown"); len(got) != 0 {
		t.Errorf("未登録ユーザーのチャネル: got %v, want empty", got)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	channels := []*fakeChannel{newFakeChannel(), newFakeChannel(), newFakeChannel()}
	_ = r.Register("user-1", channels[0])
	_ = r.Register("user-1", channels[1])
	_ = r.Register("user-2", channels[2])

	r.CloseAll()

	if got := r.Count(); got != 0 {
		t.Errorf("総チャネル数: got %d, want 0", got)
	}
	for i, ch := range channels {
		if !ch.isClosed() {
			t.Errorf("[%d] チャネルが閉じられていません", i)
		}
	}
}

// TestRegistryConcurrentAccess は並行した登録・解除・参照で状態が壊れないことを検証する。
// -race 付きで実行することを想定している。
func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	const workers = 16
	const iterations = 200

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			identity := fmt.Sprintf("user-%d", w%4)
			for range iterations {
				ch := newFakeChannel()
				if err := r.Register(identity, ch); err != nil {
					t.Errorf("登録に失敗: %v", err)
					return
				}
				_ = r.ChannelsFor(identity)
				_ = r.Count()
				r.Unregister(ch)
			}
		}()
	}
	wg.Wait()

	if got := r.Count(); got != 0 {
		t.Errorf("全て解除した後の総チャネル数: got %d, want 0", got)
	}
}
