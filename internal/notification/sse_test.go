package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/nao1215/fastconnect/pkg/event"
)

func TestSSEChannelSend(t *testing.T) {
	t.Parallel()

	frame := &event.Frame{Type: event.TypeNewNotification}

	t.Run("バッファに空きがあればフレームを積む", func(t *testing.T) {
		t.Parallel()
		ch := newSSEChannel()

		if err := ch.Send(t.Context(), frame); err != nil {
			t.Fatalf("送信に失敗: %v", err)
		}
		if got := <-ch.frames; got != frame {
			t.Errorf("フレーム: got %v, want %v", got, frame)
		}
	})

	t.Run("バッファが満杯ならErrChannelBusyを返し待たない", func(t *testing.T) {
		t.Parallel()
		ch := newSSEChannel()
		for range sseBufferSize {
			if err := ch.Send(t.Context(), frame); err != nil {
				t.Fatalf("送信に失敗: %v", err)
			}
		}

		if err := ch.Send(t.Context(), frame); !errors.Is(err, ErrChannelBusy) {
			t.Errorf("エラー: got %v, want %v", err, ErrChannelBusy)
		}
	})

	t.Run("閉じたチャネルはErrChannelClosedを返す", func(t *testing.T) {
		t.Parallel()
		ch := newSSEChannel()
		_ = ch.Close()
		_ = ch.Close()

		if err := ch.Send(t.Context(), frame); !errors.Is(err, ErrChannelClosed) {
			t.Errorf("エラー: got %v, want %v", err, ErrChannelClosed)
		}
	})

	t.Run("期限切れのコンテキストはErrChannelBusyを返す", func(t *testing.T) {
		t.Parallel()
		ch := newSSEChannel()
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		if err := ch.Send(ctx, frame); !errors.Is(err, ErrChannelBusy) {
			t.Errorf("エラー: got %v, want %v", err, ErrChannelBusy)
		}
	})
}
