package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/nao1215/fastconnect/pkg/event"
)

// sseBufferSize はSSEチャネルが保持できる未送信フレームの数。
const sseBufferSize = 16

// sseChannel はServer-Sent Eventsのストリームをチャネルとして扱う。
// Sendはフレームをバッファに渡すだけで、書き込みはストリーミング中のハンドラが行う。
type sseChannel struct {
	frames chan *event.Frame
	done   chan struct{}
	once   sync.Once
}

var _ Channel = (*sseChannel)(nil)

func newSSEChannel() *sseChannel {
	return &sseChannel{
		frames: make(chan *event.Frame, sseBufferSize),
		done:   make(chan struct{}),
	}
}

// Send はフレームをバッファに積む。待機はしない。
// バッファが満杯の場合はErrChannelBusyを返し、そのフレームは破棄される。
func (c *sseChannel) Send(ctx context.Context, f *event.Frame) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrChannelBusy, ctx.Err())
	default:
	}

	select {
	case c.frames <- f:
		return nil
	default:
		return fmt.Errorf("%w: 未送信フレームが%d件溜まっています", ErrChannelBusy, sseBufferSize)
	}
}

// Close はチャネルを閉じる。framesは閉じないため、並行するSendがパニックすることはない。
func (c *sseChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
