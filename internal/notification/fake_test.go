package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/nao1215/fastconnect/pkg/event"
)

// fakeChannel はテスト用のChannel実装。受け取ったフレームを記録する。
type fakeChannel struct {
	mu     sync.Mutex
	frames []*event.Frame
	closed bool
	// sendErr が設定されている場合、Sendは常にこのエラーを返す。
	sendErr error
	// block が設定されている場合、Sendはblockが閉じられるかctxが終了するまで待つ。
	block chan struct{}
	// onSend が設定されている場合、Sendの最初に呼ばれる。
	onSend func()
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{}
}

func (c *fakeChannel) Send(ctx context.Context, f *event.Frame) error {
	if c.onSend != nil {
		c.onSend()
	}
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrChannelBusy, ctx.Err())
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// received は受け取ったフレームのコピーを返す。
func (c *fakeChannel) received() []*event.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*event.Frame(nil), c.frames...)
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// failingStore は指定した操作だけを失敗させるStore。
// 失敗させない操作は埋め込んだStoreに委譲する。
type failingStore struct {
	Store
	createErr error
	getErr    error
	listErr   error
	countErr  error
	markErr   error
	deleteErr error
}

func (s *failingStore) Create(ctx context.Context, n *Notification) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.Store.Create(ctx, n)
}

func (s *failingStore) Get(ctx context.Context, id string) (*Notification, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Store.Get(ctx, id)
}

func (s *failingStore) ListByRecipient(ctx context.Context, recipient string, limit int) ([]Notification, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.ListByRecipient(ctx, recipient, limit)
}

func (s *failingStore) CountUnread(ctx context.Context, recipient string) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.Store.CountUnread(ctx, recipient)
}

func (s *failingStore) MarkRead(ctx context.Context, id string) (bool, error) {
	if s.markErr != nil {
		return false, s.markErr
	}
	return s.Store.MarkRead(ctx, id)
}

func (s *failingStore) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	if s.markErr != nil {
		return 0, s.markErr
	}
	return s.Store.MarkAllRead(ctx, recipient)
}

func (s *failingStore) Delete(ctx context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Store.Delete(ctx, id)
}
