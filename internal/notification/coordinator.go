package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nao1215/fastconnect/pkg/event"
)

// Broadcaster は永続化を伴わないフレームを受信者に配信する。
// *Dispatcher が実装する。
type Broadcaster interface {
	Broadcast(ctx context.Context, recipient string, frame *event.Frame)
}

// Coordinator は既読状態の遷移とスナップショット取得を担当する。
// 全ての操作は呼び出し元のユーザーが所有する通知だけを対象にする。
// 状態遷移は 未読→既読 だけであり、既読から未読には戻らない。
type Coordinator struct {
	store       Store
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewCoordinator は新しいCoordinatorを生成する。
func NewCoordinator(store Store, broadcaster Broadcaster, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// owned は所有者を検証して通知を返す。
// 存在しない場合と他ユーザーの通知の場合はどちらもErrNotFoundを返す。
func (c *Coordinator) owned(ctx context.Context, recipient, id string) (*Notification, error) {
	if recipient == "" {
		return nil, ErrUnauthorized
	}
	if id == "" {
		return nil, ErrNotFound
	}

	n, err := c.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if n.Recipient != recipient {
		return nil, ErrNotFound
	}
	return n, nil
}

// MarkRead は通知を既読にして更新後のレコードを返す。
// 既読済みの通知に対しては何も書き込まずに成功する。
func (c *Coordinator) MarkRead(ctx context.Context, recipient, id string) (*Notification, error) {
	n, err := c.owned(ctx, recipient, id)
	if err != nil {
		return nil, err
	}
	if n.Read {
		return n, nil
	}

	changed, err := c.store.MarkRead(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !changed {
		// 取得後に別のリクエストが既読化または削除した
		latest, err := c.owned(ctx, recipient, id)
		if err != nil {
			return nil, err
		}
		return latest, nil
	}

	n.Read = true
	c.notifyReadState(ctx, recipient, event.TypeNotificationRead, id)
	return n, nil
}

// MarkAllRead は受信者の未読通知を全て既読にし、変更件数を返す。
func (c *Coordinator) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	if recipient == "" {
		return 0, ErrUnauthorized
	}

	updated, err := c.store.MarkAllRead(ctx, recipient)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if updated > 0 {
		c.notifyReadState(ctx, recipient, event.TypeNotificationsReadAll, "")
	}
	return updated, nil
}

// Snapshot は受信者の最新limit件の通知と、全件から算出した未読件数を返す。
// limitが0以下ならDefaultSnapshotLimit、上限を超える場合はMaxSnapshotLimitになる。
func (c *Coordinator) Snapshot(ctx context.Context, recipient string, limit int) (*Snapshot, error) {
	if recipient == "" {
		return nil, ErrUnauthorized
	}

	notifications, err := c.store.ListByRecipient(ctx, recipient, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	unread, err := c.store.CountUnread(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	return &Snapshot{
		Notifications: notifications,
		UnreadCount:   unread,
	}, nil
}

// UnreadCount は受信者の未読件数を返す。
func (c *Coordinator) UnreadCount(ctx context.Context, recipient string) (int, error) {
	if recipient == "" {
		return 0, ErrUnauthorized
	}
	count, err := c.store.CountUnread(ctx, recipient)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return count, nil
}

// Delete は通知を削除する。所有者の検証はMarkReadと同じ。
func (c *Coordinator) Delete(ctx context.Context, recipient, id string) error {
	if _, err := c.owned(ctx, recipient, id); err != nil {
		return err
	}

	if err := c.store.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	c.notifyReadState(ctx, recipient, event.TypeNotificationDeleted, id)
	return nil
}

// notifyReadState は変更後の未読件数を受信者の他のチャネルに伝える。
// 件数が取得できない場合は送らない。次回のスナップショットで補正される。
func (c *Coordinator) notifyReadState(ctx context.Context, recipient string, frameType event.Type, id string) {
	count, err := c.store.CountUnread(ctx, recipient)
	if err != nil {
		c.logger.Warn("unread count unavailable for read-state hint",
			zap.String("recipient", recipient), zap.Error(err))
		return
	}

	frame, err := event.New(frameType, event.ReadStateData{ID: id, UnreadCount: count})
	if err != nil {
		c.logger.Error("read-state frame encode failed", zap.Error(err))
		return
	}
	c.broadcaster.Broadcast(ctx, recipient, frame)
}
