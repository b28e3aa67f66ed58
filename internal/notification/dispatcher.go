package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/fastconnect/pkg/event"
)

// DefaultPushTimeout は1チャネルへのプッシュに許す時間の既定値。
const DefaultPushTimeout = 5 * time.Second

// Dispatcher は通知の作成とリアルタイム配信の唯一の入口。
// 永続化が耐久性の保証であり、プッシュはその上のベストエフォートな層である。
type Dispatcher struct {
	store       Store
	registry    *Registry
	metrics     *Metrics
	logger      *zap.Logger
	pushTimeout time.Duration
	now         func() time.Time
}

// DispatcherOption はDispatcherの設定を変更するオプション。
type DispatcherOption func(*Dispatcher)

// WithPushTimeout は1チャネルへのプッシュのタイムアウトを設定する。
func WithPushTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.pushTimeout = d
		}
	}
}

// WithClock は作成日時の取得に使う時計を差し替える。
func WithClock(now func() time.Time) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.now = now
	}
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher(store Store, registry *Registry, metrics *Metrics, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		registry:    registry,
		metrics:     metrics,
		logger:      logger,
		pushTimeout: DefaultPushTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify は通知を永続化し、受信者の接続中チャネル全てにプッシュする。
// 永続化に失敗した場合だけエラーを返し、その場合プッシュは行わない。
// プッシュの失敗はログとメトリクスに記録するだけで呼び出し元には返さない。
// 接続中のチャネルが無い場合も成功であり、通知は次回のスナップショットで表示される。
func (d *Dispatcher) Notify(ctx context.Context, recipient, message, link string) (*Notification, error) {
	if recipient == "" {
		return nil, fmt.Errorf("%w: 通知先のユーザーIDが空です", ErrInvalidInput)
	}
	if message == "" {
		return nil, fmt.Errorf("%w: メッセージが空です", ErrInvalidInput)
	}

	n := &Notification{
		ID:        uuid.New().String(),
		Recipient: recipient,
		Message:   message,
		Link:      link,
		Read:      false,
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	d.metrics.observeCreated()

	channels := d.registry.ChannelsFor(recipient)
	if len(channels) == 0 {
		d.logger.Debug("recipient offline, push skipped",
			zap.String("notification_id", n.ID),
			zap.String("recipient", recipient))
		return n, nil
	}

	data := event.NewNotificationData{
		ID:        n.ID,
		Message:   n.Message,
		Link:      n.Link,
		Read:      false,
		CreatedAt: n.CreatedAt,
	}
	// 未読件数はバッジ更新のヒント。取得できなくても配信は続ける
	if count, err := d.store.CountUnread(ctx, recipient); err == nil {
		data.UnreadCount = &count
	} else {
		d.logger.Warn("unread count unavailable for push",
			zap.String("recipient", recipient), zap.Error(err))
	}

	frame, err := event.New(event.TypeNewNotification, data)
	if err != nil {
		d.logger.Error("push frame encode failed",
			zap.String("notification_id", n.ID), zap.Error(err))
		return n, nil
	}

	delivered := d.deliver(ctx, recipient, channels, frame)
	d.logger.Debug("notification dispatched",
		zap.String("notification_id", n.ID),
		zap.String("recipient", recipient),
		zap.Int("channels", len(channels)),
		zap.Int("delivered", delivered))
	return n, nil
}

// Broadcast は永続化を伴わないフレームを受信者の全チャネルにプッシュする。
// 既読状態の変化を他のタブに伝えるヒントとして使う。失敗は呼び出し元に返さない。
func (d *Dispatcher) Broadcast(ctx context.Context, recipient string, frame *event.Frame) {
	channels := d.registry.ChannelsFor(recipient)
	if len(channels) == 0 {
		return
	}
	d.deliver(ctx, recipient, channels, frame)
}

// deliver は各チャネルへ並行にプッシュし、成功した数を返す。
// 1チャネルの失敗や遅延が他のチャネルへの配信を妨げないよう、
// チャネルごとに独立したゴルーチンとタイムアウトを使う。
func (d *Dispatcher) deliver(ctx context.Context, recipient string, channels []Channel, frame *event.Frame) int {
	// 呼び出し元のリクエストが終了しても配信は最後まで試みる
	base := context.WithoutCancel(ctx)

	var (
		wg        sync.WaitGroup
		delivered atomic.Int64
	)
	for _, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()

			pushCtx, cancel := context.WithTimeout(base, d.pushTimeout)
			defer cancel()

			err := ch.Send(pushCtx, frame)
			switch {
			case err == nil:
				delivered.Add(1)
				d.metrics.observeDelivery(resultDelivered)
			case errors.Is(err, ErrChannelClosed):
				d.registry.Unregister(ch)
				d.metrics.observeDelivery(resultClosed)
				d.logger.Debug("channel closed during push, unregistered",
					zap.String("recipient", recipient),
					zap.String("frame_type", string(frame.Type)),
					zap.Error(err))
			default:
				d.metrics.observeDelivery(resultFailed)
				d.logger.Warn("push delivery dropped",
					zap.String("recipient", recipient),
					zap.String("frame_type", string(frame.Type)),
					zap.Error(err))
			}
		}()
	}
	wg.Wait()

	return int(delivered.Load())
}
