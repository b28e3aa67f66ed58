// Package ingest はKafkaのトピックから通知要求を受け取り、通知を作成する。
//
// いいね・コメントなどを扱う上流サービスは通知を直接作成せず、
// 通知要求をトピックに書き込む。このパッケージがそれを購読してDispatcherに渡す。
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/nao1215/fastconnect/internal/notification"
)

const (
	// defaultRetryBackoff は永続化に失敗したメッセージを再処理するまでの初期待機時間。
	defaultRetryBackoff = time.Second
	// maxRetryBackoff は再処理の待機時間の上限。
	maxRetryBackoff = 30 * time.Second
)

// Request はトピックに書き込まれる通知要求のJSON構造。
type Request struct {
	// Recipient は通知先のユーザーID。
	Recipient string `json:"recipient"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Link は通知から遷移する先のパス（任意）。
	Link string `json:"link,omitempty"`
}

// Reader はKafkaからメッセージを取得してコミットする。*kafka.Reader が実装する。
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Notifier は通知を作成する。*notification.Dispatcher が実装する。
type Notifier interface {
	Notify(ctx context.Context, recipient, message, link string) (*notification.Notification, error)
}

// Consumer は通知要求のトピックを購読するコンシューマ。
type Consumer struct {
	reader       Reader
	notifier     Notifier
	logger       *zap.Logger
	retryBackoff time.Duration
}

// Option はConsumerの設定を変更するオプション。
type Option func(*Consumer)

// WithRetryBackoff は永続化失敗時の初期待機時間を設定する。
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.retryBackoff = d
		}
	}
}

// NewReader は通知要求を購読するkafka.Readerを生成する。
func NewReader(brokers []string, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		// コミットは処理が終わったメッセージごとに同期的に行う
		CommitInterval: 0,
	})
}

// NewConsumer は新しいConsumerを生成する。
func NewConsumer(reader Reader, notifier Notifier, logger *zap.Logger, opts ...Option) *Consumer {
	c := &Consumer{
		reader:       reader,
		notifier:     notifier,
		logger:       logger,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run はctxがキャンセルされるまでメッセージを処理する。終了時にReaderを閉じる。
//
// 形式が不正なメッセージと入力値が不正なメッセージは再処理しても成功しないため、
// ログに記録してコミットする。永続化の失敗はコミットせずに同じメッセージを再処理する。
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("kafka reader close failed", zap.Error(err))
		}
	}()

	c.logger.Info("notification consumer started")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("notification consumer stopped")
				return nil
			}
			c.logger.Error("kafka fetch failed", zap.Error(err))
			if !sleep(ctx, c.retryBackoff) {
				return nil
			}
			continue
		}

		if !c.process(ctx, m) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("kafka commit failed",
				zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// process は1件のメッセージを処理する。
// 永続化に失敗した場合は待機時間を伸ばしながら再処理し、ctxがキャンセルされたらfalseを返す。
func (c *Consumer) process(ctx context.Context, m kafka.Message) bool {
	fields := []zap.Field{zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset)}

	req, err := decode(m.Value)
	if err != nil {
		c.logger.Warn("malformed notification request skipped", append(fields, zap.Error(err))...)
		return true
	}

	backoff := c.retryBackoff
	for {
		n, err := c.notifier.Notify(ctx, req.Recipient, req.Message, req.Link)
		switch {
		case err == nil:
			c.logger.Debug("notification created from kafka",
				append(fields, zap.String("notification_id", n.ID), zap.String("recipient", n.Recipient))...)
			return true
		case errors.Is(err, notification.ErrInvalidInput):
			c.logger.Warn("invalid notification request skipped", append(fields, zap.Error(err))...)
			return true
		default:
			c.logger.Error("notification persistence failed, retrying",
				append(fields, zap.Duration("backoff", backoff), zap.Error(err))...)
			if !sleep(ctx, backoff) {
				return false
			}
			backoff = min(backoff*2, maxRetryBackoff)
		}
	}
}

func decode(value []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(value, &req); err != nil {
		return nil, fmt.Errorf("通知要求のデコードに失敗: %w", err)
	}
	return &req, nil
}

// sleep はdだけ待つ。ctxがキャンセルされた場合はfalseを返す。
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
