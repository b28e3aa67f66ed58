package notification

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nao1215/fastconnect/pkg/event"
)

const (
	// wsWriteWait は1回の書き込みに許す最大時間。
	wsWriteWait = 10 * time.Second
	// wsMaxMessageSize はクライアントから受け付けるメッセージの最大サイズ。
	// クライアントが送るのは旧形式の登録メッセージだけなので小さくてよい。
	wsMaxMessageSize = 512
)

// wsChannel はWebSocket接続をChannelとして扱う。
// gorilla/websocketは同時に1つの書き込みしか許さないため、書き込みはmuで直列化する。
type wsChannel struct {
	conn *websocket.Conn
	// mu は書き込みとclosedを保護する。
	mu     sync.Mutex
	closed bool
}

var _ Channel = (*wsChannel)(nil)

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{conn: conn}
}

// Send はフレームをJSONテキストメッセージとして書き込む。
// 書き込みに失敗した接続は再利用できないため、失敗時は接続を閉じる。
// 読み取りループが終了し、ハンドラが登録を解除する。
func (c *wsChannel) Send(ctx context.Context, f *event.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		c.closeLocked()
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}

	if err := c.conn.WriteJSON(f); err != nil {
		c.closeLocked()
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrChannelBusy, err)
		}
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	return nil
}

// Close は接続を閉じる。
func (c *wsChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *wsChannel) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
}

// ping はキープアライブ用のPingを送る。WriteControlは他の書き込みと並行に呼べる。
func (c *wsChannel) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// readLoop はクライアントが切断するまで受信を続ける。
// 受信したメッセージの内容は使わない（ユーザーIDはトークンから解決済み）。
// Pongを受け取るたびに読み取り期限をpongWait延長する。
func (c *wsChannel) readLoop(pongWait time.Duration) error {
	c.conn.SetReadLimit(wsMaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
		// クライアントからのメッセージも生存確認として扱う
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return err
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
