package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/nao1215/fastconnect/pkg/event"
)

// Channel は接続中のクライアント1セッション分のプッシュ先。
// 実装はポインタ型であり、Registryのマップキーとして比較可能である必要がある。
type Channel interface {
	// Send はフレームを1回だけ送信する。再送はしない。
	// 切断済みの場合はErrChannelClosedを返す。
	Send(ctx context.Context, f *event.Frame) error
	// Close はチャネルを切断する。複数回呼び出しても安全である必要がある。
	Close() error
}

// Registry はユーザーIDと接続中チャネルの対応を管理する。
// 状態はプロセス内のメモリだけに保持され、再起動すると空に戻る。
// ロックはメモリ操作の間だけ保持し、I/Oの間は保持しない。
type Registry struct {
	// mu はchannelsとownersへの並行アクセスを保護する。
	mu sync.RWMutex
	// channels はユーザーIDごとのチャネル集合。
	channels map[string]map[Channel]struct{}
	// owners はチャネルから所有者のユーザーIDへの逆引き。
	owners map[Channel]string
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]map[Channel]struct{}),
		owners:   make(map[Channel]string),
	}
}

// Register はチャネルをユーザーIDに関連付ける。
// 同じユーザーに複数のチャネルを登録できる（複数タブ・複数端末）。
// 登録済みのチャネルを別のユーザーで登録し直した場合は付け替える。
func (r *Registry) Register(identity string, ch Channel) error {
	if identity == "" {
		return fmt.Errorf("%w: ユーザーIDが空です", ErrInvalidInput)
	}
	if ch == nil {
		return fmt.Errorf("%w: チャネルがnilです", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owners[ch]; ok {
		if prev == identity {
			return nil
		}
		r.removeLocked(prev, ch)
	}

	set, ok := r.channels[identity]
	if !ok {
		set = make(map[Channel]struct{})
		r.channels[identity] = set
	}
	set[ch] = struct{}{}
	r.owners[ch] = identity
	return nil
}

// Unregister はチャネルの登録を解除する。
// 未登録または解除済みのチャネルを渡しても何もしない。
func (r *Registry) Unregister(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.owners[ch]
	if !ok {
		return
	}
	r.removeLocked(identity, ch)
}

func (r *Registry) removeLocked(identity string, ch Channel) {
	delete(r.owners, ch)
	set := r.channels[identity]
	delete(set, ch)
	if len(set) == 0 {
		delete(r.channels, identity)
	}
}

// ChannelsFor はユーザーの接続中チャネルのスナップショットを返す。
// 返却後の登録・解除は戻り値に反映されない。
func (r *Registry) ChannelsFor(identity string) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.channels[identity]
	channels := make([]Channel, 0, len(set))
	for ch := range set {
		channels = append(channels, ch)
	}
	return channels
}

// Count は登録中のチャネルの総数を返す。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

// CloseAll は全てのチャネルを切断して登録を空にする。
// プロセス終了時に長時間接続を閉じるために使う。
func (r *Registry) CloseAll() {
	r.mu.Lock()
	channels := make([]Channel, 0, len(r.owners))
	for ch := range r.owners {
		channels = append(channels, ch)
	}
	r.channels = make(map[string]map[Channel]struct{})
	r.owners = make(map[Channel]string)
	r.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
}
