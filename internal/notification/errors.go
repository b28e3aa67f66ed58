package notification

import "errors"

var (
	// ErrUnauthorized は呼び出し元のユーザーIDが解決できないことを表す。
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound は通知が存在しないか、他のユーザーの通知であることを表す。
	// 両者を区別しないことで他ユーザーの通知の存在を漏らさない。
	ErrNotFound = errors.New("notification not found")
	// ErrInvalidInput は入力値が不正であることを表す。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersistence はStoreへの読み書きが失敗したことを表す。
	// 呼び出し元は操作全体を再試行できる。
	ErrPersistence = errors.New("notification store failure")

	// ErrChannelClosed はプッシュ先のチャネルが既に切断されていることを表す。
	// Dispatcherはこのエラーを受け取るとチャネルの登録を解除する。
	ErrChannelClosed = errors.New("channel closed")
	// ErrChannelBusy はチャネルが時間内にフレームを受け取れなかったことを表す。
	// 配信は破棄されるがチャネルの登録は維持される。
	ErrChannelBusy = errors.New("channel busy")
)
