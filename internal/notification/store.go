package notification

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/fastconnect/pkg/migration"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store は通知レコードの永続化層。
// 所有者の検証は行わない。呼び出し側のCoordinatorが担当する。
type Store interface {
	// Create は通知を保存する。
	Create(ctx context.Context, n *Notification) error
	// Get はIDで通知を取得する。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, id string) (*Notification, error)
	// ListByRecipient は受信者の通知を新しい順に最大limit件返す。
	ListByRecipient(ctx context.Context, recipient string, limit int) ([]Notification, error)
	// CountUnread は受信者の未読通知の総数を返す。
	CountUnread(ctx context.Context, recipient string) (int, error)
	// MarkRead は未読の通知を既読にする。状態が変化した場合trueを返す。
	MarkRead(ctx context.Context, id string) (bool, error)
	// MarkAllRead は受信者の未読通知を全て既読にし、変更件数を返す。
	MarkAllRead(ctx context.Context, recipient string) (int64, error)
	// Delete は通知を削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error
}

// notificationRow はnotificationsテーブルの1行。
type notificationRow struct {
	ID        string         `db:"id"`
	Recipient string         `db:"recipient"`
	Message   string         `db:"message"`
	Link      sql.NullString `db:"link"`
	IsRead    int64          `db:"is_read"`
	CreatedAt int64          `db:"created_at"`
}

func toRow(n *Notification) notificationRow {
	row := notificationRow{
		ID:        n.ID,
		Recipient: n.Recipient,
		Message:   n.Message,
		Link:      sql.NullString{String: n.Link, Valid: n.Link != ""},
		CreatedAt: n.CreatedAt.UnixNano(),
	}
	if n.Read {
		row.IsRead = 1
	}
	return row
}

func (r notificationRow) toNotification() Notification {
	return Notification{
		ID:        r.ID,
		Recipient: r.Recipient,
		Message:   r.Message,
		Link:      r.Link.String,
		Read:      r.IsRead != 0,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
}

// SQLiteStore はSQLiteを使ったStoreの実装。
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore はSQLiteデータベースを開き、未適用のマイグレーションを実行する。
// dsnに ":memory:" を指定するとテスト用のインメモリDBになる。
func OpenSQLiteStore(ctx context.Context, dsn string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if dsn == ":memory:" {
		// :memory: は接続ごとに別のDBになるため1接続に固定する
		db.SetMaxOpenConns(1)
	}

	if _, err := migration.Run(ctx, db.DB, migrationFS, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping はデータベースへの疎通を確認する。
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Create(ctx context.Context, n *Notification) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notifications (id, recipient, message, link, is_read, created_at)
		VALUES (:id, :recipient, :message, :link, :is_read, :created_at)`, toRow(n))
	if err != nil {
		return fmt.Errorf("通知の作成に失敗: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Notification, error) {
	var row notificationRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, recipient, message, link, is_read, created_at
		FROM notifications WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	n := row.toNotification()
	return &n, nil
}

// ListByRecipient は作成日時の降順で返す。同時刻の場合は後から保存した行を先にする。
func (s *SQLiteStore) ListByRecipient(ctx context.Context, recipient string, limit int) ([]Notification, error) {
	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, recipient, message, link, is_read, created_at
		FROM notifications
		WHERE recipient = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, recipient, limit)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}

	notifications := make([]Notification, 0, len(rows))
	for _, r := range rows {
		notifications = append(notifications, r.toNotification())
	}
	return notifications, nil
}

func (s *SQLiteStore) CountUnread(ctx context.Context, recipient string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM notifications WHERE recipient = ? AND is_read = 0", recipient)
	if err != nil {
		return 0, fmt.Errorf("未読件数の取得に失敗: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) MarkRead(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE id = ? AND is_read = 0", id)
	if err != nil {
		return false, fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE recipient = ? AND is_read = 0", recipient)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("通知の削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
