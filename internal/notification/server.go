package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nao1215/fastconnect/pkg/event"
	"github.com/nao1215/fastconnect/pkg/middleware"
)

// DefaultPingInterval はWebSocketのPingとSSEのキープアライブの既定の送信間隔。
const DefaultPingInterval = 30 * time.Second

// shutdownTimeout はグレースフルシャットダウンで処理中のリクエストを待つ時間。
const shutdownTimeout = 10 * time.Second

// Options は通知サーバーの設定。
type Options struct {
	// Port はサーバーのリッスンポート。
	Port string
	// JWTSecret はユーザートークンの検証に使う秘密鍵。
	JWTSecret string
	// InternalToken は内部API（通知作成）の呼び出しに必要な共有トークン。
	InternalToken string
	// AllowedOrigins はCORSとWebSocketハンドシェイクで許可するオリジン。
	AllowedOrigins []string
	// PushTimeout は1チャネルへのプッシュに許す時間。0なら既定値を使う。
	PushTimeout time.Duration
	// PingInterval はキープアライブの送信間隔。0なら既定値を使う。
	PingInterval time.Duration
	// TracerProvider はHTTPリクエストのスパンの出力先。nilならグローバルのプロバイダを使う。
	TracerProvider trace.TracerProvider
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// handler はrouterをトレース計装で包んだハンドラ。
	handler http.Handler
	// opts はサーバーの設定。
	opts Options
	// store は通知の永続化層。
	store Store
	// registry は接続中のプッシュチャネルの登録簿。
	registry *Registry
	// dispatcher は通知の作成と配信を行う。
	dispatcher *Dispatcher
	// coordinator は既読状態とスナップショットを扱う。
	coordinator *Coordinator
	// upgrader はHTTP接続をWebSocketに昇格させる。
	upgrader websocket.Upgrader
	// gatherer は/metricsで公開するメトリクスの取得元。
	gatherer prometheus.Gatherer
	// logger は構造化ロガー。
	logger *zap.Logger
}

// NewServer は新しい通知サーバーを生成する。
// メトリクスはregに登録され、/metricsで公開される。
func NewServer(store Store, opts Options, reg *prometheus.Registry, logger *zap.Logger) (*Server, error) {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = DefaultPushTimeout
	}

	registry := NewRegistry()
	metrics, err := NewMetrics(reg, registry)
	if err != nil {
		return nil, fmt.Errorf("メトリクスの登録に失敗: %w", err)
	}
	dispatcher := NewDispatcher(store, registry, metrics, logger, WithPushTimeout(opts.PushTimeout))

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(opts.AllowedOrigins))

	s := &Server{
		router:      router,
		opts:        opts,
		store:       store,
		registry:    registry,
		dispatcher:  dispatcher,
		coordinator: NewCoordinator(store, dispatcher, logger),
		gatherer:    reg,
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.setupRoutes()
	s.handler = s.instrument(router)

	return s, nil
}

// instrument はヘルスチェックとメトリクス以外のリクエストにスパンを付与する。
func (s *Server) instrument(h http.Handler) http.Handler {
	opts := []otelhttp.Option{
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	}
	if s.opts.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(s.opts.TracerProvider))
	}
	return otelhttp.NewHandler(h, "notification", opts...)
}

// Handler はサーバーのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Dispatcher は通知の作成に使うDispatcherを返す。
// HTTP以外の上流（Kafkaコンシューマなど）から通知を作成するときに使う。
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまで待つ。
// キャンセル後は全てのプッシュチャネルを閉じてからグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.opts.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("notification server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// 長時間接続のハンドラを先に終了させないとShutdownが待ち続ける
	s.registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	s.logger.Info("notification server stopped")
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
	// Prometheusメトリクス
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	// WebSocketはブラウザがヘッダーを付けられないためクエリのトークンも受け付ける
	s.router.GET("/ws", middleware.JWTAuth(s.opts.JWTSecret, middleware.AllowQueryToken()), s.handleWebSocket())

	api := s.router.Group("/api/v1")
	{
		notifications := api.Group("/notifications")
		notifications.Use(middleware.JWTAuth(s.opts.JWTSecret, middleware.AllowQueryToken()))
		{
			// 通知一覧と未読件数の取得
			notifications.GET("", s.handleSnapshot())
			// 未読件数の取得
			notifications.GET("/unread-count", s.handleUnreadCount())
			// SSEによるプッシュの購読
			notifications.GET("/stream", s.handleStream())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllRead())
			// 通知を削除する
			notifications.DELETE("/:id", s.handleDelete())
		}

		// 通知作成（内部API - 他サービスから呼び出される）
		internal := api.Group("/internal")
		internal.Use(middleware.InternalToken(s.opts.InternalToken))
		{
			internal.POST("/notifications", s.handleSend())
		}
	}
}

// writeError はドメインエラーをHTTPステータスに変換してレスポンスを書き込む。
// 500の場合だけ原因をログに残し、クライアントには詳細を返さない。
func (s *Server) writeError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
	default:
		_ = c.Error(err)
		s.logger.Error(message, zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

// snapshotQuery は通知一覧取得のクエリパラメータ。
type snapshotQuery struct {
	// Limit は取得する最大件数。0以下なら既定値になる。
	Limit int `form:"limit"`
}

// handleSnapshot は認証済みユーザーの最新の通知と未読件数を返すハンドラ。
func (s *Server) handleSnapshot() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q snapshotQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limitが不正です: %v", err)})
			return
		}

		snapshot, err := s.coordinator.Snapshot(c.Request.Context(), middleware.GetUserID(c), q.Limit)
		if err != nil {
			s.writeError(c, err, "通知一覧の取得に失敗しました")
			return
		}

		c.JSON(http.StatusOK, snapshot)
	}
}

// handleUnreadCount は認証済みユーザーの未読件数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := s.coordinator.UnreadCount(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			s.writeError(c, err, "未読件数の取得に失敗しました")
			return
		}

		c.JSON(http.StatusOK, gin.H{"unread_count": count})
	}
}

// handleMarkRead は指定された通知を既読にするハンドラ。
// 既に既読の通知に対しても成功を返す。
func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.coordinator.MarkRead(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
		if err != nil {
			s.writeError(c, err, "通知の既読処理に失敗しました")
			return
		}

		c.JSON(http.StatusOK, n)
	}
}

// handleMarkAllRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		updated, err := s.coordinator.MarkAllRead(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			s.writeError(c, err, "全通知の既読処理に失敗しました")
			return
		}

		c.JSON(http.StatusOK, gin.H{"updated": updated})
	}
}

// handleDelete は指定された通知を削除するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.coordinator.Delete(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
			s.writeError(c, err, "通知の削除に失敗しました")
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を削除しました"})
	}
}

// sendRequest は通知作成リクエストのJSON構造。
type sendRequest struct {
	// Recipient は通知先のユーザーID。
	Recipient string `json:"recipient" binding:"required"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required"`
	// Link は通知から遷移する先のパス（任意）。
	Link string `json:"link"`
}

// handleSend は通知を作成し、受信者の接続中チャネルへプッシュするハンドラ。
// プッシュの成否はレスポンスに影響しない。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		n, err := s.dispatcher.Notify(c.Request.Context(), req.Recipient, req.Message, req.Link)
		if err != nil {
			s.writeError(c, err, "通知の作成に失敗しました")
			return
		}

		c.JSON(http.StatusCreated, n)
	}
}

// handleWebSocket はWebSocket接続をプッシュチャネルとして登録するハンドラ。
// ユーザーIDは検証済みトークンから取得し、クライアントが送る値は使わない。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgradeがエラーレスポンスを書き込み済み
			s.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
			return
		}

		ch := newWSChannel(conn)
		if err := s.registry.Register(userID, ch); err != nil {
			_ = ch.Close()
			return
		}
		defer func() {
			s.registry.Unregister(ch)
			_ = ch.Close()
		}()
		s.logger.Debug("websocket channel registered", zap.String("user_id", userID))

		s.sendConnected(c.Request.Context(), userID, ch)

		stop := make(chan struct{})
		defer close(stop)
		go s.keepAlive(ch, stop)

		// Pongが2回続けて届かなければ切断とみなす
		err = ch.readLoop(2 * s.opts.PingInterval)
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			s.logger.Debug("websocket closed unexpectedly", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// keepAlive はstopが閉じられるまで定期的にPingを送る。
func (s *Server) keepAlive(ch *wsChannel, stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := ch.ping(); err != nil {
				_ = ch.Close()
				return
			}
		}
	}
}

// handleStream はSSEのストリームをプッシュチャネルとして登録するハンドラ。
func (s *Server) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		ch := newSSEChannel()
		if err := s.registry.Register(userID, ch); err != nil {
			s.writeError(c, ErrUnauthorized, "")
			return
		}
		defer func() {
			s.registry.Unregister(ch)
			_ = ch.Close()
		}()
		s.logger.Debug("sse channel registered", zap.String("user_id", userID))

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		s.sendConnected(c.Request.Context(), userID, ch)

		ticker := time.NewTicker(s.opts.PingInterval)
		defer ticker.Stop()

		ctx := c.Request.Context()
		c.Stream(func(w io.Writer) bool {
			select {
			case f := <-ch.frames:
				c.SSEvent(string(f.Type), f)
				return true
			case <-ticker.C:
				// コメント行はクライアントに無視され、中継するプロキシの切断を防ぐ
				_, err := io.WriteString(w, ": keepalive\n\n")
				return err == nil
			case <-ch.done:
				return false
			case <-ctx.Done():
				return false
			}
		})
	}
}

// sendConnected は登録直後のチャネルに現在の未読件数を含むconnectedフレームを送る。
// 未読件数が取得できない場合も0件としてフレームを送り、クライアントはスナップショットで補正する。
func (s *Server) sendConnected(ctx context.Context, userID string, ch Channel) {
	count, err := s.coordinator.UnreadCount(ctx, userID)
	if err != nil {
		s.logger.Warn("unread count unavailable for connected frame", zap.String("user_id", userID), zap.Error(err))
	}

	frame, err := event.New(event.TypeConnected, event.ConnectedData{UserID: userID, UnreadCount: count})
	if err != nil {
		s.logger.Error("connected frame encode failed", zap.Error(err))
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.PushTimeout)
	defer cancel()
	if err := ch.Send(sendCtx, frame); err != nil {
		s.logger.Debug("connected frame not delivered", zap.String("user_id", userID), zap.Error(err))
	}
}

// checkOrigin はWebSocketハンドシェイクのOriginを検証する。
// Originヘッダーの無いリクエスト（ブラウザ以外のクライアント）は許可する。
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
