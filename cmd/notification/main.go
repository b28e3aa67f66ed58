// 通知サービスのエントリポイント。
// 通知を永続化し、接続中のクライアントへWebSocket/SSEでリアルタイムに配信する。
// KAFKA_BROKERSを指定すると上流サービスの通知要求をKafkaからも受け付ける。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/fastconnect/internal/config"
	"github.com/nao1215/fastconnect/internal/ingest"
	"github.com/nao1215/fastconnect/internal/notification"
	"github.com/nao1215/fastconnect/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("通知サービスが異常終了しました", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "notification")), nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		SampleRatio: cfg.OTelSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		// シグナルでctxはキャンセル済みのため別のコンテキストで送信を待つ
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("トレースの送信に失敗しました", zap.Error(err))
		}
	}()
	if cfg.OTelEndpoint != "" {
		logger.Info("tracing enabled", zap.String("endpoint", cfg.OTelEndpoint))
	}

	store, err := notification.OpenSQLiteStore(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.JWTSecret == config.DevJWTSecret {
		logger.Warn("JWT_SECRETが未設定のため開発用の秘密鍵を使用します")
	}
	if cfg.InternalToken == "" {
		logger.Warn("INTERNAL_TOKENが未設定のため内部APIは全て拒否されます")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := notification.Options{
		Port:           cfg.Port,
		JWTSecret:      cfg.JWTSecret,
		InternalToken:  cfg.InternalToken,
		AllowedOrigins: cfg.AllowedOrigins,
		PushTimeout:    cfg.PushTimeout,
		PingInterval:   cfg.PingInterval,
	}
	server, err := notification.NewServer(store, opts, reg, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx)
	})
	if cfg.KafkaEnabled() {
		reader := ingest.NewReader(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic)
		consumer := ingest.NewConsumer(reader, server.Dispatcher(), logger.With(zap.String("topic", cfg.KafkaTopic)))
		g.Go(func() error {
			return consumer.Run(ctx)
		})
	}
	return g.Wait()
}
