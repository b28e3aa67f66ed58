// Package config は通知サービスの設定を読み込む。
//
// 設定は既定値、CONFIG_FILEで指定した設定ファイル、環境変数の順に上書きされる。
// 設定ファイルのキーは環境変数名を小文字にしたもの（例: push_timeout）。
// allowed_originsとkafka_brokersは設定ファイルではYAMLのリストでも指定できる。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// DevJWTSecret はJWT_SECRETが未設定の場合に使う開発用の秘密鍵。
const DevJWTSecret = "dev-secret-key"

// Config は通知サービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// DatabasePath はSQLiteのDSN。
	DatabasePath string
	// JWTSecret はユーザートークンの検証に使う秘密鍵。
	JWTSecret string
	// InternalToken は内部APIの共有トークン。空の場合、内部APIは全て拒否される。
	InternalToken string
	// AllowedOrigins はCORSとWebSocketで許可するオリジン。
	AllowedOrigins []string
	// PushTimeout は1チャネルへのプッシュに許す時間。
	PushTimeout time.Duration
	// PingInterval はキープアライブの送信間隔。
	PingInterval time.Duration
	// LogLevel はログの出力レベル。
	LogLevel zapcore.Level
	// KafkaBrokers は通知要求を購読するKafkaのブローカー。空ならコンシューマを起動しない。
	KafkaBrokers []string
	// KafkaTopic は通知要求のトピック。
	KafkaTopic string
	// KafkaGroupID はコンシューマグループのID。
	KafkaGroupID string
	// OTelEndpoint はトレースを送るOTLP/HTTPコレクタ。空ならトレースを出力しない。
	OTelEndpoint string
	// OTelServiceName はスパンに付与するサービス名。
	OTelServiceName string
	// OTelSampleRatio はトレースのサンプリング率（0〜1）。
	OTelSampleRatio float64
}

// KafkaEnabled はKafkaコンシューマを起動するかを返す。
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load は環境変数と任意の設定ファイルから設定を読み込んで検証する。
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("port", "8086")
	v.SetDefault("database_path", "/data/notification.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	v.SetDefault("jwt_secret", DevJWTSecret)
	v.SetDefault("internal_token", "")
	v.SetDefault("allowed_origins", "http://localhost:3000")
	v.SetDefault("push_timeout", "5s")
	v.SetDefault("ping_interval", "30s")
	v.SetDefault("log_level", "info")
	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_topic", "notifications.requested")
	v.SetDefault("kafka_group_id", "notification-service")
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("otel_service_name", "notification-service")
	v.SetDefault("otel_traces_sampler_arg", 1.0)
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		}
	}

	level, err := zapcore.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVELが不正です: %w", err)
	}

	cfg := &Config{
		Port:            v.GetString("port"),
		DatabasePath:    v.GetString("database_path"),
		JWTSecret:       v.GetString("jwt_secret"),
		InternalToken:   v.GetString("internal_token"),
		AllowedOrigins:  getList(v, "allowed_origins"),
		PushTimeout:     v.GetDuration("push_timeout"),
		PingInterval:    v.GetDuration("ping_interval"),
		LogLevel:        level,
		KafkaBrokers:    getList(v, "kafka_brokers"),
		KafkaTopic:      v.GetString("kafka_topic"),
		KafkaGroupID:    v.GetString("kafka_group_id"),
		OTelEndpoint:    v.GetString("otel_exporter_otlp_endpoint"),
		OTelServiceName: v.GetString("otel_service_name"),
		OTelSampleRatio: v.GetFloat64("otel_traces_sampler_arg"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORTが空です"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATHが空です"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRETが空です"))
	}
	if c.PushTimeout <= 0 {
		errs = append(errs, errors.New("PUSH_TIMEOUTは正の値である必要があります"))
	}
	if c.PingInterval <= 0 {
		errs = append(errs, errors.New("PING_INTERVALは正の値である必要があります"))
	}
	if c.KafkaEnabled() && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_BROKERSを指定した場合はKAFKA_TOPICが必要です"))
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACES_SAMPLER_ARGは0から1の範囲である必要があります"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("設定が不正です: %w", errors.Join(errs...))
	}
	return nil
}

// getList はリスト型の設定値を読む。
// 環境変数ではカンマ区切りの文字列、設定ファイルではYAMLのリストで指定される。
func getList(v *viper.Viper, key string) []string {
	if _, ok := v.Get(key).([]any); ok {
		return splitList(strings.Join(v.GetStringSlice(key), ","))
	}
	return splitList(v.GetString(key))
}

// splitList はカンマ区切りの文字列を空要素を除いたスライスにする。
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
