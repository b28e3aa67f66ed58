package notification

import "github.com/prometheus/client_golang/prometheus"

// 配信結果のラベル値。
const (
	resultDelivered = "delivered"
	resultFailed    = "failed"
	resultClosed    = "closed"
)

// Metrics は通知配信のPrometheusメトリクス。
type Metrics struct {
	created    prometheus.Counter
	deliveries *prometheus.CounterVec
}

// NewMetrics はメトリクスを生成してregに登録する。
// 接続中チャネル数はregistryから都度読み取るゲージとして公開する。
func NewMetrics(reg prometheus.Registerer, registry *Registry) (*Metrics, error) {
	m := &Metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastconnect",
			Name:      "notifications_created_total",
			Help:      "永続化に成功した通知の数。",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fastconnect",
			Name:      "push_deliveries_total",
			Help:      "チャネルごとのプッシュ配信の結果。",
		}, []string{"result"}),
	}
	liveChannels := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "fastconnect",
		Name:      "live_channels",
		Help:      "登録中のプッシュチャネルの数。",
	}, func() float64 { return float64(registry.Count()) })

	for _, c := range []prometheus.Collector{m.created, m.deliveries, liveChannels} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	// ラベルを事前に作成して0から公開する
	for _, result := range []string{resultDelivered, resultFailed, resultClosed} {
		m.deliveries.WithLabelValues(result)
	}
	return m, nil
}

func (m *Metrics) observeCreated() {
	m.created.Inc()
}

func (m *Metrics) observeDelivery(result string) {
	m.deliveries.WithLabelValues(result).Inc()
}
