package database

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_db_queries_total",
		Help: "クエリゲートウェイを通過したクエリ数（バックエンド・結果別）。",
	}, []string{"backend", "status"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gallery_db_query_duration_seconds",
		Help:    "クエリの実行時間（変換・エミュレーションを含む）。",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})
)

// observe はクエリ1件分のメトリクスを記録する。
func observe(backend Backend, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	queriesTotal.WithLabelValues(string(backend), status).Inc()
	queryDuration.WithLabelValues(string(backend)).Observe(time.Since(start).Seconds())
}
