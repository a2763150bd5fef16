// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 投稿パイプラインとキャッシュの観測に使用する。
type Collector struct {
	runSuccess      prometheus.Counter
	runFail         *prometheus.CounterVec
	published       prometheus.Counter
	duplicates      prometheus.Counter
	publishFailures prometheus.Counter
	runDuration     prometheus.Histogram
	cacheHitRate    prometheus.Gauge
	cacheSize       prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telecast_run_success_total",
			Help: "投稿サイクル成功の合計数",
		}),
		runFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telecast_run_fail_total",
			Help: "投稿サイクル失敗のエラーコード別の合計数",
		}, []string{"code"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telecast_posts_published_total",
			Help: "チャンネルに投稿したアイテムの合計数",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telecast_duplicates_skipped_total",
			Help: "投稿済みとしてスキップしたアイテムの合計数",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telecast_publish_failures_total",
			Help: "投稿または記録に失敗したアイテムの合計数",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telecast_run_duration_seconds",
			Help:    "投稿サイクルの実行時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telecast_cache_hit_rate",
			Help: "スクレイプキャッシュのヒット率（パーセント）",
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telecast_cache_entries",
			Help: "スクレイプキャッシュの現在のエントリ数",
		}),
	}

	reg.MustRegister(
		c.runSuccess,
		c.runFail,
		c.published,
		c.duplicates,
		c.publishFailures,
		c.runDuration,
		c.cacheHitRate,
		c.cacheSize,
	)

	return c
}

// RecordRunSuccess は投稿サイクルの成功を記録する。
func (c *Collector) RecordRunSuccess() {
	c.runSuccess.Inc()
}

// RecordRunFailure は投稿サイクルの失敗をエラーコード別に記録する。
func (c *Collector) RecordRunFailure(code string) {
	c.runFail.WithLabelValues(code).Inc()
}

// RecordPublished は投稿したアイテム数を記録する。
func (c *Collector) RecordPublished(count int) {
	c.published.Add(float64(count))
}

// RecordDuplicates は重複スキップしたアイテム数を記録する。
func (c *Collector) RecordDuplicates(count int) {
	c.duplicates.Add(float64(count))
}

// RecordPublishFailures は投稿失敗したアイテム数を記録する。
func (c *Collector) RecordPublishFailures(count int) {
	c.publishFailures.Add(float64(count))
}

// RecordRunDuration は投稿サイクルの実行時間を記録する。
func (c *Collector) RecordRunDuration(duration time.Duration) {
	c.runDuration.Observe(duration.Seconds())
}

// SetCacheStats はキャッシュのヒット率とエントリ数を記録する。
func (c *Collector) SetCacheStats(hitRate float64, size int) {
	c.cacheHitRate.Set(hitRate)
	c.cacheSize.Set(float64(size))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
