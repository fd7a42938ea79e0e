// Package metrics はトラッカーの動作状況をPrometheus形式で収集する。
package metrics

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "emotion_tracker"

// 処理時間を記録する操作名
const (
	OpClassify = "classify"
	OpAnalyze  = "analyze"
	OpInit     = "backend_init"
)

// アプリケーションメトリクスを収集
type MetricsCollector struct {
	registry *prometheus.Registry

	// HTTPメトリクス
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCounter    *prometheus.CounterVec

	// キャプチャメトリクス
	captures     *prometheus.CounterVec
	cameraActive prometheus.Gauge

	// 分析メトリクス
	analysisResults  *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	backendInits     *prometheus.CounterVec
	processingTime   *prometheus.HistogramVec
	analysesInFlight prometheus.Gauge
	analysesDropped  prometheus.Counter
	historySize      prometheus.Gauge

	// リソースメトリクス
	memoryUsage    prometheus.Gauge
	goroutineCount prometheus.Gauge
	workerCount    prometheus.Gauge

	// キャッシュメトリクス
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheItems  prometheus.Gauge
}

// 新しいメトリクスコレクターを作成
func NewMetricsCollector() *MetricsCollector {
	// カスタムレジストリを作成
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &MetricsCollector{registry: registry}

	// リクエストメトリクス
	m.requestCounter = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "処理されたリクエストの総数",
	}, []string{"method", "path", "status"})

	m.requestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "リクエスト処理時間の分布",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "path"})

	m.errorCounter = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "エラーの総数",
	}, []string{"type", "code"})

	// キャプチャメトリクス
	m.captures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captures_total",
		Help:      "取得したフレーム数",
	}, []string{"result"})

	m.cameraActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "camera_active",
		Help:      "カメラが起動中なら1",
	})

	// 分析メトリクス
	m.analysisResults = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "analysis_results_total",
		Help:      "感情分析の結果分布",
	}, []string{"emotion", "confidence_range", "source"})

	m.fallbacks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallbacks_total",
		Help:      "フォールバックした分析の数",
	}, []string{"reason"})

	m.backendInits = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_init_total",
		Help:      "バックエンド初期化の試行数",
	}, []string{"backend", "result"})

	m.processingTime = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "processing_time_seconds",
		Help:      "処理時間の分布",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"operation"})

	m.analysesInFlight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "analyses_in_flight",
		Help:      "実行中の分析数",
	})

	m.analysesDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "analyses_dropped_total",
		Help:      "前の分析が終わっていないため破棄したフレーム数",
	})

	m.historySize = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "history_size",
		Help:      "履歴に保持している結果の数",
	})

	// リソースメトリクス
	m.memoryUsage = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_bytes",
		Help:      "使用中のメモリ量",
	})

	m.goroutineCount = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "goroutines",
		Help:      "実行中のgoroutine数",
	})

	m.workerCount = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workers",
		Help:      "分析ワーカー数",
	})

	// キャッシュメトリクス
	m.cacheHits = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "キャッシュヒット数",
	}, []string{"cache_type"})

	m.cacheMisses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "キャッシュミス数",
	}, []string{"cache_type"})

	m.cacheItems = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_items",
		Help:      "キャッシュアイテム数",
	})

	return m
}

// メトリクスを登録したレジストリ
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// /metrics用のハンドラー
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ctxが終わるまで定期的にリソースメトリクスを収集
func (m *MetricsCollector) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.collectResourceMetrics()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.collectResourceMetrics()
		}
	}
}

// リソース使用状況を収集
func (m *MetricsCollector) collectResourceMetrics() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	m.memoryUsage.Set(float64(stats.Alloc))
	m.goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// リクエストメトリクスを記録
func (m *MetricsCollector) ObserveRequest(method, path string, duration time.Duration, status int) {
	m.requestCounter.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// エラーを記録
func (m *MetricsCollector) RecordError(errorType, code string) {
	m.errorCounter.WithLabelValues(errorType, code).Inc()
}

// フレーム取得を記録
func (m *MetricsCollector) RecordCapture(success bool) {
	result := "ok"
	if !success {
		result = "error"
	}
	m.captures.WithLabelValues(result).Inc()
}

// カメラの稼働状態を更新
func (m *MetricsCollector) SetCameraActive(active bool) {
	if active {
		m.cameraActive.Set(1)
		return
	}
	m.cameraActive.Set(0)
}

// 分析結果を記録
func (m *MetricsCollector) RecordAnalysis(emotion string, confidence int, source string) {
	m.analysisResults.WithLabelValues(emotion, getConfidenceRange(confidence), source).Inc()
}

// 信頼度 (0..100) の範囲を文字列で返す
func getConfidenceRange(confidence int) string {
	switch {
	case confidence >= 90:
		return "very_high"
	case confidence >= 70:
		return "high"
	case confidence >= 50:
		return "medium"
	case confidence >= 30:
		return "low"
	default:
		return "very_low"
	}
}

// フォールバックを記録
func (m *MetricsCollector) RecordFallback(reason string) {
	m.fallbacks.WithLabelValues(reason).Inc()
}

// バックエンド初期化の結果を記録
func (m *MetricsCollector) RecordBackendInit(backend string, success bool) {
	result := "ok"
	if !success {
		result = "error"
	}
	m.backendInits.WithLabelValues(backend, result).Inc()
}

// 処理時間を記録
func (m *MetricsCollector) RecordProcessingTime(operation string, duration time.Duration) {
	m.processingTime.WithLabelValues(operation).Observe(duration.Seconds())
}

// 分析の開始と終了を記録
func (m *MetricsCollector) AnalysisStarted()  { m.analysesInFlight.Inc() }
func (m *MetricsCollector) AnalysisFinished() { m.analysesInFlight.Dec() }

// 破棄したフレームを記録
func (m *MetricsCollector) RecordDropped() {
	m.analysesDropped.Inc()
}

// 履歴件数を更新
func (m *MetricsCollector) SetHistorySize(n int) {
	m.historySize.Set(float64(n))
}

// キャッシュ操作を記録
func (m *MetricsCollector) RecordCacheOperation(hit bool, cacheType string) {
	if hit {
		m.cacheHits.WithLabelValues(cacheType).Inc()
	} else {
		m.cacheMisses.WithLabelValues(cacheType).Inc()
	}
}

// キャッシュ統計を更新
func (m *MetricsCollector) UpdateCacheStats(items int) {
	m.cacheItems.Set(float64(items))
}

// ワーカー数を更新
func (m *MetricsCollector) UpdateWorkerCount(count int) {
	m.workerCount.Set(float64(count))
}
