package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/okamyuji/wellness-emotion-tracker/internal/errors"
)

// CloudWatchクライアントのインターフェース
type CloudWatchClientInterface interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// 環境変数の認証情報でCloudWatchクライアントを作成
// AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_SESSION_TOKEN, AWS_REGION を参照する
func NewCloudWatchClient(region string) (*cloudwatch.Client, error) {
	if r := os.Getenv("AWS_REGION"); r != "" {
		region = r
	}
	if region == "" {
		return nil, fmt.Errorf("AWSリージョンが設定されていません")
	}

	creds := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		id := os.Getenv("AWS_ACCESS_KEY_ID")
		secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
		if id == "" || secret == "" {
			return aws.Credentials{}, fmt.Errorf("AWSの認証情報が環境変数にありません")
		}
		return aws.Credentials{
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "EnvironmentVariables",
		}, nil
	})

	cfg := aws.Config{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	}
	return cloudwatch.NewFromConfig(cfg), nil
}

// CloudWatchExporterの構造体
type CloudWatchExporter struct {
	client    CloudWatchClientInterface
	namespace string
	interval  time.Duration
	logger    *slog.Logger
}

// 新しいCloudWatchExporterを作成
func NewCloudWatchExporter(client CloudWatchClientInterface, namespace string, interval time.Duration) *CloudWatchExporter {
	return &CloudWatchExporter{
		client:    client,
		namespace: namespace,
		interval:  interval,
		logger:    slog.Default(),
	}
}

// ログ出力先を設定
func (e *CloudWatchExporter) WithLogger(logger *slog.Logger) *CloudWatchExporter {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// コレクターの全系列の値を合計する
func getMetricValue(c prometheus.Collector) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	var total float64
	for m := range ch {
		if v, err := extractValue(m); err == nil {
			total += v
		}
	}
	return total
}

// 指定したラベル値を持つ系列だけを合計する
func getLabeledValue(c prometheus.Collector, label, value string) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	var total float64
	for m := range ch {
		metric := &dto.Metric{}
		if err := m.Write(metric); err != nil || !hasLabel(metric, label, value) {
			continue
		}
		if v, err := valueOf(metric); err == nil {
			total += v
		}
	}
	return total
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

// メトリクスから値を抽出
func extractValue(m prometheus.Metric) (float64, error) {
	metric := &dto.Metric{}
	if err := m.Write(metric); err != nil {
		return 0, err
	}
	return valueOf(metric)
}

func valueOf(metric *dto.Metric) (float64, error) {
	switch {
	case metric.Counter != nil:
		return metric.Counter.GetValue(), nil
	case metric.Gauge != nil:
		return metric.Gauge.GetValue(), nil
	case metric.Histogram != nil:
		return float64(metric.Histogram.GetSampleCount()), nil
	case metric.Summary != nil:
		return float64(metric.Summary.GetSampleCount()), nil
	}
	return 0, fmt.Errorf("未対応のメトリクス型です")
}

func datum(name string, value float64, unit types.StandardUnit, dims ...types.Dimension) types.MetricDatum {
	return types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Dimensions: dims,
	}
}

func dimension(name, value string) types.Dimension {
	return types.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// 現在のスナップショットを送信
func (e *CloudWatchExporter) export(ctx context.Context, collector *MetricsCollector) error {
	metrics := []types.MetricDatum{
		datum("memory_bytes", getMetricValue(collector.memoryUsage), types.StandardUnitBytes),
		datum("goroutines", getMetricValue(collector.goroutineCount), types.StandardUnitCount),
		datum("camera_active", getMetricValue(collector.cameraActive), types.StandardUnitNone),
		datum("captures_total", getMetricValue(collector.captures), types.StandardUnitCount),
		datum("analyses_total", getLabeledValue(collector.analysisResults, "source", "model"), types.StandardUnitCount,
			dimension("Source", "model")),
		datum("analyses_total", getLabeledValue(collector.analysisResults, "source", "fallback"), types.StandardUnitCount,
			dimension("Source", "fallback")),
		datum("fallbacks_total", getMetricValue(collector.fallbacks), types.StandardUnitCount),
		datum("analyses_in_flight", getMetricValue(collector.analysesInFlight), types.StandardUnitCount),
		datum("analyses_dropped_total", getMetricValue(collector.analysesDropped), types.StandardUnitCount),
		datum("errors_total", getMetricValue(collector.errorCounter), types.StandardUnitCount),
		datum("cache_hits_total", getMetricValue(collector.cacheHits), types.StandardUnitCount),
		datum("cache_misses_total", getMetricValue(collector.cacheMisses), types.StandardUnitCount),
	}

	// 処理時間の統計
	metrics = append(metrics, e.calculateProcessingTimeStats(collector)...)

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(e.namespace),
		MetricData: metrics,
	}

	if _, err := e.client.PutMetricData(ctx, input); err != nil {
		return errors.AWSError("cloudwatch", "PutMetricData", err).WithCode(errors.ErrCodeCloudWatchError)
	}
	return nil
}

// 処理時間の平均
func (e *CloudWatchExporter) calculateProcessingTimeStats(collector *MetricsCollector) []types.MetricDatum {
	operations := []string{OpClassify, OpAnalyze, OpInit}
	var stats []types.MetricDatum

	for _, op := range operations {
		observer := collector.processingTime.WithLabelValues(op)
		metric := &dto.Metric{}
		if err := observer.(prometheus.Metric).Write(metric); err != nil {
			continue
		}
		if metric.Histogram == nil {
			continue
		}

		value := float64(0)
		if count := metric.Histogram.GetSampleCount(); count > 0 {
			value = metric.Histogram.GetSampleSum() / float64(count)
		}
		stats = append(stats, datum("processing_time_seconds", value, types.StandardUnitSeconds,
			dimension("Operation", op)))
	}

	return stats
}

// ctxが終わるまで定期的にエクスポートする
func (e *CloudWatchExporter) Start(ctx context.Context, collector *MetricsCollector) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.export(ctx, collector); err != nil {
				e.logger.Error("メトリクスのエクスポートに失敗", "error", err)
			}
		}
	}
}
