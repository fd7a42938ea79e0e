package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okamyuji/wellness-emotion-tracker/config"
	"github.com/okamyuji/wellness-emotion-tracker/internal/analyzer"
	"github.com/okamyuji/wellness-emotion-tracker/internal/cache"
	"github.com/okamyuji/wellness-emotion-tracker/internal/capture"
	"github.com/okamyuji/wellness-emotion-tracker/internal/capture/device"
	"github.com/okamyuji/wellness-emotion-tracker/internal/dashboard"
	"github.com/okamyuji/wellness-emotion-tracker/internal/emotion"
	"github.com/okamyuji/wellness-emotion-tracker/internal/handler"
	"github.com/okamyuji/wellness-emotion-tracker/internal/metrics"
	"github.com/okamyuji/wellness-emotion-tracker/internal/middleware"
	"github.com/okamyuji/wellness-emotion-tracker/internal/resource"
	"github.com/okamyuji/wellness-emotion-tracker/internal/worker"
	"github.com/okamyuji/wellness-emotion-tracker/pkg/validator"
)

// リソースメトリクスの収集間隔
const statsInterval = 15 * time.Second

// 組み立て済みのコンポーネント
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.MetricsCollector
	exporter   *metrics.CloudWatchExporter
	cache      *cache.Manager[[]emotion.Prediction]
	service    *emotion.Service
	pool       *worker.Pool
	dashboard  *dashboard.Dashboard
	controller *capture.Controller
	server     *http.Server
}

// 設定からコンポーネントを組み立てる
func newApp(cfg *config.Config, source capture.Source, models emotion.BackendFactory, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewMetricsCollector(),
	}

	if cfg.Analysis.CacheEnabled {
		a.cache = cache.NewManager[[]emotion.Prediction](cache.Config{
			MaxEntries: cfg.Analysis.CacheEntries,
			TTL:        cfg.Analysis.CacheTTL,
		})
	}

	a.service = emotion.NewService(models, emotion.ServiceOptions{
		Logger:     logger.With("component", "emotion"),
		Metrics:    a.metrics,
		Cache:      a.cache,
		StrictInit: cfg.Analysis.StrictInit,
		Timeout:    cfg.Analysis.Timeout,
	})

	a.pool = worker.NewPool(int32(cfg.Analysis.MinWorkers), int32(cfg.Analysis.MaxWorkers))

	a.dashboard = dashboard.New(a.service, dashboard.Config{
		HistoryCapacity: cfg.Dashboard.HistoryCapacity,
		DropOverlapping: cfg.Dashboard.DropOverlapping,
		AnalysisTimeout: cfg.Analysis.Timeout,
		NoticeCapacity:  cfg.Dashboard.NoticeCapacity,
	}, dashboard.Options{
		Dispatcher: a.pool,
		Logger:     logger.With("component", "dashboard"),
		Metrics:    a.metrics,
	})

	captureLogger := logger.With("component", "capture")
	a.controller = capture.NewController(source, capture.Options{
		Constraints: capture.Constraints{
			IdealWidth:  cfg.Camera.IdealWidth,
			IdealHeight: cfg.Camera.IdealHeight,
			Facing:      capture.FacingMode(cfg.Camera.FacingMode),
		},
		Interval:    cfg.Capture.Interval,
		JPEGQuality: cfg.Capture.JPEGQuality,
		Notifier:    capture.MultiNotifier{a.dashboard, capture.NewLogNotifier(captureLogger)},
		Listener:    a.dashboard.HandleCapture,
		Logger:      captureLogger,
		Metrics:     a.metrics,
	})

	security := middleware.NewSecurityMiddleware(&cfg.Security, validator.NewImageValidator(&cfg.Image), cfg.Image.MaxSize).
		WithLogger(logger).
		WithMetrics(a.metrics)

	opts := handler.APIOptions{
		Security: security,
		Recorder: a.metrics,
		Logger:   logger.With("component", "http"),
		Version:  cfg.App.Version,
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = a.metrics.Handler()
		opts.MetricsPath = cfg.Metrics.Path
	}
	api := handler.NewAPI(a.controller, a.dashboard, a.service, opts)

	a.server = &http.Server{
		Addr:           cfg.Address(),
		Handler:        api.Routes(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		client, err := metrics.NewCloudWatchClient(cw.Region)
		if err != nil {
			logger.Warn("CloudWatchへの送信を無効にします", "error", err)
		} else {
			a.exporter = metrics.NewCloudWatchExporter(client, cw.Namespace, cw.Interval).WithLogger(logger)
		}
	}

	return a, nil
}

// ctxが終わるまでサーバーと周辺のループを動かす
// loaderがnilの場合は設定ファイルを監視しない
func (a *app) Run(ctx context.Context, loader *config.ConfigLoader) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.metrics.Run(ctx, statsInterval) })
	g.Go(func() error { return a.reportStats(ctx, statsInterval) })
	if a.exporter != nil {
		g.Go(func() error { return a.exporter.Start(ctx, a.metrics) })
	}

	if a.cfg.Analysis.Preload {
		g.Go(func() error {
			if err := a.service.Initialize(ctx); err != nil {
				a.logger.Warn("分類器の事前読み込みに失敗。分析はフォールバックします", "error", err)
			}
			return nil
		})
	}

	if loader != nil {
		if err := loader.WatchConfig(ctx, a.applyConfig); err != nil {
			a.logger.Warn("設定ファイルを監視できません", "error", err)
		}
	}

	g.Go(func() error {
		a.logger.Info("サーバーを起動します", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.shutdown(shutdownCtx)
	})

	return g.Wait()
}

// サーバー、カメラ、ワーカーの順に停止する
func (a *app) shutdown(ctx context.Context) error {
	a.logger.Info("シャットダウンします")

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("サーバーの停止に失敗: %w", err))
	}
	a.controller.Stop()
	if err := a.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ワーカーの停止に失敗: %w", err))
	}
	return errors.Join(errs...)
}

// 再読み込みした設定のうち実行中に変更できる値を反映する
func (a *app) applyConfig(cfg *config.Config) {
	a.controller.SetInterval(cfg.Capture.Interval)
	a.dashboard.SetHistoryCapacity(cfg.Dashboard.HistoryCapacity)
	a.logger.Info("設定を反映しました",
		"capture_interval", cfg.Capture.Interval,
		"history_capacity", cfg.Dashboard.HistoryCapacity,
	)
}

// ワーカーとキャッシュの状態をメトリクスに反映する
func (a *app) reportStats(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.metrics.UpdateWorkerCount(int(a.pool.GetStats().CurrentWorkers))
		if a.cache != nil {
			a.metrics.UpdateCacheStats(a.cache.GetStats().ItemCount)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// 分類器とキャッシュを解放する
func (a *app) Close() error {
	var errs []error
	if err := a.service.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// 設定の向きごとのデバイス番号
func deviceMap(devices map[string]int) device.DeviceMap {
	out := make(device.DeviceMap, len(devices))
	for facing, id := range devices {
		out[capture.FacingMode(facing)] = id
	}
	return out
}

// 設定からモデル読み込みの設定を作る
func loaderConfig(cfg *config.Config) analyzer.LoaderConfig {
	lc := analyzer.LoaderConfig{
		ModelPath:  resource.ResolvePath(cfg.Model.Path),
		ConfigPath: resource.ResolvePath(cfg.Model.ConfigPath),
		Net: analyzer.NetConfig{
			Labels:       cfg.Model.Labels,
			InputSize:    cfg.Model.InputSize,
			Scale:        cfg.Model.Scale,
			Mean:         cfg.Model.Mean,
			SwapRB:       cfg.Model.SwapRB,
			Grayscale:    cfg.Model.Grayscale,
			ApplySoftmax: cfg.Model.ApplySoftmax,
		},
	}
	if cfg.Model.CropFace && cfg.OpenCV.CascadeFile != "" {
		lc.Face = &analyzer.FaceConfig{
			CascadeFile:  resource.ResolvePath(cfg.OpenCV.CascadeFile),
			MinFaceSize:  cfg.OpenCV.MinFaceSize,
			ScaleFactor:  cfg.OpenCV.ScaleFactor,
			MinNeighbors: cfg.OpenCV.MinNeighbors,
			Flags:        cfg.OpenCV.Flags,
		}
	}
	return lc
}
