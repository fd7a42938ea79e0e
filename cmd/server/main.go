package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/okamyuji/wellness-emotion-tracker/config"
	"github.com/okamyuji/wellness-emotion-tracker/internal/analyzer"
	"github.com/okamyuji/wellness-emotion-tracker/internal/capture/device"
	"github.com/okamyuji/wellness-emotion-tracker/internal/resource"
	"github.com/okamyuji/wellness-emotion-tracker/pkg/logger"
)

// バージョン情報
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildTime  = "unknown"
)

func main() {
	// コマンドライン引数の解析
	var (
		showVersion bool
		configDir   string
	)
	flag.BoolVar(&showVersion, "version", false, "バージョン情報を表示")
	flag.StringVar(&configDir, "config-dir", "config", "設定ファイルのディレクトリ")
	flag.Parse()

	// バージョン情報の表示
	if showVersion {
		fmt.Printf("Version: %s\nCommit: %s\nBuild Time: %s\n", Version, CommitHash, BuildTime)
		return
	}

	if err := run(configDir); err != nil {
		slog.Error("サーバーの実行に失敗", "error", err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	loader := config.NewConfigLoader(resource.ResolvePath(configDir))
	cfg, err := loader.LoadConfig()
	if err != nil {
		return err
	}

	// 構造化ロギングをセットアップ
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Close()
	slog.SetDefault(log.Logger)
	loader.WithLogger(log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := device.NewSource(deviceMap(cfg.Camera.Devices), log.Logger)
	models := analyzer.NewLoader(loaderConfig(cfg), log.Logger)

	app, err := newApp(cfg, source, models, log.Logger)
	if err != nil {
		return err
	}
	defer app.Close()

	log.Info("起動しました",
		"version", Version,
		"commit", CommitHash,
		"env", cfg.App.Env,
		"addr", cfg.Address(),
	)
	return app.Run(ctx, loader)
}
