package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const baseConfigFile = "config.yaml"

// 設定ファイルの読み込み
type ConfigLoader struct {
	configDir string
	logger    *slog.Logger
}

// 新しいConfigLoaderを作成
func NewConfigLoader(configDir string) *ConfigLoader {
	return &ConfigLoader{
		configDir: configDir,
		logger:    slog.Default(),
	}
}

// ログ出力先を設定
func (l *ConfigLoader) WithLogger(logger *slog.Logger) *ConfigLoader {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// 環境に応じた設定ファイルを読み込む
// 既定値 → config.yaml → config.<env>.yaml → 環境変数 の順に上書きする
func (l *ConfigLoader) LoadConfig() (*Config, error) {
	cfg := Default()

	// 基本設定の読み込み
	if err := l.loadConfigFile(baseConfigFile, cfg); err != nil {
		return nil, err
	}

	// 環境固有の設定の読み込み
	if err := l.loadConfigFile(l.envConfigFile(), cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// 環境変数による上書き
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

func (l *ConfigLoader) envConfigFile() string {
	return fmt.Sprintf("config.%s.yaml", l.GetEnvironment())
}

// 指定された設定ファイルをcfgの上に読み込む
func (l *ConfigLoader) loadConfigFile(filename string, cfg *Config) error {
	data, err := l.loadFile(filename)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("YAMLのパースに失敗 (%s): %w", filename, err)
	}
	return nil
}

// 指定されたファイルを読み込む
func (l *ConfigLoader) loadFile(filename string) ([]byte, error) {
	// パスのバリデーション
	if !strings.HasSuffix(filename, ".yaml") && !strings.HasSuffix(filename, ".yml") {
		return nil, fmt.Errorf("不正なファイル形式です: %s", filename)
	}

	cleanPath := filepath.Clean(filename)
	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("不正なファイルパスです: %s", filename)
	}

	data, err := os.ReadFile(filepath.Join(l.configDir, cleanPath))
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	return data, nil
}

// 環境変数で設定を上書きする
func applyEnv(config *Config) error {
	// アプリケーション設定
	if env := os.Getenv("APP_ENV"); env != "" {
		config.App.Env = env
	}
	if debug := os.Getenv("DEBUG"); debug != "" {
		config.App.Debug = debug == "true"
	}

	// サーバー設定
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
	if host := os.Getenv("HOST"); host != "" {
		config.Server.Host = host
	}

	// セキュリティ設定
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.Security.AllowedOrigins = origins
	}
	if rateLimit := os.Getenv("RATE_LIMIT_REQUESTS"); rateLimit != "" {
		limit, err := strconv.Atoi(rateLimit)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_REQUESTSの解析に失敗: %w", err)
		}
		config.Security.RateLimit.RequestsPerMinute = limit
	}

	// キャプチャ・ダッシュボード設定
	if interval := os.Getenv("CAPTURE_INTERVAL"); interval != "" {
		d, err := parseInterval(interval)
		if err != nil {
			return fmt.Errorf("CAPTURE_INTERVALの解析に失敗: %w", err)
		}
		config.Capture.Interval = d
	}
	if capacity := os.Getenv("HISTORY_CAPACITY"); capacity != "" {
		n, err := strconv.Atoi(capacity)
		if err != nil {
			return fmt.Errorf("HISTORY_CAPACITYの解析に失敗: %w", err)
		}
		config.Dashboard.HistoryCapacity = n
	}

	// モデル設定
	if modelPath := os.Getenv("MODEL_PATH"); modelPath != "" {
		config.Model.Path = modelPath
	}

	// ロギング設定
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		config.Logging.Format = logFormat
	}

	return nil
}

// "3s" のような期間表記か、ミリ秒の整数を受け付ける
func parseInterval(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// 設定の検証
func (l *ConfigLoader) ValidateConfig() error {
	_, err := l.LoadConfig()
	return err
}

// 設定ファイルの変更を監視し、再読み込みした設定をcallbackに渡す
// ctxがキャンセルされると監視を終了する
func (l *ConfigLoader) WatchConfig(ctx context.Context, callback func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("設定の監視開始に失敗: %w", err)
	}

	// エディタによる置き換えも拾えるようディレクトリを監視する
	if err := watcher.Add(l.configDir); err != nil {
		watcher.Close()
		return fmt.Errorf("設定ファイルの監視に失敗: %w", err)
	}

	watched := map[string]bool{
		baseConfigFile:    true,
		l.envConfigFile(): true,
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !watched[filepath.Base(event.Name)] {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := l.LoadConfig()
				if err != nil {
					l.logger.Warn("設定の再読み込みに失敗", "file", event.Name, "error", err)
					continue
				}
				l.logger.Info("設定を再読み込みしました", "file", event.Name)
				callback(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("設定の監視中にエラー", "error", err)
			}
		}
	}()

	return nil
}

// 現在の環境を取得
func (l *ConfigLoader) GetEnvironment() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	return env
}

// 本番環境かどうかを判定
func (l *ConfigLoader) IsProduction() bool {
	return l.GetEnvironment() == "production"
}

// 開発環境かどうかを判定
func (l *ConfigLoader) IsDevelopment() bool {
	return l.GetEnvironment() == "development"
}
