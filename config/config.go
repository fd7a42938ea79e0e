package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// アプリケーション設定
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		Env     string `yaml:"env"`
		Debug   bool   `yaml:"debug"`
	} `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Image     ImageConfig     `yaml:"image"`
	Camera    CameraConfig    `yaml:"camera"`
	Capture   CaptureConfig   `yaml:"capture"`
	OpenCV    OpenCVConfig    `yaml:"opencv"`
	Model     ModelConfig     `yaml:"model"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// サーバー設定
type ServerConfig struct {
	Port            string        `yaml:"port"`
	Host            string        `yaml:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`
}

// セキュリティ設定
type SecurityConfig struct {
	AllowedOrigins string            `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig   `yaml:"rate_limit"`
	CORS           CORSConfig        `yaml:"cors"`
	Headers        map[string]string `yaml:"headers"`
}

// レートリミット設定
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// CORS設定
type CORSConfig struct {
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// 画像設定
type ImageConfig struct {
	MaxSize      int64    `yaml:"max_size"`
	AllowedTypes []string `yaml:"allowed_types"`
	MaxDimension int      `yaml:"max_dimension"`
}

// カメラ設定
type CameraConfig struct {
	IdealWidth  int    `yaml:"ideal_width"`
	IdealHeight int    `yaml:"ideal_height"`
	FacingMode  string `yaml:"facing_mode"`
	// 向きごとのデバイス番号 (user, environment)
	Devices map[string]int `yaml:"devices"`
}

// 定期キャプチャ設定
type CaptureConfig struct {
	Interval    time.Duration `yaml:"interval"`
	JPEGQuality int           `yaml:"jpeg_quality"`
}

// 顔検出 (Haar cascade) 設定
type OpenCVConfig struct {
	CascadeFile  string  `yaml:"cascade_file"`
	MinFaceSize  int     `yaml:"min_face_size"`
	ScaleFactor  float64 `yaml:"scale_factor"`
	MinNeighbors int     `yaml:"min_neighbors"`
	Flags        int     `yaml:"flags"`
}

// 表情分類モデル設定
type ModelConfig struct {
	Path         string    `yaml:"path"`
	ConfigPath   string    `yaml:"config_path"`
	Labels       []string  `yaml:"labels"`
	InputSize    int       `yaml:"input_size"`
	Scale        float64   `yaml:"scale"`
	Mean         []float64 `yaml:"mean"`
	SwapRB       bool      `yaml:"swap_rb"`
	Grayscale    bool      `yaml:"grayscale"`
	ApplySoftmax bool      `yaml:"apply_softmax"`
	CropFace     bool      `yaml:"crop_face"`
}

// 感情分析サービス設定
type AnalysisConfig struct {
	StrictInit   bool          `yaml:"strict_init"`
	Preload      bool          `yaml:"preload"`
	Timeout      time.Duration `yaml:"timeout"` // 1回の分類を待つ上限。超えるとフォールバックする
	CacheEnabled bool          `yaml:"cache_enabled"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	CacheEntries int           `yaml:"cache_entries"`
	MinWorkers   int           `yaml:"min_workers"`
	MaxWorkers   int           `yaml:"max_workers"`
}

// ダッシュボード設定
type DashboardConfig struct {
	HistoryCapacity int  `yaml:"history_capacity"`
	DropOverlapping bool `yaml:"drop_overlapping"`
	NoticeCapacity  int  `yaml:"notice_capacity"`
}

// メトリクス設定
type MetricsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Path       string           `yaml:"path"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

// CloudWatch送信設定
type CloudWatchConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Namespace string        `yaml:"namespace"`
	Region    string        `yaml:"region"`
	Interval  time.Duration `yaml:"interval"`
}

// ログ設定
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	Fields map[string]string `yaml:"fields"`
}

// 既定の設定値
func Default() *Config {
	cfg := &Config{}
	cfg.App.Name = "wellness-emotion-tracker"
	cfg.App.Version = "1.0.0"
	cfg.App.Env = "development"

	cfg.Server = ServerConfig{
		Port:            "8080",
		Host:            "127.0.0.1",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxHeaderBytes:  1 << 20,
	}
	cfg.Security = SecurityConfig{
		AllowedOrigins: "http://localhost:5173",
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
			Burst:             20,
		},
		CORS: CORSConfig{
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         600,
		},
	}
	cfg.Image = ImageConfig{
		MaxSize:      5 << 20,
		AllowedTypes: []string{"image/jpeg", "image/png"},
		MaxDimension: 4096,
	}
	cfg.Camera = CameraConfig{
		IdealWidth:  640,
		IdealHeight: 480,
		FacingMode:  "user",
		Devices:     map[string]int{"user": 0},
	}
	cfg.Capture = CaptureConfig{
		Interval:    3000 * time.Millisecond,
		JPEGQuality: 80,
	}
	cfg.OpenCV = OpenCVConfig{
		MinFaceSize:  30,
		ScaleFactor:  1.1,
		MinNeighbors: 4,
	}
	cfg.Model = ModelConfig{
		Path:         "models/emotion.onnx",
		Labels:       []string{"anger", "disgust", "fear", "joy", "neutral", "sadness", "surprise"},
		InputSize:    64,
		Scale:        1.0 / 255.0,
		Mean:         []float64{0, 0, 0},
		Grayscale:    true,
		ApplySoftmax: true,
	}
	cfg.Analysis = AnalysisConfig{
		Timeout:      5 * time.Second,
		CacheEnabled: true,
		CacheTTL:     time.Minute,
		CacheEntries: 32,
		MinWorkers:   1,
		MaxWorkers:   2,
	}
	cfg.Dashboard = DashboardConfig{
		HistoryCapacity: 5,
		DropOverlapping: true,
		NoticeCapacity:  20,
	}
	cfg.Metrics = MetricsConfig{
		Enabled: true,
		Path:    "/metrics",
		CloudWatch: CloudWatchConfig{
			Namespace: "WellnessEmotionTracker",
			Region:    "ap-northeast-1",
			Interval:  time.Minute,
		},
	}
	cfg.Logging = LoggingConfig{
		Level:  "info",
		Format: "text",
		Output: "stdout",
	}
	return cfg
}

// 単一の設定ファイルを既定値の上に読み込む
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込みエラー: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパースエラー: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// 設定値の検証
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("アプリケーション名が設定されていません")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("サーバーポートが設定されていません")
	}
	if c.Image.MaxSize <= 0 {
		return fmt.Errorf("不正な最大画像サイズです")
	}
	if c.Security.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("不正なレートリミットです: %d", c.Security.RateLimit.RequestsPerMinute)
	}
	if c.OpenCV.CascadeFile != "" && c.OpenCV.ScaleFactor <= 1.0 {
		return fmt.Errorf("不正なスケールファクターです")
	}
	if c.Capture.Interval <= 0 {
		return fmt.Errorf("不正なキャプチャ間隔です: %s", c.Capture.Interval)
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("不正なJPEG品質です: %d", c.Capture.JPEGQuality)
	}
	if c.Dashboard.HistoryCapacity <= 0 {
		return fmt.Errorf("不正な履歴件数です: %d", c.Dashboard.HistoryCapacity)
	}
	if len(c.Model.Labels) == 0 {
		return fmt.Errorf("モデルのラベルが設定されていません")
	}
	if c.Model.InputSize <= 0 {
		return fmt.Errorf("不正なモデル入力サイズです: %d", c.Model.InputSize)
	}
	if c.Analysis.MinWorkers <= 0 || c.Analysis.MaxWorkers < c.Analysis.MinWorkers {
		return fmt.Errorf("不正なワーカー数です: min=%d max=%d", c.Analysis.MinWorkers, c.Analysis.MaxWorkers)
	}
	return nil
}

// 待ち受けアドレス
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// 開発環境かどうかを判定
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// 本番環境かどうかを判定
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
