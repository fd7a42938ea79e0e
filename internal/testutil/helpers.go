package testutil

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/okamyuji/wellness-emotion-tracker/config"
)

// テスト用の設定を生成
func TestConfig() *config.Config {
	cfg := config.Default()
	cfg.App.Name = "test-app"
	cfg.App.Version = "1.0.0"
	cfg.App.Env = "test"
	cfg.App.Debug = true
	cfg.Server.Port = "8080"
	cfg.Server.Host = "localhost"
	cfg.Server.ReadTimeout = 5 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Security.AllowedOrigins = "http://localhost:8080"
	cfg.Security.RateLimit = config.RateLimitConfig{
		RequestsPerMinute: 1000,
		Burst:             100,
	}
	return cfg
}

// テスト用の画像を生成（白背景に肌色の円）
func CreateTestFrame(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	centerX := width / 2
	centerY := height / 2
	radius := min(width, height) / 4

	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			dx := x - centerX
			dy := y - centerY
			if dx*dx+dy*dy < radius*radius {
				img.Set(x, y, color.RGBA{255, 220, 180, 255}) // 肌色
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

// JPEGエンコードされたテスト画像を生成
func CreateTestImage(tb testing.TB, width, height int) []byte {
	tb.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, CreateTestFrame(width, height), &jpeg.Options{Quality: 80}); err != nil {
		tb.Fatalf("画像のエンコードに失敗: %v", err)
	}
	return buf.Bytes()
}

// データURI形式のテスト画像を生成
func CreateTestDataURI(tb testing.TB, width, height int) string {
	tb.Helper()
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(CreateTestImage(tb, width, height))
}
