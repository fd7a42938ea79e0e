// Package interfaces はHTTP層が依存するコンポーネントの境界を定義する。
package interfaces

import (
	"context"
	"time"

	"github.com/okamyuji/wellness-emotion-tracker/internal/capture"
	"github.com/okamyuji/wellness-emotion-tracker/internal/dashboard"
	"github.com/okamyuji/wellness-emotion-tracker/internal/emotion"
)

// カメラとキャプチャの操作
type CaptureController interface {
	Start(ctx context.Context) error
	Stop()
	StartCapturing() error
	StopCapturing()
	CaptureFrame()
	Snapshot() capture.Session
}

// 分析結果の集約先
type Dashboard interface {
	Analyze(ctx context.Context, dataURI string) (emotion.EmotionResult, error)
	History() []emotion.EmotionResult
	Summary() dashboard.Summary
	Notices() []capture.Notice
	Analyzing() bool
}

// 分析バックエンドの状態
type BackendStatus interface {
	Ready() bool
	Backend() emotion.BackendKind
}

// リクエストメトリクスの記録先
type MetricsCollector interface {
	ObserveRequest(method, path string, duration time.Duration, status int)
	RecordError(errorType, code string)
}
