package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okamyuji/wellness-emotion-tracker/config"
	"github.com/okamyuji/wellness-emotion-tracker/internal/capture"
	"github.com/okamyuji/wellness-emotion-tracker/internal/emotion"
	"github.com/okamyuji/wellness-emotion-tracker/internal/testutil"
)

type testStream struct {
	mu      sync.Mutex
	frame   image.Image
	stopped bool
}

func (s *testStream) ReadFrame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, errors.New("stream stopped")
	}
	return s.frame, nil
}

func (s *testStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func testSource() capture.Source {
	return capture.SourceFunc(func(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
		return &testStream{frame: testutil.CreateTestFrame(c.IdealWidth, c.IdealHeight)}, nil
	})
}

// モデルが無い環境を再現する
func unavailableModels() emotion.BackendFactory {
	return emotion.BackendFactoryFunc(func(ctx context.Context, kind emotion.BackendKind) (emotion.Classifier, error) {
		return nil, errors.New("model not found")
	})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T) (*app, *config.Config) {
	t.Helper()

	cfg := testutil.TestConfig()
	cfg.Camera.IdealWidth = 64
	cfg.Camera.IdealHeight = 48
	a, err := newApp(cfg, testSource(), unavailableModels(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.shutdown(ctx)
		_ = a.Close()
	})
	return a, cfg
}

func TestApp_Health(t *testing.T) {
	a, _ := newTestApp(t)

	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
}

func TestApp_ServerConfiguration(t *testing.T) {
	a, cfg := newTestApp(t)

	assert.Equal(t, "localhost:8080", a.server.Addr)
	assert.Equal(t, cfg.Server.ReadTimeout, a.server.ReadTimeout)
	assert.Equal(t, cfg.Server.WriteTimeout, a.server.WriteTimeout)
	assert.Equal(t, cfg.Server.IdleTimeout, a.server.IdleTimeout)
	assert.Nil(t, a.exporter)
	assert.NotNil(t, a.cache)
}

func TestApp_AnalyzeFallsBackWithoutModel(t *testing.T) {
	a, _ := newTestApp(t)

	payload, err := json.Marshal(map[string]string{"image": testutil.CreateTestDataURI(t, 32, 32)})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result emotion.EmotionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, emotion.SourceFallback, result.Source)
	assert.Contains(t, emotion.FallbackEmotions(), result.Emotion)
	assert.GreaterOrEqual(t, result.Confidence, 60)
	assert.Less(t, result.Confidence, 80)
	assert.Len(t, a.dashboard.History(), 1)
}

func TestApp_CaptureFrameReachesHistory(t *testing.T) {
	a, _ := newTestApp(t)

	post := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		a.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		return rec
	}

	require.Equal(t, http.StatusConflict, post("/api/capture/frame").Code)
	require.Equal(t, http.StatusOK, post("/api/camera/start").Code)
	require.Equal(t, http.StatusAccepted, post("/api/capture/frame").Code)

	require.Eventually(t, func() bool {
		return len(a.dashboard.History()) == 1
	}, 2*time.Second, 5*time.Millisecond, "キャプチャした画像が履歴に追加されていません")

	require.Equal(t, http.StatusOK, post("/api/camera/stop").Code)
	assert.False(t, a.controller.Snapshot().Streaming)
}

func TestApp_ApplyConfig(t *testing.T) {
	a, cfg := newTestApp(t)

	updated := *cfg
	updated.Capture.Interval = 5 * time.Second
	updated.Dashboard.HistoryCapacity = 2
	a.applyConfig(&updated)

	assert.Equal(t, 5*time.Second, a.controller.Interval())
	assert.Equal(t, 2, a.dashboard.HistoryCapacity())
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := testutil.TestConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.ShutdownTimeout = time.Second

	a, err := newApp(cfg, testSource(), unavailableModels(), testLogger())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Runが終了しません")
	}
}

func TestDeviceMap(t *testing.T) {
	m := deviceMap(map[string]int{"user": 0, "environment": 2})
	assert.Equal(t, 0, m[capture.FacingMode("user")])
	assert.Equal(t, 2, m[capture.FacingMode("environment")])
}

func TestLoaderConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Path = "/models/emotion.onnx"

	lc := loaderConfig(cfg)
	assert.Equal(t, "/models/emotion.onnx", lc.ModelPath)
	assert.Empty(t, lc.ConfigPath)
	assert.Equal(t, cfg.Model.Labels, lc.Net.Labels)
	assert.Equal(t, 64, lc.Net.InputSize)
	assert.Nil(t, lc.Face)

	cfg.Model.CropFace = true
	cfg.OpenCV.CascadeFile = "/cascades/face.xml"
	lc = loaderConfig(cfg)
	require.NotNil(t, lc.Face)
	assert.Equal(t, "/cascades/face.xml", lc.Face.CascadeFile)
	assert.Equal(t, 4, lc.Face.MinNeighbors)
}
