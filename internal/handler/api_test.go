package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okamyuji/wellness-emotion-tracker/internal/capture"
	"github.com/okamyuji/wellness-emotion-tracker/internal/dashboard"
	"github.com/okamyuji/wellness-emotion-tracker/internal/emotion"
	"github.com/okamyuji/wellness-emotion-tracker/internal/errors"
	"github.com/okamyuji/wellness-emotion-tracker/internal/middleware"
	"github.com/okamyuji/wellness-emotion-tracker/internal/testutil"
	"github.com/okamyuji/wellness-emotion-tracker/pkg/validator"
)

// 状態だけを持つコントローラー
type fakeController struct {
	mu        sync.Mutex
	streaming bool
	capturing bool
	startErr  error
	frames    int
}

func (c *fakeController) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.streaming = true
	return nil
}

func (c *fakeController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming, c.capturing = false, false
}

func (c *fakeController) StartCapturing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return errors.NotStreamingError()
	}
	c.capturing = true
	return nil
}

func (c *fakeController) StopCapturing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capturing = false
}

func (c *fakeController) CaptureFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
}

func (c *fakeController) Snapshot() capture.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := capture.StateIdle
	switch {
	case c.capturing:
		state = capture.StateStreamingAndCapturing
	case c.streaming:
		state = capture.StateStreaming
	}
	return capture.Session{State: state.String(), Streaming: c.streaming, Capturing: c.capturing, Interval: "3s"}
}

type fakeAnalyzer struct {
	block   chan struct{}
	entered chan struct{}
}

func (a *fakeAnalyzer) AnalyzeEmotion(ctx context.Context, dataURI string) (emotion.EmotionResult, error) {
	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.block != nil {
		<-a.block
	}
	return emotion.EmotionResult{Emotion: emotion.EmotionHappy, Confidence: 82, Timestamp: time.Now(), Source: emotion.SourceModel}, nil
}

type fakeBackend struct{}

func (fakeBackend) Ready() bool                  { return true }
func (fakeBackend) Backend() emotion.BackendKind { return emotion.BackendDefault }

type fakeRecorder struct {
	mu     sync.Mutex
	paths  []string
	errors []string
}

func (f *fakeRecorder) ObserveRequest(method, path string, duration time.Duration, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, method+" "+path)
}

func (f *fakeRecorder) RecordError(errorType, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, code)
}

type testServer struct {
	handler    http.Handler
	controller *fakeController
	dashboard  *dashboard.Dashboard
	analyzer   *fakeAnalyzer
	recorder   *fakeRecorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := testutil.TestConfig()

	ctrl := &fakeController{}
	analyzer := &fakeAnalyzer{}
	dash := dashboard.New(analyzer, dashboard.Config{HistoryCapacity: 5, DropOverlapping: true}, dashboard.Options{})
	rec := &fakeRecorder{}

	security := middleware.NewSecurityMiddleware(&cfg.Security, validator.NewImageValidator(&cfg.Image), cfg.Image.MaxSize)
	api := NewAPI(ctrl, dash, fakeBackend{}, APIOptions{
		Security: security,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		Recorder: rec,
		Version:  "test",
	})

	return &testServer{handler: api.Routes(), controller: ctrl, dashboard: dash, analyzer: analyzer, recorder: rec}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAPI_Health(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, "idle", health.Camera)
	assert.True(t, health.Backend.Ready)
	assert.Equal(t, string(emotion.BackendDefault), health.Backend.Kind)
}

func TestAPI_Metrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestAPI_NotFound(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/nope", "/api/nope"} {
		rec := s.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, errors.ErrCodeNotFound, resp.Code, path)
		assert.Contains(t, resp.Error, path)
	}
}

func TestAPI_AnalyzeMissingImage(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/analyze", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CameraLifecycle(t *testing.T) {
	s := newTestServer(t)

	// 起動前のキャプチャ開始は409
	rec := s.do(t, http.MethodPost, "/api/capture/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, errors.ErrCodeNotStreaming, decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/capture/frame", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/camera/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "streaming", decode[capture.Session](t, rec).State)

	rec = s.do(t, http.MethodPost, "/api/capture/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "streaming_and_capturing", decode[capture.Session](t, rec).State)

	rec = s.do(t, http.MethodPost, "/api/capture/frame", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, s.controller.frames)

	rec = s.do(t, http.MethodPost, "/api/capture/stop", "")
	assert.Equal(t, "streaming", decode[capture.Session](t, rec).State)

	rec = s.do(t, http.MethodPost, "/api/camera/stop", "")
	assert.Equal(t, "idle", decode[capture.Session](t, rec).State)

	assert.Contains(t, s.recorder.paths, "POST /api/capture/start")
	assert.Contains(t, s.recorder.errors, errors.ErrCodeNotStreaming)
}

func TestAPI_CameraAccessDenied(t *testing.T) {
	s := newTestServer(t)
	s.controller.startErr = errors.CameraAccessError(nil)

	rec := s.do(t, http.MethodPost, "/api/camera/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, errors.ErrCodeCameraAccess, resp.Code)
	assert.Equal(t, errors.MsgCameraAccess, resp.Error)
}

func TestAPI_Analyze(t *testing.T) {
	s := newTestServer(t)
	uri := testutil.CreateTestDataURI(t, 32, 32)

	rec := s.do(t, http.MethodPost, "/api/analyze", `{"image":"`+uri+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[emotion.EmotionResult](t, rec)
	assert.Equal(t, emotion.EmotionHappy, result.Emotion)
	assert.Equal(t, 82, result.Confidence)

	rec = s.do(t, http.MethodGet, "/api/state", "")
	state := decode[StateResponse](t, rec)
	require.Len(t, state.History, 1)
	assert.False(t, state.Analyzing)

	rec = s.do(t, http.MethodGet, "/api/summary", "")
	summary := decode[dashboard.Summary](t, rec)
	assert.Equal(t, emotion.EmotionHappy, summary.DominantMood)
	assert.Equal(t, "Just now", summary.Recent[0].TimeAgo)
}

func TestAPI_AnalyzeRejected(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/analyze", `{"image":"not-a-data-uri"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.ErrCodeInvalidImage, decode[ErrorResponse](t, rec).Code)
	assert.Empty(t, s.dashboard.History())
}

func TestAPI_AnalyzeInProgress(t *testing.T) {
	s := newTestServer(t)
	s.analyzer.block = make(chan struct{})
	s.analyzer.entered = make(chan struct{}, 1)
	uri := testutil.CreateTestDataURI(t, 32, 32)

	done := make(chan int, 1)
	go func() {
		done <- s.do(t, http.MethodPost, "/api/analyze", `{"image":"`+uri+`"}`).Code
	}()
	<-s.analyzer.entered

	rec := s.do(t, http.MethodPost, "/api/analyze", `{"image":"`+uri+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, errors.ErrCodeAnalysisInProgress, decode[ErrorResponse](t, rec).Code)

	close(s.analyzer.block)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestAPI_Notices(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/notices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	s.dashboard.Notify(capture.Notice{Title: "Webcam activated", Level: capture.LevelInfo})
	notices := decode[[]capture.Notice](t, s.do(t, http.MethodGet, "/api/notices", ""))
	require.Len(t, notices, 1)
	assert.Equal(t, "Webcam activated", notices[0].Title)
}

func TestToAppError(t *testing.T) {
	assert.Equal(t, errors.ErrCodeAnalysisInProgress, toAppError(errors.ErrAnalysisInProgress).Code)
	assert.Equal(t, errors.ErrCodeTimeout, toAppError(context.DeadlineExceeded).Code)
	assert.Equal(t, errors.ErrCodeInternalError, toAppError(stderrors.New("boom")).Code)
	assert.Equal(t, errors.ErrCodeNotStreaming, toAppError(errors.NotStreamingError()).Code)
}
