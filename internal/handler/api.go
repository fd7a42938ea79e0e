// Package handler はトラッカーのローカルJSON APIを提供する。
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/okamyuji/wellness-emotion-tracker/internal/capture"
	"github.com/okamyuji/wellness-emotion-tracker/internal/dashboard"
	"github.com/okamyuji/wellness-emotion-tracker/internal/emotion"
	"github.com/okamyuji/wellness-emotion-tracker/internal/errors"
	"github.com/okamyuji/wellness-emotion-tracker/internal/interfaces"
	"github.com/okamyuji/wellness-emotion-tracker/internal/middleware"
)

// 分析リクエスト
type AnalyzeRequest struct {
	Image string `json:"image"`
}

// エラーレスポンス
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// 現在の状態
type StateResponse struct {
	Session   capture.Session         `json:"session"`
	Analyzing bool                    `json:"analyzing"`
	Backend   BackendHealth           `json:"backend"`
	History   []emotion.EmotionResult `json:"history"`
}

// APIの依存関係
type APIOptions struct {
	Security    *middleware.SecurityMiddleware
	Metrics     http.Handler
	MetricsPath string
	Recorder    interfaces.MetricsCollector
	Logger      *slog.Logger
	Version     string
}

// ローカルJSON API
type API struct {
	controller interfaces.CaptureController
	dashboard  interfaces.Dashboard
	backend    interfaces.BackendStatus
	health     *HealthHandler
	opts       APIOptions
	logger     *slog.Logger
}

// 新しいAPIを作成
func NewAPI(controller interfaces.CaptureController, dash interfaces.Dashboard, backend interfaces.BackendStatus, opts APIOptions) *API {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	return &API{
		controller: controller,
		dashboard:  dash,
		backend:    backend,
		health:     NewHealthHandler(opts.Logger, opts.Version, controller, backend),
		opts:       opts,
		logger:     opts.Logger,
	}
}

// ルーティングを構築
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(a.logger, a.opts.Recorder, routePattern))

	r.NotFound(a.notFound)

	r.Get("/health", a.health.Handle)
	if a.opts.Metrics != nil {
		r.Method(http.MethodGet, a.opts.MetricsPath, a.opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if a.opts.Security != nil {
			r.Use(a.opts.Security.Handler)
		}

		r.Post("/camera/start", a.startCamera)
		r.Post("/camera/stop", a.stopCamera)
		r.Post("/capture/start", a.startCapturing)
		r.Post("/capture/stop", a.stopCapturing)
		r.Post("/capture/frame", a.captureFrame)
		r.Get("/state", a.state)
		r.Post("/analyze", a.analyze)
		r.Get("/summary", a.summary)
		r.Get("/notices", a.notices)
	})

	return r
}

// メトリクスのラベルにはルートパターンを使う
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func (a *API) startCamera(w http.ResponseWriter, r *http.Request) {
	if err := a.controller.Start(r.Context()); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, a.logger, http.StatusOK, a.controller.Snapshot())
}

func (a *API) stopCamera(w http.ResponseWriter, r *http.Request) {
	a.controller.Stop()
	writeJSON(w, a.logger, http.StatusOK, a.controller.Snapshot())
}

func (a *API) startCapturing(w http.ResponseWriter, r *http.Request) {
	if err := a.controller.StartCapturing(); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, a.logger, http.StatusOK, a.controller.Snapshot())
}

func (a *API) stopCapturing(w http.ResponseWriter, r *http.Request) {
	a.controller.StopCapturing()
	writeJSON(w, a.logger, http.StatusOK, a.controller.Snapshot())
}

// 1フレームだけ取得して分析に回す
func (a *API) captureFrame(w http.ResponseWriter, r *http.Request) {
	if !a.controller.Snapshot().Streaming {
		a.writeError(w, r, errors.NotStreamingError())
		return
	}
	a.controller.CaptureFrame()
	writeJSON(w, a.logger, http.StatusAccepted, a.controller.Snapshot())
}

func (a *API) state(w http.ResponseWriter, r *http.Request) {
	resp := StateResponse{
		Session:   a.controller.Snapshot(),
		Analyzing: a.dashboard.Analyzing(),
		History:   a.dashboard.History(),
	}
	if a.backend != nil {
		resp.Backend = BackendHealth{Ready: a.backend.Ready(), Kind: string(a.backend.Backend())}
	}
	writeJSON(w, a.logger, http.StatusOK, resp)
}

func (a *API) analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, errors.ValidationError(fmt.Sprintf(errors.MsgInvalidRequest, "JSON"), err).WithCode(errors.ErrCodeInvalidRequest))
		return
	}
	if req.Image == "" {
		a.writeError(w, r, errors.ValidationError(fmt.Sprintf(errors.MsgInvalidInput, "image"), nil))
		return
	}

	start := time.Now()
	result, err := a.dashboard.Analyze(r.Context(), req.Image)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.Debug("分析が完了", "emotion", result.Emotion, "confidence", result.Confidence, "duration", time.Since(start))
	writeJSON(w, a.logger, http.StatusOK, result)
}

func (a *API) summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.logger, http.StatusOK, a.dashboard.Summary())
}

func (a *API) notices(w http.ResponseWriter, r *http.Request) {
	notices := a.dashboard.Notices()
	if notices == nil {
		notices = []capture.Notice{}
	}
	writeJSON(w, a.logger, http.StatusOK, notices)
}

func (a *API) notFound(w http.ResponseWriter, r *http.Request) {
	a.writeError(w, r, errors.NewError(errors.ErrorTypeValidation, fmt.Sprintf(errors.MsgNotFound, r.URL.Path), nil).WithCode(errors.ErrCodeNotFound))
}

// エラーをステータスコード付きのJSONで返す
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(err)
	status := errors.GetStatusCode(appErr.Code)

	if status >= http.StatusInternalServerError {
		a.logger.Error("リクエストの処理に失敗", "path", r.URL.Path, "code", appErr.Code, "error", err)
	} else {
		a.logger.Warn("リクエストを処理できません", "path", r.URL.Path, "code", appErr.Code, "error", err)
	}
	if a.opts.Recorder != nil {
		a.opts.Recorder.RecordError(string(appErr.Type), appErr.Code)
	}

	writeJSON(w, a.logger, status, ErrorResponse{Error: appErr.Message, Code: appErr.Code})
}

func toAppError(err error) *errors.Error {
	var appErr *errors.Error
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.NewError(errors.ErrorTypeAnalysis, errors.MsgTimeout, err).WithCode(errors.ErrCodeTimeout)
	}
	if errors.Is(err, errors.ErrAnalysisInProgress) {
		return errors.NewError(errors.ErrorTypeAnalysis, errors.MsgAnalysisBusy, err).WithCode(errors.ErrCodeAnalysisInProgress)
	}
	return errors.NewError(errors.ErrorTypeUnexpected, errors.MsgInternalError, err).WithCode(errors.ErrCodeInternalError)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("レスポンスの書き込みに失敗", "error", err)
	}
}

var (
	_ interfaces.Dashboard         = (*dashboard.Dashboard)(nil)
	_ interfaces.CaptureController = (*capture.Controller)(nil)
	_ interfaces.BackendStatus     = (*emotion.Service)(nil)
)
