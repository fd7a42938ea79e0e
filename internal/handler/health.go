package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/okamyuji/wellness-emotion-tracker/internal/interfaces"
)

// ヘルスチェックのレスポンス
type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Uptime  string        `json:"uptime"`
	Camera  string        `json:"camera"`
	Backend BackendHealth `json:"backend"`
}

// 分析バックエンドの状態
type BackendHealth struct {
	Ready bool   `json:"ready"`
	Kind  string `json:"kind,omitempty"`
}

// ヘルスチェックエンドポイントのハンドラー
type HealthHandler struct {
	logger     *slog.Logger
	version    string
	startedAt  time.Time
	controller interfaces.CaptureController
	backend    interfaces.BackendStatus
	now        func() time.Time
}

// 新しいHealthHandlerを作成します
func NewHealthHandler(logger *slog.Logger, version string, controller interfaces.CaptureController, backend interfaces.BackendStatus) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		logger:     logger,
		version:    version,
		startedAt:  time.Now(),
		controller: controller,
		backend:    backend,
		now:        time.Now,
	}
}

// ヘルスチェックリクエストを処理します
// バックエンドが未初期化でもフォールバックで応答できるため常に200を返す
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: h.version,
		Uptime:  h.now().Sub(h.startedAt).Truncate(time.Second).String(),
	}
	if h.controller != nil {
		resp.Camera = h.controller.Snapshot().State
	}
	if h.backend != nil {
		resp.Backend = BackendHealth{Ready: h.backend.Ready(), Kind: string(h.backend.Backend())}
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}
