package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/okamyuji/wellness-emotion-tracker/config"
	"github.com/okamyuji/wellness-emotion-tracker/internal/errors"
	"github.com/okamyuji/wellness-emotion-tracker/internal/interfaces"
	"github.com/okamyuji/wellness-emotion-tracker/pkg/validator"
)

// アップロードを検証するパス
const AnalyzePath = "/api/analyze"

// JSON本文のサイズ上限（画像の上限に加えるデータURIのヘッダー分）
const bodyOverhead = 1 << 10

// セキュリティミドルウェア
type SecurityMiddleware struct {
	config   *config.SecurityConfig
	limiter  *rate.Limiter
	origins  *validator.RequestValidator
	images   *validator.ImageValidator
	maxBody  int64
	logger   *slog.Logger
	recorder interfaces.MetricsCollector
}

// 新しいセキュリティミドルウェアを作成
func NewSecurityMiddleware(cfg *config.SecurityConfig, images *validator.ImageValidator, maxImageSize int64) *SecurityMiddleware {
	if cfg == nil {
		def := config.Default().Security
		cfg = &def
	}
	if images == nil {
		images = validator.NewImageValidator(nil)
	}
	if maxImageSize <= 0 {
		maxImageSize = config.Default().Image.MaxSize
	}

	// Base64で4/3倍になる
	maxBody := maxImageSize/3*4 + 4 + bodyOverhead

	return &SecurityMiddleware{
		config:  cfg,
		limiter: newLimiter(cfg.RateLimit),
		origins: validator.NewRequestValidator(cfg),
		images:  images,
		maxBody: maxBody,
		logger:  slog.Default(),
	}
}

// 1分あたりのリクエスト数からリミッターを作る
func newLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RequestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), burst)
}

// ログ出力先を設定
func (sm *SecurityMiddleware) WithLogger(logger *slog.Logger) *SecurityMiddleware {
	if logger != nil {
		sm.logger = logger
	}
	return sm
}

// 拒否したリクエストの記録先を設定
func (sm *SecurityMiddleware) WithMetrics(recorder interfaces.MetricsCollector) *SecurityMiddleware {
	sm.recorder = recorder
	return sm
}

// ミドルウェアチェーン
func (sm *SecurityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. セキュリティヘッダーの設定（最初に設定）
		sm.setSecurityHeaders(w)

		// 2. レート制限
		if !sm.limiter.Allow() {
			sm.reject(w, r, errors.SecurityError(errors.MsgRateLimitExceeded, nil).WithCode(errors.ErrCodeRateLimitExceeded))
			return
		}

		// 3. CORS
		if err := sm.handleCORS(w, r); err != nil {
			sm.reject(w, r, err)
			return
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// 4. アップロードの検証
		if r.Method == http.MethodPost && r.URL.Path == AnalyzePath {
			if err := sm.validateUpload(r); err != nil {
				sm.reject(w, r, err)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// セキュリティヘッダーの設定
func (sm *SecurityMiddleware) setSecurityHeaders(w http.ResponseWriter) {
	headers := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Cache-Control":           "no-store",
	}
	for header, value := range headers {
		w.Header().Set(header, value)
	}

	// 設定ファイルからのカスタムヘッダーを適用（存在する場合のみ）
	for header, value := range sm.config.Headers {
		w.Header().Set(header, value)
	}
}

// CORS処理
func (sm *SecurityMiddleware) handleCORS(w http.ResponseWriter, r *http.Request) error {
	origin := r.Header.Get("Origin")

	// オリジンが空の場合は同一オリジンのリクエストなので許可
	if origin == "" {
		return nil
	}

	// 同一オリジン
	if origin != "http://"+r.Host && origin != "https://"+r.Host {
		if err := sm.origins.ValidateOrigin(origin); err != nil {
			return err
		}
	}

	cors := sm.config.CORS
	methods := cors.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	if len(cors.AllowedHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(cors.AllowedHeaders, ", "))
	}
	if cors.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cors.MaxAge))
	}
	w.Header().Add("Vary", "Origin")
	return nil
}

// アップロードの検証
func (sm *SecurityMiddleware) validateUpload(r *http.Request) error {
	// Content-Typeの確認
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return errors.ValidationError("不正なContent-Type", nil).WithCode(errors.ErrCodeInvalidRequest)
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, sm.maxBody+1))
	if err != nil {
		return errors.ValidationError("リクエストボディの読み取りに失敗", err).WithCode(errors.ErrCodeInvalidRequest)
	}
	if int64(len(bodyBytes)) > sm.maxBody {
		return errors.ValidationError(errors.MsgRequestTooLarge, nil).WithCode(errors.ErrCodeRequestTooLarge)
	}

	// 元のボディを復元
	r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var body struct {
		Image string `json:"image"`
	}
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return errors.ValidationError("不正なJSONフォーマット", err).WithCode(errors.ErrCodeInvalidRequest)
	}

	return sm.images.ValidateDataURI(body.Image)
}

func (sm *SecurityMiddleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := errors.GetStatusCode(code)

	sm.logger.Warn("リクエストを拒否",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
		"code", code,
		"error", err,
	)
	if sm.recorder != nil {
		sm.recorder.RecordError("SECURITY", code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

// レスポンスのステータスを記録するラッパー
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// リクエストのログとメトリクスを記録する
// routeはchiのルートパターンなど、メトリクスのラベルに使うパス
func RequestLogger(logger *slog.Logger, recorder interfaces.MetricsCollector, route func(*http.Request) string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			path := r.URL.Path
			if route != nil {
				if p := route(r); p != "" {
					path = p
				}
			}
			if recorder != nil {
				recorder.ObserveRequest(r.Method, path, duration, rec.status)
			}
			logger.Debug("リクエスト",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", duration,
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
