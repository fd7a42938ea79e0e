package errors

import (
	"net/http"
)

// エラーコードの定義
const (
	// 入力検証エラー (4xx)
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeInvalidImage      = "INVALID_IMAGE"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeRequestTooLarge   = "REQUEST_TOO_LARGE"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"

	// カメラ・キャプチャ
	ErrCodeCameraAccess = "CAMERA_ACCESS"
	ErrCodeNotStreaming = "NOT_STREAMING"

	// 分析
	ErrCodeBackendInit        = "BACKEND_INIT"
	ErrCodeAnalysisFailed     = "ANALYSIS_FAILED"
	ErrCodeAnalysisInProgress = "ANALYSIS_IN_PROGRESS"

	// 処理エラー (5xx)
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeTimeout       = "TIMEOUT"

	// AWS関連エラー
	ErrCodeAWSError        = "AWS_ERROR"
	ErrCodeCloudWatchError = "CLOUDWATCH_ERROR"

	// セキュリティエラー
	ErrCodeSecurityError = "SECURITY_ERROR"
)

// エラーメッセージのテンプレート
const (
	MsgInvalidInput      = "不正な入力データです: %s"
	MsgInvalidImage      = "不正な画像フォーマットです: %s"
	MsgInvalidRequest    = "不正なリクエストです: %s"
	MsgRequestTooLarge   = "リクエストサイズが大きすぎます"
	MsgRateLimitExceeded = "レート制限を超過しました"
	MsgForbidden         = "アクセスが拒否されました"
	MsgNotFound          = "リソースが見つかりません: %s"
	MsgInternalError     = "内部エラーが発生しました"
	MsgCameraAccess      = "カメラへのアクセスが拒否されたか、デバイスが見つかりません"
	MsgNotStreaming      = "先にカメラを起動してください"
	MsgBackendInit       = "感情分類器を初期化できませんでした"
	MsgAnalysisFailed    = "感情分析に失敗しました (%s)"
	MsgAnalysisBusy      = "分析が進行中です"
	MsgTimeout           = "処理がタイムアウトしました"
)

// HTTPステータスコードとエラーコードのマッピング
var statusCodeMap = map[string]int{
	ErrCodeInvalidInput:       http.StatusBadRequest,
	ErrCodeInvalidImage:       http.StatusBadRequest,
	ErrCodeInvalidRequest:     http.StatusBadRequest,
	ErrCodeRequestTooLarge:    http.StatusRequestEntityTooLarge,
	ErrCodeRateLimitExceeded:  http.StatusTooManyRequests,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeCameraAccess:       http.StatusServiceUnavailable,
	ErrCodeNotStreaming:       http.StatusConflict,
	ErrCodeBackendInit:        http.StatusServiceUnavailable,
	ErrCodeAnalysisFailed:     http.StatusInternalServerError,
	ErrCodeAnalysisInProgress: http.StatusConflict,
	ErrCodeInternalError:      http.StatusInternalServerError,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeAWSError:           http.StatusInternalServerError,
	ErrCodeCloudWatchError:    http.StatusBadGateway,
	ErrCodeSecurityError:      http.StatusForbidden,
}

// エラーコードに対応するHTTPステータスコードを返す
func GetStatusCode(code string) int {
	if status, ok := statusCodeMap[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
