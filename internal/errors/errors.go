package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// エラーの種類を表す
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR"
	ErrorTypeSecurity   ErrorType = "SECURITY_ERROR"
	ErrorTypeCamera     ErrorType = "CAMERA_ERROR"
	ErrorTypeCapture    ErrorType = "CAPTURE_ERROR"
	ErrorTypeBackend    ErrorType = "BACKEND_ERROR"
	ErrorTypeAnalysis   ErrorType = "ANALYSIS_ERROR"
	ErrorTypeAWS        ErrorType = "AWS_ERROR"
	ErrorTypeUnexpected ErrorType = "UNEXPECTED_ERROR"
)

// カスタムエラー型
type Error struct {
	Type    ErrorType
	Message string
	Code    string
	Err     error
	Stack   []Frame
}

// スタックフレームを表す
type Frame struct {
	File     string
	Line     int
	Function string
}

// ドメインのセンチネルエラー
var (
	ErrCameraAccess       = errors.New("カメラにアクセスできません")
	ErrCameraNotFound     = errors.New("カメラデバイスが見つかりません")
	ErrNotStreaming       = errors.New("カメラが起動していません")
	ErrStreamClosed       = errors.New("ストリームは既に停止しています")
	ErrBackendInit        = errors.New("分類バックエンドの初期化に失敗しました")
	ErrBackendUnavailable = errors.New("分類バックエンドが利用できません")
	ErrNoPrediction       = errors.New("感情が検出されませんでした")
	ErrAnalysisInProgress = errors.New("別の分析が進行中です")
)

// errorインターフェースを実装
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Type, e.Message)
	if e.Code != "" {
		fmt.Fprintf(&b, " (code: %s)", e.Code)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// errors.Unwrapのサポート
func (e *Error) Unwrap() error {
	return e.Err
}

// スタックトレースを追加
func (e *Error) WithStack() *Error {
	if len(e.Stack) > 0 {
		return e
	}

	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := make([]Frame, 0, n)
	for {
		frame, more := frames.Next()
		if strings.Contains(frame.File, "wellness-emotion-tracker") {
			stack = append(stack, Frame{
				File:     frame.File,
				Line:     frame.Line,
				Function: frame.Function,
			})
		}
		if !more {
			break
		}
	}
	e.Stack = stack
	return e
}

// エラーコードを設定
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// 新しいエラーを作成
func NewError(errType ErrorType, message string, err error) *Error {
	e := &Error{
		Type:    errType,
		Message: message,
		Err:     err,
	}
	return e.WithStack()
}

// バリデーションエラーを作成
func ValidationError(message string, err error) *Error {
	return NewError(ErrorTypeValidation, message, err).WithCode(ErrCodeInvalidInput)
}

// セキュリティエラーを作成
func SecurityError(message string, err error) *Error {
	return NewError(ErrorTypeSecurity, message, err).WithCode(ErrCodeSecurityError)
}

// カメラアクセスエラーを作成（権限拒否・デバイスなしを区別しない）
func CameraAccessError(err error) *Error {
	if err == nil {
		err = ErrCameraAccess
	} else if !errors.Is(err, ErrCameraAccess) {
		err = fmt.Errorf("%w: %w", ErrCameraAccess, err)
	}
	return NewError(ErrorTypeCamera, MsgCameraAccess, err).WithCode(ErrCodeCameraAccess)
}

// ストリーム未開始エラーを作成
func NotStreamingError() *Error {
	return NewError(ErrorTypeCapture, MsgNotStreaming, ErrNotStreaming).WithCode(ErrCodeNotStreaming)
}

// バックエンド初期化エラーを作成
func BackendInitError(causes ...error) *Error {
	err := errors.Join(append([]error{ErrBackendInit}, causes...)...)
	return NewError(ErrorTypeBackend, MsgBackendInit, err).WithCode(ErrCodeBackendInit)
}

// 分析エラーを作成
func AnalysisError(stage string, err error) *Error {
	return NewError(ErrorTypeAnalysis, fmt.Sprintf(MsgAnalysisFailed, stage), err).WithCode(ErrCodeAnalysisFailed)
}

// AWSエラーを作成
func AWSError(service, operation string, err error) *Error {
	message := fmt.Sprintf("AWS %s: %s failed", service, operation)
	return NewError(ErrorTypeAWS, message, err).WithCode(ErrCodeAWSError)
}

// エラーの種類を判定
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if ok := As(err, &e); ok {
		return e.Type == errType
	}
	return false
}

// エラーコードを取得
func CodeOf(err error) string {
	var e *Error
	if As(err, &e) && e.Code != "" {
		return e.Code
	}
	return ErrCodeInternalError
}

// errors.Asのラッパー
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// errors.Isのラッパー
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// errors.Joinのラッパー
func Join(errs ...error) error {
	return errors.Join(errs...)
}
