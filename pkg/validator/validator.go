package validator

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"slices"
	"strings"

	"github.com/okamyuji/wellness-emotion-tracker/config"
	"github.com/okamyuji/wellness-emotion-tracker/internal/errors"
)

// 画像のバリデーション
type ImageValidator struct {
	config *config.ImageConfig
}

// 新しいImageValidator
func NewImageValidator(cfg *config.ImageConfig) *ImageValidator {
	if cfg == nil {
		def := config.Default().Image
		cfg = &def
	}
	return &ImageValidator{
		config: cfg,
	}
}

// データURI形式の画像を検証
func (v *ImageValidator) ValidateDataURI(data string) error {
	header, payload, ok := strings.Cut(data, ",")
	if !ok || payload == "" {
		return invalidImage("不正な画像データフォーマット", nil)
	}
	if !strings.HasSuffix(header, ";base64") {
		return invalidImage("Base64形式ではありません", nil)
	}

	// MIMEタイプの検証
	mimeType := extractMimeType(header)
	if !v.isAllowedMimeType(mimeType) {
		return invalidImage(fmt.Sprintf("不正な画像タイプ: %s", mimeType), nil)
	}

	// サイズチェック（デコード前に概算）
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > v.config.MaxSize+2 {
		return errors.ValidationError(errors.MsgRequestTooLarge, nil).WithCode(errors.ErrCodeRequestTooLarge)
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return invalidImage("Base64デコードエラー", err)
	}
	if int64(len(decoded)) > v.config.MaxSize {
		return errors.ValidationError(errors.MsgRequestTooLarge, nil).WithCode(errors.ErrCodeRequestTooLarge)
	}

	return v.validateImageDimensions(decoded)
}

// 画像の寸法を検証
func (v *ImageValidator) validateImageDimensions(data []byte) error {
	img, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return invalidImage("画像のデコードに失敗", err)
	}

	if img.Width == 0 || img.Height == 0 {
		return invalidImage("画像が空です", nil)
	}
	if img.Width > v.config.MaxDimension || img.Height > v.config.MaxDimension {
		return invalidImage(fmt.Sprintf("画像サイズが大きすぎます: %dx%d", img.Width, img.Height), nil)
	}

	return nil
}

// 許可されたMIMEタイプかどうかを判定
func (v *ImageValidator) isAllowedMimeType(mimeType string) bool {
	return mimeType != "" && slices.Contains(v.config.AllowedTypes, mimeType)
}

func invalidImage(detail string, err error) error {
	return errors.ValidationError(fmt.Sprintf(errors.MsgInvalidImage, detail), err).WithCode(errors.ErrCodeInvalidImage)
}

// データURIのヘッダーからMIMEタイプを抽出
func extractMimeType(header string) string {
	if !strings.HasPrefix(header, "data:") {
		return ""
	}

	mimeType, _, _ := strings.Cut(strings.TrimPrefix(header, "data:"), ";")
	return strings.ToLower(mimeType)
}

// HTTPリクエストの検証
type RequestValidator struct {
	allowed []string
}

// 新しいRequestValidator
func NewRequestValidator(cfg *config.SecurityConfig) *RequestValidator {
	v := &RequestValidator{}
	if cfg == nil {
		return v
	}
	for _, origin := range strings.Split(cfg.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			v.allowed = append(v.allowed, origin)
		}
	}
	return v
}

// Originヘッダーを検証
func (v *RequestValidator) ValidateOrigin(origin string) error {
	if origin == "" {
		return nil // 同一オリジンの場合はスキップ
	}

	if slices.Contains(v.allowed, origin) {
		return nil
	}

	return errors.SecurityError(errors.MsgForbidden, fmt.Errorf("許可されていないオリジン: %s", origin)).WithCode(errors.ErrCodeForbidden)
}

// 許可されたオリジンの一覧
func (v *RequestValidator) AllowedOrigins() []string {
	return slices.Clone(v.allowed)
}
