package validator

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okamyuji/wellness-emotion-tracker/config"
	"github.com/okamyuji/wellness-emotion-tracker/internal/errors"
	"github.com/okamyuji/wellness-emotion-tracker/internal/testutil"
)

func TestImageValidator_ValidateDataURI(t *testing.T) {
	cfg := config.Default().Image
	v := NewImageValidator(&cfg)

	small := &config.ImageConfig{MaxSize: 64, AllowedTypes: []string{"image/jpeg"}, MaxDimension: 4096}
	narrow := &config.ImageConfig{MaxSize: 5 << 20, AllowedTypes: []string{"image/jpeg"}, MaxDimension: 16}

	tests := []struct {
		name      string
		validator *ImageValidator
		data      string
		wantCode  string
	}{
		{"正常なJPEG", v, testutil.CreateTestDataURI(t, 48, 48), ""},
		{"カンマがない", v, "data:image/jpeg;base64", errors.ErrCodeInvalidImage},
		{"Base64でない", v, "data:image/jpeg,abc", errors.ErrCodeInvalidImage},
		{"許可されていないタイプ", v, "data:image/gif;base64,R0lGOD", errors.ErrCodeInvalidImage},
		{"デコードできない", v, "data:image/jpeg;base64,!!!!", errors.ErrCodeInvalidImage},
		{"画像でない", v, "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("hello")), errors.ErrCodeInvalidImage},
		{"サイズ超過", NewImageValidator(small), testutil.CreateTestDataURI(t, 48, 48), errors.ErrCodeRequestTooLarge},
		{"寸法超過", NewImageValidator(narrow), testutil.CreateTestDataURI(t, 48, 48), errors.ErrCodeInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.validator.ValidateDataURI(tt.data)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
			assert.Equal(t, tt.wantCode, errors.CodeOf(err))
		})
	}
}

func TestExtractMimeType(t *testing.T) {
	assert.Equal(t, "image/jpeg", extractMimeType("data:image/jpeg;base64"))
	assert.Equal(t, "image/png", extractMimeType("data:IMAGE/PNG;base64"))
	assert.Equal(t, "", extractMimeType("image/png;base64"))
}

func TestRequestValidator_ValidateOrigin(t *testing.T) {
	v := NewRequestValidator(&config.SecurityConfig{AllowedOrigins: "http://localhost:5173, http://127.0.0.1:5173,"})

	assert.NoError(t, v.ValidateOrigin(""))
	assert.NoError(t, v.ValidateOrigin("http://localhost:5173"))
	assert.NoError(t, v.ValidateOrigin("http://127.0.0.1:5173"))

	err := v.ValidateOrigin("http://evil.example")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSecurity))
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "http://evil.example")

	assert.Equal(t, []string{"http://localhost:5173", "http://127.0.0.1:5173"}, v.AllowedOrigins())
	assert.Error(t, NewRequestValidator(nil).ValidateOrigin("http://localhost:5173"))
}
