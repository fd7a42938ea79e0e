package emotion

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

// データURIを画像にデコードする
func DecodeDataURI(dataURI string) (image.Image, error) {
	raw, err := DataURIBytes(dataURI)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("画像のデコードに失敗: %w", err)
	}
	return img, nil
}

// データURIから画像のバイト列を取り出す
func DataURIBytes(dataURI string) ([]byte, error) {
	header, data, ok := strings.Cut(dataURI, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return nil, fmt.Errorf("不正なデータURIです")
	}
	if !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("base64以外のデータURIは未対応です")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("Base64デコードエラー: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("画像データが空です")
	}
	return raw, nil
}
