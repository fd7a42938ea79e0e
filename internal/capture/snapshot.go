package capture

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
)

const (
	// 既定のJPEG品質 (0.8相当)
	DefaultJPEGQuality = 80

	jpegDataURIPrefix = "data:image/jpeg;base64,"
)

// フレームをオフスクリーンのキャンバスに描画し、JPEGのデータURIにする
// キャンバスはフレームと同じ寸法で作られる
func EncodeSnapshot(frame image.Image, quality int) (string, error) {
	if frame == nil {
		return "", fmt.Errorf("フレームがありません")
	}
	b := frame.Bounds()
	if b.Empty() {
		return "", fmt.Errorf("フレームのサイズが不正です: %dx%d", b.Dx(), b.Dy())
	}
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), frame, b.Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	return jpegDataURIPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
