package analyzer

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// 顔検出のパラメータ
type FaceConfig struct {
	CascadeFile  string
	MinFaceSize  int
	ScaleFactor  float64
	MinNeighbors int
	Flags        int
}

// Haar cascadeによる顔検出器
// CascadeClassifierはスレッドセーフではないため排他制御する
type FaceDetector struct {
	mu      sync.Mutex
	cascade gocv.CascadeClassifier
	cfg     FaceConfig
	closed  bool
}

// カスケードファイルを読み込んで顔検出器を作成
func NewFaceDetector(cfg FaceConfig) (*FaceDetector, error) {
	if cfg.CascadeFile == "" {
		return nil, fmt.Errorf("カスケード分類器のファイルパスが指定されていません")
	}
	if cfg.ScaleFactor <= 1.0 {
		cfg.ScaleFactor = 1.1
	}
	if cfg.MinNeighbors <= 0 {
		cfg.MinNeighbors = 3
	}

	cascade := gocv.NewCascadeClassifier()
	if !cascade.Load(cfg.CascadeFile) {
		cascade.Close()
		return nil, fmt.Errorf("カスケード分類器の読み込みに失敗: %s", cfg.CascadeFile)
	}

	return &FaceDetector{cascade: cascade, cfg: cfg}, nil
}

// グレースケール画像から顔の領域を検出
func (d *FaceDetector) Detect(gray gocv.Mat) []image.Rectangle {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	minSize := image.Point{X: d.cfg.MinFaceSize, Y: d.cfg.MinFaceSize}
	if minSize.X <= 0 {
		minSize = image.Point{X: gray.Cols() / 8, Y: gray.Rows() / 8}
	}
	maxSize := image.Point{X: gray.Cols(), Y: gray.Rows()}

	return d.cascade.DetectMultiScaleWithParams(
		gray,
		d.cfg.ScaleFactor,
		d.cfg.MinNeighbors,
		d.cfg.Flags,
		minSize,
		maxSize,
	)
}

func (d *FaceDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.cascade.Close()
}

// 面積が最大の領域を返す
func largestFace(rects []image.Rectangle) (image.Rectangle, bool) {
	if len(rects) == 0 {
		return image.Rectangle{}, false
	}
	best := rects[0]
	for _, r := range rects[1:] {
		if r.Dx()*r.Dy() > best.Dx()*best.Dy() {
			best = r
		}
	}
	return best, true
}

// 領域を画像の範囲内に収める
func clampRect(r image.Rectangle, width, height int) (image.Rectangle, bool) {
	x, y := r.Min.X, r.Min.Y
	w, h := r.Dx(), r.Dy()

	if x < 0 {
		w += x
		x = 0
	}
	if y < 0 {
		h += y
		y = 0
	}
	if x+w > width {
		w = width - x
	}
	if y+h > height {
		h = height - y
	}

	// 有効な領域サイズをチェック
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(x, y, x+w, y+h), true
}
