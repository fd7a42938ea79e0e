// Package analyzer はOpenCVのDNNモジュールで表情を分類するバックエンドを提供する。
package analyzer

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/okamyuji/wellness-emotion-tracker/internal/emotion"
	"github.com/okamyuji/wellness-emotion-tracker/internal/errors"
)

// ネットワークへの入力と出力の解釈
type NetConfig struct {
	Labels       []string
	InputSize    int
	Scale        float64
	Mean         []float64
	SwapRB       bool
	Grayscale    bool
	ApplySoftmax bool
}

func (c NetConfig) mean() gocv.Scalar {
	var m [4]float64
	copy(m[:], c.Mean)
	return gocv.NewScalar(m[0], m[1], m[2], m[3])
}

// DNNで表情を分類するemotion.Classifier
// gocv.Netは並行実行できないため1回の分類ごとに排他制御する
type NetClassifier struct {
	mu     sync.Mutex
	net    gocv.Net
	cfg    NetConfig
	faces  *FaceDetector
	kind   emotion.BackendKind
	closed bool
}

func newNetClassifier(net gocv.Net, cfg NetConfig, faces *FaceDetector, kind emotion.BackendKind) *NetClassifier {
	return &NetClassifier{
		net:   net,
		cfg:   cfg,
		faces: faces,
		kind:  kind,
	}
}

// 使用中のバックエンド
func (c *NetClassifier) Kind() emotion.BackendKind {
	return c.kind
}

// 画像を分類し、スコアの降順に並んだ予測を返す
func (c *NetClassifier) Classify(ctx context.Context, img image.Image) ([]emotion.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("画像がありません")
	}

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("画像の変換に失敗: %w", err)
	}
	defer src.Close()
	if src.Empty() {
		return nil, fmt.Errorf("無効な画像データです")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.ErrBackendUnavailable
	}

	input := c.prepare(src)
	defer input.Close()

	scores, err := c.forward(input)
	if err != nil {
		return nil, err
	}
	return c.predictions(scores)
}

// 顔の切り出しと色変換を行った入力画像を返す
func (c *NetClassifier) prepare(src gocv.Mat) gocv.Mat {
	roi := src.Clone()

	if c.faces != nil {
		gray := gocv.NewMat()
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
		rects := c.faces.Detect(gray)
		gray.Close()

		// 複数の顔が写っていても最も大きい1つだけを使う
		if face, ok := largestFace(rects); ok {
			if r, ok := clampRect(face, src.Cols(), src.Rows()); ok {
				region := src.Region(r)
				cropped := region.Clone()
				region.Close()
				roi.Close()
				roi = cropped
			}
		}
	}

	if !c.cfg.Grayscale {
		return roi
	}
	gray := gocv.NewMat()
	gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)
	roi.Close()
	return gray
}

func (c *NetClassifier) forward(input gocv.Mat) ([]float32, error) {
	size := image.Pt(c.cfg.InputSize, c.cfg.InputSize)
	blob := gocv.BlobFromImage(input, c.cfg.Scale, size, c.cfg.mean(), c.cfg.SwapRB, false)
	defer blob.Close()

	c.net.SetInput(blob, "")
	out := c.net.Forward("")
	defer out.Close()

	if out.Empty() {
		return nil, fmt.Errorf("推論結果が空です")
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("推論結果の読み出しに失敗: %w", err)
	}
	// Matが閉じられる前にコピーする
	scores := make([]float32, len(data))
	copy(scores, data)
	return scores, nil
}

func (c *NetClassifier) predictions(scores []float32) ([]emotion.Prediction, error) {
	if len(scores) != len(c.cfg.Labels) {
		return nil, fmt.Errorf("出力数がラベル数と一致しません: %d != %d", len(scores), len(c.cfg.Labels))
	}

	values := make([]float64, len(scores))
	for i, s := range scores {
		values[i] = float64(s)
	}
	if c.cfg.ApplySoftmax {
		values = softmax(values)
	}

	preds := make([]emotion.Prediction, len(values))
	for i, v := range values {
		preds[i] = emotion.Prediction{Label: c.cfg.Labels[i], Score: clamp01(v)}
	}
	emotion.SortPredictions(preds)
	return preds, nil
}

func (c *NetClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if err := c.net.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ネットワークのクローズに失敗: %w", err))
	}
	if c.faces != nil {
		if err := c.faces.Close(); err != nil {
			errs = append(errs, fmt.Errorf("カスケード分類器のクローズに失敗: %w", err))
		}
	}
	return errors.Join(errs...)
}

func softmax(values []float64) []float64 {
	if len(values) == 0 {
		return values
	}
	maxVal := values[0]
	for _, v := range values[1:] {
		maxVal = math.Max(maxVal, v)
	}

	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		out[i] = math.Exp(v - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
