package emotion

import (
	"context"
	"image"
	"sort"
)

// 分類バックエンドの種類
type BackendKind string

const (
	// GPU上で実行する高速バックエンド
	BackendAccelerated BackendKind = "accelerated"
	// CPU上で実行する標準バックエンド
	BackendDefault BackendKind = "default"
)

// 分類器が返すラベルとスコアの組
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// 画像分類のバックエンド
// Classifyはスコアの降順に並んだ予測を返す。スコアは[0, 1]
type Classifier interface {
	Classify(ctx context.Context, img image.Image) ([]Prediction, error)
	Close() error
}

// 指定された種類のバックエンドを構築する
type BackendFactory interface {
	New(ctx context.Context, kind BackendKind) (Classifier, error)
}

// 関数をBackendFactoryとして扱うためのアダプタ
type BackendFactoryFunc func(ctx context.Context, kind BackendKind) (Classifier, error)

func (f BackendFactoryFunc) New(ctx context.Context, kind BackendKind) (Classifier, error) {
	return f(ctx, kind)
}

// 予測をスコアの降順に並べ替える
func SortPredictions(preds []Prediction) {
	sort.SliceStable(preds, func(i, j int) bool {
		return preds[i].Score > preds[j].Score
	})
}

// 最もスコアの高い予測を返す
func topPrediction(preds []Prediction) (Prediction, bool) {
	if len(preds) == 0 {
		return Prediction{}, false
	}
	top := preds[0]
	for _, p := range preds[1:] {
		if p.Score > top.Score {
			top = p
		}
	}
	return top, true
}
