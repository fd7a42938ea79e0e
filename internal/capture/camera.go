// Package capture はカメラのライフサイクルと定期的なフレーム取得を管理する。
package capture

import (
	"context"
	"image"
)

// カメラの向き
type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// カメラに要求する条件。解像度は希望値で、デバイスが近い値を選ぶ
type Constraints struct {
	IdealWidth  int
	IdealHeight int
	Facing      FacingMode
}

// 既定の要求条件 (640x480, 正面カメラ)
func DefaultConstraints() Constraints {
	return Constraints{
		IdealWidth:  640,
		IdealHeight: 480,
		Facing:      FacingUser,
	}
}

// 映像入力デバイス
// 権限拒否とデバイスなしはどちらもエラーとして返す
type Source interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// 開かれたライブストリーム
type Stream interface {
	// 現在のフレームを返す
	ReadFrame() (image.Image, error)
	// すべてのトラックを停止してデバイスを解放する。複数回呼んでもよい
	Stop() error
}

// 関数をSourceとして扱うためのアダプタ
type SourceFunc func(ctx context.Context, c Constraints) (Stream, error)

func (f SourceFunc) Open(ctx context.Context, c Constraints) (Stream, error) {
	return f(ctx, c)
}
