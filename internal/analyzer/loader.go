package analyzer

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/okamyuji/wellness-emotion-tracker/internal/emotion"
	"github.com/okamyuji/wellness-emotion-tracker/internal/resource"
)

// モデルの読み込み設定
type LoaderConfig struct {
	// ONNX/Caffe/TensorFlowのモデルファイル
	ModelPath string
	// Caffeのprototxtなど。不要なら空
	ConfigPath string
	Net        NetConfig
	// nilなら顔の切り出しを行わない
	Face *FaceConfig
}

// 表情分類モデルを読み込むemotion.BackendFactory
type Loader struct {
	cfg    LoaderConfig
	logger *slog.Logger
}

// 新しいLoaderを作成
func NewLoader(cfg LoaderConfig, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Net.InputSize <= 0 {
		cfg.Net.InputSize = 64
	}
	if cfg.Net.Scale == 0 {
		cfg.Net.Scale = 1.0
	}
	return &Loader{cfg: cfg, logger: logger}
}

// 指定されたバックエンドで分類器を構築する
func (l *Loader) New(ctx context.Context, kind emotion.BackendKind) (emotion.Classifier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(l.cfg.Net.Labels) == 0 {
		return nil, fmt.Errorf("モデルのラベルが設定されていません")
	}

	backend, target, err := backendFor(kind)
	if err != nil {
		return nil, err
	}

	modelPath, err := resource.Locate(l.cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("モデルファイル: %w", err)
	}
	var configPath string
	if l.cfg.ConfigPath != "" {
		if configPath, err = resource.Locate(l.cfg.ConfigPath); err != nil {
			return nil, fmt.Errorf("モデル設定ファイル: %w", err)
		}
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("モデルの読み込みに失敗: %s", modelPath)
	}

	net.SetPreferableBackend(backend)
	net.SetPreferableTarget(target)

	// 高速バックエンドは実際に推論できるか確認する
	if kind == emotion.BackendAccelerated {
		if err := l.warmUp(&net); err != nil {
			net.Close()
			return nil, fmt.Errorf("%sバックエンドのウォームアップに失敗: %w", kind, err)
		}
	}

	var faces *FaceDetector
	if l.cfg.Face != nil {
		faceCfg := *l.cfg.Face
		if faceCfg.CascadeFile, err = resource.Locate(faceCfg.CascadeFile); err != nil {
			net.Close()
			return nil, fmt.Errorf("カスケードファイル: %w", err)
		}
		if faces, err = NewFaceDetector(faceCfg); err != nil {
			net.Close()
			return nil, err
		}
	}

	l.logger.Info("表情分類モデルを読み込みました",
		"backend", kind,
		"model", modelPath,
		"labels", len(l.cfg.Net.Labels),
		"face_crop", faces != nil,
	)
	return newNetClassifier(net, l.cfg.Net, faces, kind), nil
}

func backendFor(kind emotion.BackendKind) (gocv.NetBackendType, gocv.NetTargetType, error) {
	switch kind {
	case emotion.BackendAccelerated:
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA, nil
	case emotion.BackendDefault:
		return gocv.NetBackendDefault, gocv.NetTargetCPU, nil
	default:
		return 0, 0, fmt.Errorf("未知のバックエンドです: %s", kind)
	}
}

// 空の入力で1回推論し、出力数を確認する
// CUDAが使えない環境ではOpenCV内部でパニックすることがあるため回復する
func (l *Loader) warmUp(net *gocv.Net) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("推論中にパニック: %v", r)
		}
	}()

	matType := gocv.MatTypeCV8UC3
	if l.cfg.Net.Grayscale {
		matType = gocv.MatTypeCV8UC1
	}
	size := l.cfg.Net.InputSize
	dummy := gocv.NewMatWithSize(size, size, matType)
	defer dummy.Close()

	blob := gocv.BlobFromImage(dummy, l.cfg.Net.Scale, image.Pt(size, size), l.cfg.Net.mean(), l.cfg.Net.SwapRB, false)
	defer blob.Close()

	net.SetInput(blob, "")
	out := net.Forward("")
	defer out.Close()

	if out.Empty() {
		return fmt.Errorf("推論結果が空です")
	}
	if got := out.Total(); got != len(l.cfg.Net.Labels) {
		return fmt.Errorf("出力数がラベル数と一致しません: %d != %d", got, len(l.cfg.Net.Labels))
	}
	return nil
}
