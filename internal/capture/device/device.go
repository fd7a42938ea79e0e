// Package device はOpenCVでローカルのカメラを開くcapture.Sourceを提供する。
package device

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/okamyuji/wellness-emotion-tracker/internal/capture"
	"github.com/okamyuji/wellness-emotion-tracker/internal/errors"
)

// 向きごとのデバイス番号
type DeviceMap map[capture.FacingMode]int

// gocvでカメラを開くSource
type Source struct {
	devices DeviceMap
	logger  *slog.Logger
	// テストで差し替える
	open func(id int) (videoCapture, error)
}

// gocv.VideoCaptureのうち使うメソッド
type videoCapture interface {
	IsOpened() bool
	Set(prop gocv.VideoCaptureProperties, param float64)
	Read(m *gocv.Mat) bool
	Close() error
}

// 新しいSourceを作成
// 向きが登録されていない場合はデバイス0を使う
func NewSource(devices DeviceMap, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if devices == nil {
		devices = DeviceMap{}
	}
	return &Source{
		devices: devices,
		logger:  logger,
		open: func(id int) (videoCapture, error) {
			vc, err := gocv.OpenVideoCapture(id)
			if err != nil {
				return nil, err
			}
			return vc, nil
		},
	}
}

func (s *Source) deviceFor(facing capture.FacingMode) int {
	if id, ok := s.devices[facing]; ok {
		return id
	}
	return 0
}

// カメラを開く。開けない場合はCameraAccessErrorを返す
func (s *Source) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.CameraAccessError(err)
	}

	id := s.deviceFor(c.Facing)
	vc, err := s.open(id)
	if err != nil {
		return nil, errors.CameraAccessError(fmt.Errorf("デバイス %d: %w", id, err))
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, errors.CameraAccessError(fmt.Errorf("デバイス %d: %w", id, errors.ErrCameraNotFound))
	}

	if c.IdealWidth > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.IdealWidth))
	}
	if c.IdealHeight > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.IdealHeight))
	}

	s.logger.Debug("カメラデバイスを開きました", "device", id, "facing", c.Facing)
	return &stream{vc: vc}, nil
}

// 開かれたデバイス
type stream struct {
	mu     sync.Mutex
	vc     videoCapture
	closed bool
}

func (st *stream) ReadFrame() (image.Image, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil, errors.ErrStreamClosed
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := st.vc.Read(&mat); !ok {
		return nil, fmt.Errorf("フレームの読み込みに失敗しました")
	}
	if mat.Empty() {
		return nil, fmt.Errorf("取得したフレームが空です")
	}
	return mat.ToImage()
}

func (st *stream) Stop() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil
	}
	st.closed = true
	return st.vc.Close()
}
