package capture

import (
	"image"
	"sync"

	"github.com/okamyuji/wellness-emotion-tracker/internal/errors"
)

// ライブストリームを表示する描画面
type Surface interface {
	Attach(stream Stream)
	Detach()
	// 現在表示中のフレームを元の解像度のまま返す
	Frame() (image.Image, error)
}

// ストリームからフレームを読み出す描画面
// 最後に読み出したフレームの寸法を保持する
type LiveSurface struct {
	mu     sync.Mutex
	stream Stream
	width  int
	height int
}

func NewLiveSurface() *LiveSurface {
	return &LiveSurface{}
}

func (s *LiveSurface) Attach(stream Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = stream
	s.width, s.height = 0, 0
}

func (s *LiveSurface) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = nil
	s.width, s.height = 0, 0
}

func (s *LiveSurface) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil, errors.ErrNotStreaming
	}
	frame, err := s.stream.ReadFrame()
	if err != nil {
		return nil, err
	}
	b := frame.Bounds()
	s.width, s.height = b.Dx(), b.Dy()
	return frame, nil
}

// 最後に読み出したフレームの寸法
func (s *LiveSurface) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// ストリームが接続されているか
func (s *LiveSurface) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}
