package capture

import (
	"bytes"
	"encoding/base64"
	stderrors "errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okamyuji/wellness-emotion-tracker/internal/errors"
)

func decodeURI(uri string) (image.Image, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, jpegDataURIPrefix))
	if err != nil {
		return nil, err
	}
	return jpeg.Decode(bytes.NewReader(data))
}

func TestEncodeSnapshot(t *testing.T) {
	t.Run("元の解像度を保つ", func(t *testing.T) {
		frame := image.NewRGBA(image.Rect(0, 0, 640, 480))
		uri, err := EncodeSnapshot(frame, DefaultJPEGQuality)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(uri, "data:image/jpeg;base64,"))

		img, err := decodeURI(uri)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 640, 480), img.Bounds())
	})

	t.Run("原点がずれたフレーム", func(t *testing.T) {
		frame := image.NewRGBA(image.Rect(10, 20, 42, 36))
		frame.Set(10, 20, color.RGBA{R: 255, A: 255})
		uri, err := EncodeSnapshot(frame, DefaultJPEGQuality)
		require.NoError(t, err)

		img, err := decodeURI(uri)
		require.NoError(t, err)
		assert.Equal(t, 32, img.Bounds().Dx())
		assert.Equal(t, 16, img.Bounds().Dy())
	})

	t.Run("不正な品質は既定値になる", func(t *testing.T) {
		frame := image.NewRGBA(image.Rect(0, 0, 8, 8))
		uri, err := EncodeSnapshot(frame, 0)
		require.NoError(t, err)
		assert.NotEmpty(t, uri)
	})

	t.Run("空のフレーム", func(t *testing.T) {
		_, err := EncodeSnapshot(image.NewRGBA(image.Rectangle{}), DefaultJPEGQuality)
		assert.Error(t, err)

		_, err = EncodeSnapshot(nil, DefaultJPEGQuality)
		assert.Error(t, err)
	})
}

func TestLiveSurface(t *testing.T) {
	s := NewLiveSurface()

	_, err := s.Frame()
	assert.True(t, errors.Is(err, errors.ErrNotStreaming))
	assert.False(t, s.Attached())

	stream := newFakeStream(32, 24)
	s.Attach(stream)
	assert.True(t, s.Attached())

	frame, err := s.Frame()
	require.NoError(t, err)
	assert.Equal(t, 32, frame.Bounds().Dx())
	w, h := s.Dimensions()
	assert.Equal(t, 32, w)
	assert.Equal(t, 24, h)

	stream.readErr = stderrors.New("lost")
	_, err = s.Frame()
	assert.Error(t, err)

	s.Detach()
	assert.False(t, s.Attached())
	w, h = s.Dimensions()
	assert.Zero(t, w)
	assert.Zero(t, h)
}

func TestNotifiers(t *testing.T) {
	var got []string
	fn := NotifierFunc(func(n Notice) { got = append(got, n.Title) })
	log := &noticeLog{}

	MultiNotifier{fn, nil, log}.Notify(Notice{Title: "Webcam activated"})

	assert.Equal(t, []string{"Webcam activated"}, got)
	assert.Equal(t, []string{"Webcam activated"}, log.titles())

	// ロガーへの出力でパニックしない
	NewLogNotifier(nil).Notify(noticeCameraDenied)
	NewLogNotifier(nil).Notify(noticeCameraStarted)
}

func TestFormatInterval(t *testing.T) {
	assert.Equal(t, "Analyzing your expressions every 3 seconds.", noticeTrackingStarted(DefaultInterval).Description)
	assert.Equal(t, "second", formatInterval(1e9))
	assert.Equal(t, "1.5s", formatInterval(1500e6))
}
