package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okamyuji/wellness-emotion-tracker/internal/errors"
)

// 既定のキャプチャ間隔
const DefaultInterval = 3 * time.Second

// コントローラーの状態
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateStreamingAndCapturing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateStreamingAndCapturing:
		return "streaming_and_capturing"
	default:
		return "unknown"
	}
}

// エンコード済みフレームの受け手
// ループのゴルーチンから同期的に呼ばれるため、中でStop/StopCapturingを呼んではいけない
type FrameListener func(dataURI string)

// キャプチャ関連のメトリクス
type Recorder interface {
	RecordCapture(success bool)
	SetCameraActive(active bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordCapture(bool)   {}
func (nopRecorder) SetCameraActive(bool) {}

// コントローラーの設定
type Options struct {
	Constraints Constraints
	Interval    time.Duration
	JPEGQuality int
	Surface     Surface
	Notifier    Notifier
	Listener    FrameListener
	NewTicker   TickerFunc
	Logger      *slog.Logger
	Metrics     Recorder
	Now         func() time.Time
}

// セッションのスナップショット
type Session struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Streaming bool      `json:"streaming"`
	Capturing bool      `json:"capturing"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Interval  string    `json:"interval"`
}

// カメラの開始・停止と定期キャプチャを管理する
type Controller struct {
	// 開始・停止の遷移を直列化する。終了待ちの間も保持する
	lifecycle sync.Mutex
	mu        sync.Mutex

	source      Source
	surface     Surface
	notifier    Notifier
	listener    FrameListener
	newTicker   TickerFunc
	logger      *slog.Logger
	metrics     Recorder
	now         func() time.Time
	constraints Constraints
	quality     int
	interval    time.Duration

	stream    Stream
	sessionID string
	startedAt time.Time
	streaming bool
	capturing bool

	// 定期キャプチャのループ
	generation uint64
	stopTick   chan struct{}
	loopDone   chan struct{}
}

// 新しいコントローラーを作成
func NewController(source Source, opts Options) *Controller {
	if opts.Constraints == (Constraints{}) {
		opts.Constraints = DefaultConstraints()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	if opts.Surface == nil {
		opts.Surface = NewLiveSurface()
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewStdTicker
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		source:      source,
		surface:     opts.Surface,
		notifier:    opts.Notifier,
		listener:    opts.Listener,
		newTicker:   opts.NewTicker,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Now,
		constraints: opts.Constraints,
		quality:     opts.JPEGQuality,
		interval:    opts.Interval,
	}
}

// フレームの受け手を設定
func (c *Controller) SetListener(l FrameListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// キャプチャ間隔を変更。次にキャプチャを開始したときから有効
func (c *Controller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = d
}

// 現在のキャプチャ間隔
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// カメラを開いてストリーミングを開始
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	notice, err := c.start(ctx)
	c.notify(notice)
	return err
}

func (c *Controller) start(ctx context.Context) (Notice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streaming {
		return Notice{}, nil
	}

	stream, err := c.source.Open(ctx, c.constraints)
	if err != nil {
		c.logger.Error("カメラの起動に失敗", "error", err)
		if !errors.IsType(err, errors.ErrorTypeCamera) {
			err = errors.CameraAccessError(err)
		}
		return noticeCameraDenied, err
	}

	// バインド途中で失敗してもトラックは必ず停止する
	bound := false
	defer func() {
		if !bound {
			if stopErr := stream.Stop(); stopErr != nil {
				c.logger.Warn("ストリームの停止に失敗", "error", stopErr)
			}
		}
	}()

	c.surface.Attach(stream)
	c.stream = stream
	c.sessionID = uuid.NewString()
	c.startedAt = c.now()
	c.streaming = true
	bound = true

	c.metrics.SetCameraActive(true)
	c.logger.Info("カメラを起動しました", "session_id", c.sessionID)
	return noticeCameraStarted, nil
}

// ストリーミングを停止してデバイスを解放する
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if !c.streaming && c.stream == nil {
		c.mu.Unlock()
		return
	}
	done := c.haltLoopLocked()

	stream := c.stream
	c.stream = nil
	c.surface.Detach()
	c.streaming = false
	sessionID := c.sessionID
	c.sessionID = ""
	c.startedAt = time.Time{}
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			c.logger.Warn("ストリームの停止に失敗", "error", err)
		}
	}
	if done != nil {
		<-done
	}

	c.metrics.SetCameraActive(false)
	c.logger.Info("カメラを停止しました", "session_id", sessionID)
	c.notify(noticeCameraStopped)
}

// 定期キャプチャを開始
func (c *Controller) StartCapturing() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if !c.streaming {
		c.mu.Unlock()
		c.notify(noticeNotStreaming)
		return errors.NotStreamingError()
	}
	if c.capturing {
		c.mu.Unlock()
		return nil
	}

	interval := c.interval
	ticker := c.newTicker(interval)
	c.generation++
	c.stopTick = make(chan struct{})
	c.loopDone = make(chan struct{})
	c.capturing = true
	go c.runLoop(c.generation, ticker, c.stopTick, c.loopDone)
	c.mu.Unlock()

	c.logger.Info("感情トラッキングを開始しました", "interval", interval)
	c.notify(noticeTrackingStarted(interval))
	return nil
}

// 定期キャプチャを停止。ストリーミングは継続する
func (c *Controller) StopCapturing() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return
	}
	done := c.haltLoopLocked()
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	c.logger.Info("感情トラッキングを停止しました")
	c.notify(noticeTrackingStopped)
}

// ループ停止を指示し、終了待ち用のチャネルを返す。c.muを保持して呼ぶ
func (c *Controller) haltLoopLocked() chan struct{} {
	c.capturing = false
	if c.stopTick == nil {
		return nil
	}
	close(c.stopTick)
	c.stopTick = nil
	done := c.loopDone
	c.loopDone = nil
	return done
}

func (c *Controller) runLoop(gen uint64, ticker Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			select {
			case <-stop:
				return
			default:
			}
			c.capture(gen)
		}
	}
}

// 現在のフレームを取得して受け手に渡す
// ストリーミングしていない場合は何もしない
func (c *Controller) CaptureFrame() {
	c.capture(0)
}

func (c *Controller) capture(gen uint64) {
	c.mu.Lock()
	if !c.streaming || c.surface == nil {
		c.mu.Unlock()
		return
	}
	if gen != 0 && (!c.capturing || gen != c.generation) {
		c.mu.Unlock()
		return
	}

	frame, err := c.surface.Frame()
	if err != nil {
		c.mu.Unlock()
		c.metrics.RecordCapture(false)
		c.logger.Debug("フレームの取得に失敗", "error", err)
		return
	}
	uri, err := EncodeSnapshot(frame, c.quality)
	listener := c.listener
	c.mu.Unlock()

	if err != nil {
		c.metrics.RecordCapture(false)
		c.logger.Warn("フレームのエンコードに失敗", "error", err)
		return
	}
	c.metrics.RecordCapture(true)
	if listener != nil {
		listener(uri)
	}
}

// 現在の状態
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	switch {
	case c.streaming && c.capturing:
		return StateStreamingAndCapturing
	case c.streaming:
		return StateStreaming
	default:
		return StateIdle
	}
}

func (c *Controller) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

func (c *Controller) IsCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// 現在のセッションID。アイドル時は空文字
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// セッションのスナップショットを取得
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Session{
		ID:        c.sessionID,
		State:     c.stateLocked().String(),
		Streaming: c.streaming,
		Capturing: c.capturing,
		StartedAt: c.startedAt,
		Interval:  c.interval.String(),
	}
}

// コントローラーを破棄する。Stopと同じ
func (c *Controller) Close() error {
	c.Stop()
	return nil
}

func (c *Controller) notify(n Notice) {
	if n.Title == "" || c.notifier == nil {
		return
	}
	n.At = c.now()
	c.notifier.Notify(n)
}
