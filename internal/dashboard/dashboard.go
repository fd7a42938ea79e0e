// Package dashboard はキャプチャされたフレームの分析結果を集約し、
// 直近の履歴、通知、サマリーとして公開する。
package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okamyuji/wellness-emotion-tracker/internal/capture"
	"github.com/okamyuji/wellness-emotion-tracker/internal/emotion"
	"github.com/okamyuji/wellness-emotion-tracker/internal/errors"
	"github.com/okamyuji/wellness-emotion-tracker/internal/worker"
)

// 既定の通知保持件数
const DefaultNoticeCapacity = 20

var noticeAnalysisError = capture.Notice{
	Title:       "Analysis Error",
	Description: "Failed to analyze emotion. Please try again.",
	Level:       capture.LevelError,
}

// 画像を感情に変換するもの
type Analyzer interface {
	AnalyzeEmotion(ctx context.Context, dataURI string) (emotion.EmotionResult, error)
}

// 分析タスクをバックグラウンドで実行するもの
type Dispatcher interface {
	Go(task worker.Task) error
}

// ダッシュボードが記録するメトリクス
type Recorder interface {
	AnalysisStarted()
	AnalysisFinished()
	RecordDropped()
	SetHistorySize(n int)
}

type nopRecorder struct{}

func (nopRecorder) AnalysisStarted()   {}
func (nopRecorder) AnalysisFinished()  {}
func (nopRecorder) RecordDropped()     {}
func (nopRecorder) SetHistorySize(int) {}

// ダッシュボードの設定
type Config struct {
	HistoryCapacity int
	// trueの場合、分析中に届いたフレームは破棄する
	DropOverlapping bool
	AnalysisTimeout time.Duration
	NoticeCapacity  int
}

// ダッシュボードのオプション
type Options struct {
	// nilの場合、HandleCaptureは呼び出し元で同期的に分析する
	Dispatcher Dispatcher
	Logger     *slog.Logger
	Metrics    Recorder
	Now        func() time.Time
}

// 分析結果の集約先
type Dashboard struct {
	analyzer   Analyzer
	dispatcher Dispatcher
	history    *History
	logger     *slog.Logger
	metrics    Recorder
	now        func() time.Time

	dropOverlapping bool
	timeout         time.Duration
	inFlight        atomic.Int32

	noticeMu       sync.Mutex
	notices        []capture.Notice
	noticeCapacity int
}

// 新しいDashboardを作成
func New(analyzer Analyzer, cfg Config, opts Options) *Dashboard {
	d := &Dashboard{
		analyzer:        analyzer,
		dispatcher:      opts.Dispatcher,
		history:         NewHistory(cfg.HistoryCapacity),
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		now:             opts.Now,
		dropOverlapping: cfg.DropOverlapping,
		timeout:         cfg.AnalysisTimeout,
		noticeCapacity:  cfg.NoticeCapacity,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.metrics == nil {
		d.metrics = nopRecorder{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.noticeCapacity <= 0 {
		d.noticeCapacity = DefaultNoticeCapacity
	}
	return d
}

// キャプチャされたフレームを受け取り、分析をディスパッチする
// capture.FrameListenerとして登録する
func (d *Dashboard) HandleCapture(dataURI string) {
	if d.dropOverlapping && d.inFlight.Load() > 0 {
		d.drop()
		return
	}

	if d.dispatcher == nil {
		d.analyzeInBackground(context.Background(), dataURI)
		return
	}

	err := d.dispatcher.Go(worker.Task{
		Name: "analyze",
		Execute: func(ctx context.Context) (interface{}, error) {
			d.analyzeInBackground(ctx, dataURI)
			return nil, nil
		},
	})
	if err != nil {
		d.logger.Warn("分析タスクを登録できませんでした", "error", err)
		d.metrics.RecordDropped()
	}
}

func (d *Dashboard) analyzeInBackground(ctx context.Context, dataURI string) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if _, err := d.Analyze(ctx, dataURI); err != nil && !errors.Is(err, errors.ErrAnalysisInProgress) {
		d.logger.Error("感情分析に失敗", "error", err)
	}
}

// フレームを分析して履歴に追加する
// DropOverlapping時に別の分析が進行中ならErrAnalysisInProgressを返す
func (d *Dashboard) Analyze(ctx context.Context, dataURI string) (emotion.EmotionResult, error) {
	if d.dropOverlapping {
		if !d.inFlight.CompareAndSwap(0, 1) {
			d.drop()
			return emotion.EmotionResult{}, errors.ErrAnalysisInProgress
		}
	} else {
		d.inFlight.Add(1)
	}
	d.metrics.AnalysisStarted()
	defer func() {
		d.inFlight.Add(-1)
		d.metrics.AnalysisFinished()
	}()

	result, err := d.analyzer.AnalyzeEmotion(ctx, dataURI)
	if err != nil {
		d.Notify(noticeAnalysisError)
		return emotion.EmotionResult{}, err
	}

	// 停止後に完了した分析も履歴に反映する
	d.metrics.SetHistorySize(d.history.Add(result))
	return result, nil
}

func (d *Dashboard) drop() {
	d.logger.Debug("分析中のためフレームを破棄")
	d.metrics.RecordDropped()
}

// 分析中かどうか
func (d *Dashboard) Analyzing() bool {
	return d.inFlight.Load() > 0
}

// 直近の結果（新しい順）
func (d *Dashboard) History() []emotion.EmotionResult {
	return d.history.Items()
}

// 履歴の保持件数を変更する
func (d *Dashboard) SetHistoryCapacity(capacity int) {
	d.metrics.SetHistorySize(d.history.SetCapacity(capacity))
}

func (d *Dashboard) HistoryCapacity() int {
	return d.history.Capacity()
}

// 通知を保持する。capture.Notifierを実装する
func (d *Dashboard) Notify(n capture.Notice) {
	if n.At.IsZero() {
		n.At = d.now()
	}

	d.noticeMu.Lock()
	defer d.noticeMu.Unlock()
	d.notices = append(d.notices, n)
	if over := len(d.notices) - d.noticeCapacity; over > 0 {
		d.notices = append(d.notices[:0:0], d.notices[over:]...)
	}
}

// 保持している通知（新しい順）
func (d *Dashboard) Notices() []capture.Notice {
	d.noticeMu.Lock()
	defer d.noticeMu.Unlock()

	out := make([]capture.Notice, len(d.notices))
	for i, n := range d.notices {
		out[len(d.notices)-1-i] = n
	}
	return out
}

// 現在の履歴からサマリーを作る
func (d *Dashboard) Summary() Summary {
	s := BuildSummary(d.history.Items(), d.now())
	s.Analyzing = d.Analyzing()
	return s
}
