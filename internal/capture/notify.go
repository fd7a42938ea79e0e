package capture

import (
	"log/slog"
	"strconv"
	"time"
)

// 通知の重要度
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// 利用者に見せる通知
type Notice struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Level       Level     `json:"level"`
	At          time.Time `json:"at"`
}

// 通知の受け手
type Notifier interface {
	Notify(n Notice)
}

// 関数をNotifierとして扱うためのアダプタ
type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// 複数のNotifierに配信する
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(n Notice) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}

// 通知をログに出力する
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(n Notice) {
	if n.Level == LevelError {
		l.logger.Warn(n.Title, "description", n.Description)
		return
	}
	l.logger.Info(n.Title, "description", n.Description)
}

// コントローラーが出す通知
var (
	noticeCameraStarted = Notice{
		Title:       "Webcam activated",
		Description: "Your camera is now ready for emotion tracking.",
		Level:       LevelInfo,
	}
	noticeCameraDenied = Notice{
		Title:       "Camera access denied",
		Description: "Please allow camera access to use emotion tracking.",
		Level:       LevelError,
	}
	noticeCameraStopped = Notice{
		Title:       "Webcam stopped",
		Description: "Camera has been turned off.",
		Level:       LevelInfo,
	}
	noticeNotStreaming = Notice{
		Title:       "Webcam not active",
		Description: "Please start your webcam first.",
		Level:       LevelError,
	}
	noticeTrackingStopped = Notice{
		Title:       "Emotion tracking stopped",
		Description: "Analysis has been paused.",
		Level:       LevelInfo,
	}
)

func noticeTrackingStarted(interval time.Duration) Notice {
	return Notice{
		Title:       "Emotion tracking started",
		Description: "Analyzing your expressions every " + formatInterval(interval) + ".",
		Level:       LevelInfo,
	}
}

func formatInterval(d time.Duration) string {
	if d%time.Second == 0 {
		secs := int(d / time.Second)
		if secs == 1 {
			return "second"
		}
		return strconv.Itoa(secs) + " seconds"
	}
	return d.String()
}
