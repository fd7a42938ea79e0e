package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/okamyuji/wellness-emotion-tracker/config"
)

// Logger
type Logger struct {
	*slog.Logger
	config *config.LoggingConfig
	closer io.Closer
}

// カスタムJSONハンドラ
type JSONHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	group  string
	fields map[string]string
}

func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		def := config.Default().Logging
		cfg = &def
	}

	var output io.Writer = os.Stdout
	var closer io.Closer
	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("ログファイルのオープンに失敗: %w", err)
		}
		output = file
		closer = file
	}

	return &Logger{
		Logger: slog.New(NewHandler(output, cfg)),
		config: cfg,
		closer: closer,
	}, nil
}

// 設定に従ってハンドラを作成
func NewHandler(out io.Writer, cfg *config.LoggingConfig) slog.Handler {
	level := ParseLevel(cfg.Level)
	switch cfg.Format {
	case "json":
		return NewJSONHandler(out, level, cfg.Fields)
	default:
		handler := slog.Handler(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
		if len(cfg.Fields) > 0 {
			attrs := make([]slog.Attr, 0, len(cfg.Fields))
			for k, v := range cfg.Fields {
				attrs = append(attrs, slog.String(k, v))
			}
			handler = handler.WithAttrs(attrs)
		}
		return handler
	}
}

func NewJSONHandler(out io.Writer, level slog.Leveler, fields map[string]string) *JSONHandler {
	return &JSONHandler{
		mu:     &sync.Mutex{},
		out:    out,
		level:  level,
		fields: fields,
	}
}

// ログファイルを閉じる
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// JSONハンドラ
func (h *JSONHandler) Handle(ctx context.Context, r slog.Record) error {
	data := make(map[string]interface{})

	// 基本フィールドの設定
	data["timestamp"] = r.Time.Format(time.RFC3339)
	data["level"] = r.Level.String()
	data["message"] = r.Message

	// カスタムフィールドの追加
	for k, v := range h.fields {
		data[k] = v
	}

	// ソースコードの位置情報
	if r.PC != 0 {
		fr, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		data["caller"] = fmt.Sprintf("%s:%d", fr.File, fr.Line)
	}

	// 追加の属性。WithAttrsの属性はキーが修飾済み
	for _, a := range h.attrs {
		addAttr(data, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(data, h.group, a)
		return true
	})

	line, err := json.Marshal(data)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.out.Write(append(line, '\n'))
	return err
}

func addAttr(data map[string]interface{}, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		for _, ga := range a.Value.Group() {
			addAttr(data, key, ga)
		}
	case slog.KindDuration:
		data[key] = a.Value.Duration().String()
	case slog.KindTime:
		data[key] = a.Value.Time().Format(time.RFC3339Nano)
	default:
		v := a.Value.Any()
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		data[key] = v
	}
}

func (h *JSONHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *JSONHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *JSONHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

// ログレベルのパース
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
