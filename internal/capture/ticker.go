package capture

import "time"

// 周期的なキャプチャのタイミング源
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Tickerを作る関数
type TickerFunc func(d time.Duration) Ticker

type stdTicker struct {
	t *time.Ticker
}

func (s *stdTicker) C() <-chan time.Time { return s.t.C }
func (s *stdTicker) Stop()               { s.t.Stop() }

// time.Tickerを使うTickerFunc
func NewStdTicker(d time.Duration) Ticker {
	return &stdTicker{t: time.NewTicker(d)}
}
