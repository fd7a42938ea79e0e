package dashboard

import (
	"sync"

	"github.com/okamyuji/wellness-emotion-tracker/internal/emotion"
)

// 履歴の既定の保持件数
const DefaultHistoryCapacity = 5

// 直近の分析結果を新しい順に保持する
type History struct {
	mu       sync.RWMutex
	capacity int
	items    []emotion.EmotionResult
}

// 新しいHistoryを作成。capacityが0以下なら既定値を使う
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		capacity: capacity,
		items:    make([]emotion.EmotionResult, 0, capacity),
	}
}

// 先頭に追加し、容量を超えた古い結果を捨てる。追加後の件数を返す
func (h *History) Add(result emotion.EmotionResult) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := min(len(h.items)+1, h.capacity)
	items := make([]emotion.EmotionResult, n)
	items[0] = result
	copy(items[1:], h.items)
	h.items = items
	return len(h.items)
}

// 保持している結果のコピー（新しい順）
func (h *History) Items() []emotion.EmotionResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]emotion.EmotionResult, len(h.items))
	copy(out, h.items)
	return out
}

// 最新の結果
func (h *History) Latest() (emotion.EmotionResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.items) == 0 {
		return emotion.EmotionResult{}, false
	}
	return h.items[0], true
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

func (h *History) Capacity() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.capacity
}

// 容量を変更する。縮める場合は古い結果から捨てる。0以下は無視して現在の件数を返す
func (h *History) SetCapacity(capacity int) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if capacity <= 0 {
		return len(h.items)
	}
	h.capacity = capacity
	if len(h.items) > capacity {
		h.items = h.items[:capacity:capacity]
	}
	return len(h.items)
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = h.items[:0]
}
