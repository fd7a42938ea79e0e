package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// キーが見つからない場合のエラー
var ErrKeyNotFound = errors.New("key not found")

// キャッシュアイテム
type Item[V any] struct {
	Value      V
	Expiration time.Time
	storedAt   time.Time
}

// キャッシュの統計情報
type Stats struct {
	ItemCount    int
	MaxEntries   int
	Hits         int64
	Misses       int64
	UsagePercent float64
}

// 有効期限と最大件数を持つインメモリキャッシュ
type Manager[V any] struct {
	mu              sync.RWMutex
	items           map[string]Item[V]
	maxEntries      int
	ttl             time.Duration
	cleanupInterval time.Duration
	hits            int64
	misses          int64
	now             func() time.Time
	done            chan struct{}
	closeOnce       sync.Once
}

// キャッシュマネージャーの設定
type Config struct {
	MaxEntries      int
	TTL             time.Duration
	CleanupInterval time.Duration
}

// 新しいキャッシュマネージャーを作成
func NewManager[V any](cfg Config) *Manager[V] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 32
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = cfg.TTL
	}

	m := &Manager[V]{
		items:           make(map[string]Item[V]),
		maxEntries:      cfg.MaxEntries,
		ttl:             cfg.TTL,
		cleanupInterval: cfg.CleanupInterval,
		now:             time.Now,
		done:            make(chan struct{}),
	}

	go m.startCleanup()
	return m
}

// 期限切れアイテムの定期的なクリーンアップ
func (m *Manager[V]) startCleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// 期限切れのアイテムを削除
func (m *Manager[V]) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, item := range m.items {
		if !now.Before(item.Expiration) {
			delete(m.items, key)
		}
	}
}

// 古い順に削除して空きを作る。ロックを保持して呼ぶこと
func (m *Manager[V]) evict(required int) {
	if len(m.items)+required <= m.maxEntries {
		return
	}

	type entry struct {
		key      string
		storedAt time.Time
	}
	entries := make([]entry, 0, len(m.items))
	for k, v := range m.items {
		entries = append(entries, entry{key: k, storedAt: v.storedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].storedAt.Before(entries[j].storedAt)
	})

	for _, e := range entries {
		if len(m.items)+required <= m.maxEntries {
			break
		}
		delete(m.items, e.key)
	}
}

// キーに対応する値を取得
func (m *Manager[V]) Get(ctx context.Context, key string) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	item, ok := m.items[key]
	if !ok || !m.now().Before(item.Expiration) {
		m.misses++
		return zero, ErrKeyNotFound
	}
	m.hits++
	return item.Value, nil
}

// キーと値を設定。ttlが0以下ならデフォルトのTTLを使う
func (m *Manager[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = m.ttl
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[key]; !exists {
		m.evict(1)
	}

	now := m.now()
	m.items[key] = Item[V]{
		Value:      value,
		Expiration: now.Add(ttl),
		storedAt:   now,
	}
	return nil
}

// キーの値を取得し、存在しない場合は計算して設定する
func (m *Manager[V]) GetOrCompute(ctx context.Context, key string, compute func() (V, error)) (V, bool, error) {
	value, err := m.Get(ctx, key)
	if err == nil {
		return value, true, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return value, false, err
	}

	value, err = compute()
	if err != nil {
		var zero V
		return zero, false, err
	}

	if err := m.Set(ctx, key, value, 0); err != nil {
		return value, false, err
	}
	return value, false, nil
}

// キーを削除
func (m *Manager[V]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

// すべて削除
func (m *Manager[V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]Item[V])
}

// 統計情報を返す
func (m *Manager[V]) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		ItemCount:    len(m.items),
		MaxEntries:   m.maxEntries,
		Hits:         m.hits,
		Misses:       m.misses,
		UsagePercent: float64(len(m.items)) / float64(m.maxEntries) * 100,
	}
}

// クリーンアップを停止
func (m *Manager[V]) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	return nil
}
