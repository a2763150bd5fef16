// Package cache はTTL付きのインメモリキャッシュを提供する。
// スクレイプ結果の再利用とヒット率の統計収集に使用する。
package cache

import (
	"sync"
	"time"
)

// DefaultTTL はTTLを指定しない場合の既定の有効期間。
const DefaultTTL = 5 * time.Minute

// entry はキャッシュに格納される1件のエントリ。
type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
}

// Stats はキャッシュの統計情報を表す。
type Stats struct {
	Size    int
	Hits    int64
	Misses  int64
	HitRate float64 // パーセント表記。アクセスがない場合は0
}

// Cache はTTL付きのキー→値ストア。
// 期限切れ判定は読み出し時に遅延評価され、期限切れエントリは
// その場で削除される。サイズ上限は持たず、回収手段はTTLと
// CleanupExpiredのみ。並行アクセスに対して安全。
type Cache struct {
	mu     sync.Mutex
	items  map[string]entry
	hits   int64
	misses int64
	now    func() time.Time // テストで差し替え可能
}

// New は新しいCacheを生成する。
func New() *Cache {
	return &Cache{
		items: make(map[string]entry),
		now:   time.Now,
	}
}

// Get はキーに対応する値を返す。
// エントリが存在しかつ未失効の場合のみヒットとなる。
// 期限切れエントリは削除したうえでミスとして数える。
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	if !e.expiresAt.After(c.now()) {
		delete(c.items, key)
		c.misses++
		return nil, false
	}

	c.hits++
	return e.value, true
}

// Set はキーに値を格納する。ttlが0以下の場合はDefaultTTLを使用する。
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.items[key] = entry{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
}

// Delete はキーを削除する。存在しないキーの削除は何もしない。
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear は全エントリと統計カウンターをリセットする。
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]entry)
	c.hits = 0
	c.misses = 0
}

// Size は現在のエントリ数を返す。期限切れ未回収のエントリも含む。
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// CleanupExpired は期限切れの全エントリを削除し、削除件数を返す。
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.items {
		if !e.expiresAt.After(now) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// HitRate はヒット率（パーセント）を返す。アクセスがない場合は0を返す。
func (c *Cache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitRateLocked()
}

func (c *Cache) hitRateLocked() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total) * 100
}

// GetStats はキャッシュの統計情報を返す。
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:    len(c.items),
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: c.hitRateLocked(),
	}
}
