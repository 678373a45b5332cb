package execution

import (
	"context"
	"sync"
	"time"
)

// Guard 记录已提交的报价，保证同一报价最多提交一次。
type Guard interface {
	// Claim 尝试占用 key，返回 false 表示 key 在 ttl 内已被占用。
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryGuard 为进程内实现，可并发使用。
type MemoryGuard struct {
	mu      sync.Mutex
	claimed map[string]time.Time // key -> 过期时间
	now     func() time.Time
}

// NewMemoryGuard 创建进程内去重器。
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		claimed: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Claim 实现 Guard。
func (g *MemoryGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if expiry, ok := g.claimed[key]; ok && now.Before(expiry) {
		return false, nil
	}
	g.claimed[key] = now.Add(ttl)
	return true, nil
}

// Cleanup 清理已过期的记录，需定期调用以控制内存。
func (g *MemoryGuard) Cleanup() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for key, expiry := range g.claimed {
		if !now.Before(expiry) {
			delete(g.claimed, key)
			removed++
		}
	}
	return removed
}

// RunCleanup 按 interval 周期清理，直到 ctx 结束。
func (g *MemoryGuard) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Cleanup()
		}
	}
}

var _ Guard = (*MemoryGuard)(nil)
