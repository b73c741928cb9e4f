package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory 是进程内的 Cache 实现，语义与 Redis 版一致，供测试和无 Redis 的本地环境使用。
// Advance 可以人为拨快时钟来模拟 TTL 过期。
type Memory struct {
	mu     sync.Mutex
	m      map[string]entry
	offset time.Duration
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string]entry)}
}

func (c *Memory) now() time.Time {
	return time.Now().Add(c.offset)
}

// Advance 拨快内部时钟，仅用于测试 TTL 行为。
func (c *Memory) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

func (c *Memory) get(key string) ([]byte, bool) {
	e, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.m, key)
		return nil, false
	}
	return e.data, true
}

func (c *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.get(key)
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (c *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{data: b}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.m[key] = e
	return nil
}

func (c *Memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

func (c *Memory) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.get(key)
	return ok, nil
}
