package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock 可手动推进的测试时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(limits Limits) (*SlidingWindow, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := NewSlidingWindow(limits)
	l.now = clock.Now
	return l, clock
}

func TestSlidingWindow_BurstCap(t *testing.T) {
	l, clock := newTestLimiter(Limits{HourlyMax: 1000, BurstMax: 10})

	// 突发上限 10/分钟：前 10 个放行，第 11 个拒绝
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("client-1"), "request %d should pass", i+1)
	}
	assert.False(t, l.Allow("client-1"))

	// 窗口滑过 60 秒后恢复
	clock.Advance(61 * time.Second)
	assert.True(t, l.Allow("client-1"))
}

func TestSlidingWindow_HourlyCap(t *testing.T) {
	l, clock := newTestLimiter(Limits{HourlyMax: 30, BurstMax: 10})

	// 每分钟发 10 个，第三分钟后小时配额耗尽
	for minute := 0; minute < 3; minute++ {
		for i := 0; i < 10; i++ {
			assert.True(t, l.Allow("client-1"))
		}
		clock.Advance(time.Minute)
	}
	assert.False(t, l.Allow("client-1"))

	// 被拒绝的请求不计入窗口：最早一批 10 个滑出小时窗口后，恰好放行 10 个
	clock.Advance(57 * time.Minute)
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("client-1"), "request %d after window slide", i+1)
	}
	assert.False(t, l.Allow("client-1"))
}

func TestSlidingWindow_PerClientIsolation(t *testing.T) {
	l, _ := newTestLimiter(Limits{HourlyMax: 100, BurstMax: 1})

	assert.True(t, l.Allow("client-a"))
	assert.False(t, l.Allow("client-a"))
	// 其他客户端不受影响
	assert.True(t, l.Allow("client-b"))
}

func TestSlidingWindow_RejectedNotRecorded(t *testing.T) {
	l, clock := newTestLimiter(Limits{HourlyMax: 2, BurstMax: 2})

	assert.True(t, l.Allow("c"))
	assert.True(t, l.Allow("c"))
	for i := 0; i < 5; i++ {
		assert.False(t, l.Allow("c"))
	}

	// 拒绝未被记录，窗口滑出后配额完整恢复
	clock.Advance(61 * time.Minute)
	assert.True(t, l.Allow("c"))
	assert.True(t, l.Allow("c"))
	assert.False(t, l.Allow("c"))
}

func TestSlidingWindow_Remaining(t *testing.T) {
	l, _ := newTestLimiter(Limits{HourlyMax: 100, BurstMax: 10})

	hourly, burst := l.Remaining("c")
	assert.Equal(t, 100, hourly)
	assert.Equal(t, 10, burst)

	l.Allow("c")
	hourly, burst = l.Remaining("c")
	assert.Equal(t, 99, hourly)
	assert.Equal(t, 9, burst)
}

// TestSlidingWindow_ConcurrentSameClient 并发调用同一客户端不能超发
func TestSlidingWindow_ConcurrentSameClient(t *testing.T) {
	l := NewSlidingWindow(Limits{HourlyMax: 1000, BurstMax: 10})

	const attempts = 100
	var wg sync.WaitGroup
	allowed := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("shared-client")
		}()
	}
	wg.Wait()
	close(allowed)

	passed := 0
	for ok := range allowed {
		if ok {
			passed++
		}
	}
	assert.Equal(t, 10, passed)
}

func TestSlidingWindow_SweepIdleClients(t *testing.T) {
	l, clock := newTestLimiter(Limits{HourlyMax: 100, BurstMax: 10})

	for i := 0; i < 20; i++ {
		l.Allow(fmt.Sprintf("client-%d", i))
	}

	// 推进超过小时窗口 + 清理间隔后，触发一次调用即可回收空闲客户端
	clock.Advance(2 * time.Hour)
	l.Allow("fresh-client")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.clients, 1)
}
