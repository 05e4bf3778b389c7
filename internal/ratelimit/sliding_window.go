package ratelimit

import (
	"sync"
	"time"
)

const (
	hourlyWindow = time.Hour
	burstWindow  = time.Minute

	// sweepInterval 整体清理空闲客户端的间隔
	sweepInterval = 5 * time.Minute
)

// Limits 速率限制上限
type Limits struct {
	HourlyMax int // 滑动 3600 秒窗口内的请求上限
	BurstMax  int // 滑动 60 秒窗口内的请求上限
}

// SlidingWindow 按客户端标识的双窗口滑动限流器
//
// 每个客户端保存最近一小时内的请求时间戳；小时窗口天然包含突发窗口，
// 因此一份时间戳同时服务两个上限。过期时间戳在每次调用时顺带剪除。
// 所有读-改-写都在互斥锁内完成，并发调用不会丢失更新。
type SlidingWindow struct {
	mu        sync.Mutex
	clients   map[string]*clientWindow
	limits    Limits
	now       func() time.Time
	lastSweep time.Time
}

// clientWindow 单个客户端的请求时间戳（升序，全部落在小时窗口内）
type clientWindow struct {
	stamps []time.Time
}

// NewSlidingWindow 创建滑动窗口限流器
func NewSlidingWindow(limits Limits) *SlidingWindow {
	return &SlidingWindow{
		clients: make(map[string]*clientWindow),
		limits:  limits,
		now:     time.Now,
	}
}

// Allow 判断客户端的本次请求是否放行
//
// 两个窗口任一超限即拒绝，且拒绝的请求不计入窗口；
// 放行时把当前时间戳记入窗口。
func (l *SlidingWindow) Allow(clientID string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweepLocked(now)

	cw, ok := l.clients[clientID]
	if !ok {
		cw = &clientWindow{}
		l.clients[clientID] = cw
	}

	// 顺带剪除小时窗口外的过期时间戳
	hourlyCutoff := now.Add(-hourlyWindow)
	cw.prune(hourlyCutoff)

	if len(cw.stamps) >= l.limits.HourlyMax {
		return false
	}

	burstCutoff := now.Add(-burstWindow)
	if cw.countSince(burstCutoff) >= l.limits.BurstMax {
		return false
	}

	cw.stamps = append(cw.stamps, now)
	return true
}

// Remaining 返回两个窗口剩余的配额（监控/响应头用）
func (l *SlidingWindow) Remaining(clientID string) (hourly, burst int) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	cw, ok := l.clients[clientID]
	if !ok {
		return l.limits.HourlyMax, l.limits.BurstMax
	}
	cw.prune(now.Add(-hourlyWindow))

	hourly = l.limits.HourlyMax - len(cw.stamps)
	if hourly < 0 {
		hourly = 0
	}
	burst = l.limits.BurstMax - cw.countSince(now.Add(-burstWindow))
	if burst < 0 {
		burst = 0
	}
	return hourly, burst
}

// maybeSweepLocked 定期丢弃已无窗口内记录的客户端，调用方必须持锁
func (l *SlidingWindow) maybeSweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now

	cutoff := now.Add(-hourlyWindow)
	for id, cw := range l.clients {
		cw.prune(cutoff)
		if len(cw.stamps) == 0 {
			delete(l.clients, id)
		}
	}
}

// prune 丢弃 cutoff 之前的时间戳
func (cw *clientWindow) prune(cutoff time.Time) {
	idx := 0
	for idx < len(cw.stamps) && !cw.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		cw.stamps = append(cw.stamps[:0], cw.stamps[idx:]...)
	}
}

// countSince 统计 cutoff 之后的时间戳数量
func (cw *clientWindow) countSince(cutoff time.Time) int {
	count := 0
	for i := len(cw.stamps) - 1; i >= 0; i-- {
		if !cw.stamps[i].After(cutoff) {
			break
		}
		count++
	}
	return count
}
