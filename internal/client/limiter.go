package client

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type keyLimiter struct {
	lim *rate.Limiter
	ts  time.Time
}

// sendLimiter 按指令类型限制出站频率的令牌桶，防止
// 失控的调用方刷爆服务端。
type sendLimiter struct {
	mu   sync.Mutex
	m    map[string]*keyLimiter
	r    rate.Limit
	b    int
	ttl  time.Duration
	stop chan struct{}
}

func newSendLimiter(r rate.Limit, burst int, ttl time.Duration) *sendLimiter {
	sl := &sendLimiter{m: make(map[string]*keyLimiter), r: r, b: burst, ttl: ttl, stop: make(chan struct{})}
	go sl.gc()
	return sl
}

func (sl *sendLimiter) get(key string) *rate.Limiter {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	kl, ok := sl.m[key]
	if ok {
		kl.ts = time.Now()
		return kl.lim
	}
	lim := rate.NewLimiter(sl.r, sl.b)
	sl.m[key] = &keyLimiter{lim: lim, ts: time.Now()}
	return lim
}

func (sl *sendLimiter) allow(key string) bool {
	return sl.get(key).Allow()
}

func (sl *sendLimiter) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-sl.stop:
			return
		case <-ticker.C:
			now := time.Now()
			sl.mu.Lock()
			for k, v := range sl.m {
				if now.Sub(v.ts) > sl.ttl {
					delete(sl.m, k)
				}
			}
			sl.mu.Unlock()
		}
	}
}

// Stop 停止 GC goroutine，随会话关闭调用。
func (sl *sendLimiter) Stop() {
	select {
	case <-sl.stop:
	default:
		close(sl.stop)
	}
}
