package ratelimit

import (
	"math"
	"time"
)

// epsilon absorbs float drift when comparing bucket levels against whole units.
const epsilon = 1e-9

// params is the effective configuration for one check. It is recomputed on
// every call so SetMaxCalls takes effect immediately.
type params struct {
	maxCalls int
	window   time.Duration
	capacity float64
	rate     float64
}

// algorithm owns the per-key state for one strategy.
type algorithm interface {
	check(key string, now time.Time, p params) (bool, time.Duration)
	remaining(key string, now time.Time, p params) int
	reset(key string)
	resetAll()
}

func newAlgorithm(strategy Strategy) algorithm {
	switch strategy {
	case StrategySliding:
		return &slidingWindow{logs: make(map[string][]time.Time)}
	case StrategyToken:
		return &tokenBucket{buckets: make(map[string]*bucketState)}
	case StrategyLeaky:
		return &leakyBucket{buckets: make(map[string]*bucketState)}
	default:
		return &fixedWindow{windows: make(map[string]*windowState)}
	}
}

type windowState struct {
	start time.Time
	count int
}

// fixedWindow counts calls in windows that start at the first call after the
// previous window expired. Bursts straddling a boundary can exceed maxCalls
// within less than one window.
type fixedWindow struct {
	windows map[string]*windowState
}

func (f *fixedWindow) check(key string, now time.Time, p params) (bool, time.Duration) {
	st, ok := f.windows[key]
	if !ok || now.Sub(st.start) >= p.window {
		st = &windowState{start: now}
		f.windows[key] = st
	}

	st.count++
	if st.count <= p.maxCalls {
		return true, 0
	}

	retry := p.window - now.Sub(st.start)
	if retry < 0 {
		retry = 0
	}
	return false, retry
}

func (f *fixedWindow) remaining(key string, now time.Time, p params) int {
	st, ok := f.windows[key]
	if !ok || now.Sub(st.start) >= p.window {
		return p.maxCalls
	}
	return clampRemaining(p.maxCalls - st.count)
}

func (f *fixedWindow) reset(key string) { delete(f.windows, key) }

func (f *fixedWindow) resetAll() { f.windows = make(map[string]*windowState) }

// slidingWindow keeps the timestamps of admitted calls inside (now-window, now].
type slidingWindow struct {
	logs map[string][]time.Time
}

func (s *slidingWindow) prune(key string, now time.Time, window time.Duration) []time.Time {
	log := s.logs[key]
	cutoff := now.Add(-window)

	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i > 0 {
		log = append(log[:0], log[i:]...)
		s.logs[key] = log
	}
	return log
}

func (s *slidingWindow) check(key string, now time.Time, p params) (bool, time.Duration) {
	log := s.prune(key, now, p.window)
	if len(log) < p.maxCalls {
		s.logs[key] = append(log, now)
		return true, 0
	}

	// The call that has to expire before one more fits. After SetMaxCalls
	// lowers the limit the log may hold more than maxCalls entries.
	oldest := log[len(log)-p.maxCalls]
	retry := p.window - now.Sub(oldest)
	if retry < 0 {
		retry = 0
	}
	return false, retry
}

func (s *slidingWindow) remaining(key string, now time.Time, p params) int {
	log := s.prune(key, now, p.window)
	if len(log) == 0 {
		delete(s.logs, key)
	}
	return clampRemaining(p.maxCalls - len(log))
}

func (s *slidingWindow) reset(key string) { delete(s.logs, key) }

func (s *slidingWindow) resetAll() { s.logs = make(map[string][]time.Time) }

type bucketState struct {
	level float64
	last  time.Time
}

// tokenBucket starts full and refills continuously at p.rate up to p.capacity.
type tokenBucket struct {
	buckets map[string]*bucketState
}

func (t *tokenBucket) refill(key string, now time.Time, p params) *bucketState {
	st, ok := t.buckets[key]
	if !ok {
		st = &bucketState{level: p.capacity, last: now}
		t.buckets[key] = st
		return st
	}

	if elapsed := now.Sub(st.last).Seconds(); elapsed > 0 {
		st.level += elapsed * p.rate
	}
	st.level = math.Min(st.level, p.capacity)
	st.last = now
	return st
}

func (t *tokenBucket) check(key string, now time.Time, p params) (bool, time.Duration) {
	st := t.refill(key, now, p)
	if st.level+epsilon >= 1 {
		st.level = math.Max(st.level-1, 0)
		return true, 0
	}
	return false, secondsToDuration((1 - st.level) / p.rate)
}

func (t *tokenBucket) add(key string, amount int, now time.Time, p params) {
	st := t.refill(key, now, p)
	st.level = math.Min(st.level+float64(amount), p.capacity)
}

func (t *tokenBucket) remaining(key string, now time.Time, p params) int {
	st, ok := t.buckets[key]
	if !ok {
		return clampRemaining(int(math.Floor(p.capacity + epsilon)))
	}
	level := st.level
	if elapsed := now.Sub(st.last).Seconds(); elapsed > 0 {
		level += elapsed * p.rate
	}
	level = math.Min(level, p.capacity)
	return clampRemaining(int(math.Floor(level + epsilon)))
}

func (t *tokenBucket) reset(key string) { delete(t.buckets, key) }

func (t *tokenBucket) resetAll() { t.buckets = make(map[string]*bucketState) }

// leakyBucket fills by one unit per admitted call and drains at p.rate.
type leakyBucket struct {
	buckets map[string]*bucketState
}

func (l *leakyBucket) drain(key string, now time.Time, p params) *bucketState {
	st, ok := l.buckets[key]
	if !ok {
		st = &bucketState{last: now}
		l.buckets[key] = st
		return st
	}

	if elapsed := now.Sub(st.last).Seconds(); elapsed > 0 {
		st.level = math.Max(st.level-elapsed*p.rate, 0)
	}
	st.last = now
	return st
}

func (l *leakyBucket) check(key string, now time.Time, p params) (bool, time.Duration) {
	st := l.drain(key, now, p)
	if st.level+1 <= p.capacity+epsilon {
		st.level++
		return true, 0
	}
	return false, secondsToDuration((st.level + 1 - p.capacity) / p.rate)
}

func (l *leakyBucket) remaining(key string, now time.Time, p params) int {
	st, ok := l.buckets[key]
	if !ok {
		return clampRemaining(int(math.Floor(p.capacity + epsilon)))
	}
	level := st.level
	if elapsed := now.Sub(st.last).Seconds(); elapsed > 0 {
		level = math.Max(level-elapsed*p.rate, 0)
	}
	return clampRemaining(int(math.Floor(p.capacity - level + epsilon)))
}

func (l *leakyBucket) reset(key string) { delete(l.buckets, key) }

func (l *leakyBucket) resetAll() { l.buckets = make(map[string]*bucketState) }

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}

func clampRemaining(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
