package router

import "sync"

// LaneLock serialises events of one principal while letting different
// principals proceed in parallel. The global mutex only guards the lane
// map; each lane carries its own mutex. A lane is dropped as soon as no
// goroutine holds or waits on it.
type LaneLock struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	mu   sync.Mutex
	refs int
}

// NewLaneLock creates a ready-to-use LaneLock.
func NewLaneLock() *LaneLock {
	return &LaneLock{lanes: make(map[string]*lane)}
}

// Acquire locks the lane of key. Release must follow with the same key.
func (l *LaneLock) Acquire(key string) {
	l.mu.Lock()
	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane{}
		l.lanes[key] = ln
	}
	ln.refs++
	l.mu.Unlock()

	ln.mu.Lock()
}

// Release unlocks the lane of key.
func (l *LaneLock) Release(key string) {
	l.mu.Lock()
	ln, ok := l.lanes[key]
	if !ok {
		l.mu.Unlock()
		return
	}
	ln.refs--
	if ln.refs == 0 {
		delete(l.lanes, key)
	}
	l.mu.Unlock()

	ln.mu.Unlock()
}

// Len returns the number of live lanes.
func (l *LaneLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}
