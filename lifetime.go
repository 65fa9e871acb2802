package offlinecache

import "sync"

// lifetime counts the work a worker is doing: requests being served and the
// background tasks they started. Unlike a sync.WaitGroup, work may be added
// while someone is waiting for it to finish.
// Once retired, no new requests are admitted.
type lifetime struct {
	mutex   sync.Mutex
	idle    *sync.Cond
	pending int
	retired bool
}

func newLifetime() *lifetime {
	l := &lifetime{}
	l.idle = sync.NewCond(&l.mutex)
	return l
}

// admit registers a request. It reports false if the worker is retired.
func (l *lifetime) admit() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.retired {
		return false
	}
	l.pending++
	return true
}

// extend registers background work. It is always accepted, as it is only
// started by admitted requests.
func (l *lifetime) extend() {
	l.mutex.Lock()
	l.pending++
	l.mutex.Unlock()
}

func (l *lifetime) done() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.pending--
	if l.pending == 0 {
		l.idle.Broadcast()
	}
}

// wait blocks until there is no pending work.
func (l *lifetime) wait() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for l.pending > 0 {
		l.idle.Wait()
	}
}

func (l *lifetime) retire() {
	l.mutex.Lock()
	l.retired = true
	l.mutex.Unlock()
	l.wait()
}
