package queue

import "sync"

// futures holds the in-flight delivery confirmations, keyed by message
// uuid. Channels are buffered so a resolver never blocks on a waiter that
// already gave up.
type futures struct {
	mu sync.Mutex
	m  map[string]chan bool
}

func newFutures() *futures {
	return &futures{m: make(map[string]chan bool)}
}

func (f *futures) create(uuid string) <-chan bool {
	ch := make(chan bool, 1)
	f.mu.Lock()
	f.m[uuid] = ch
	f.mu.Unlock()
	return ch
}

// resolve completes the future if it is still pending. Spurious and late
// replies fall through silently.
func (f *futures) resolve(uuid string, delivered bool) {
	f.mu.Lock()
	ch, ok := f.m[uuid]
	if ok {
		delete(f.m, uuid)
	}
	f.mu.Unlock()

	if ok {
		ch <- delivered
	}
}

func (f *futures) drop(uuid string) {
	f.mu.Lock()
	delete(f.m, uuid)
	f.mu.Unlock()
}

// failAll resolves every pending future as undelivered, used when the
// engine channel goes away.
func (f *futures) failAll() {
	f.mu.Lock()
	pending := f.m
	f.m = make(map[string]chan bool)
	f.mu.Unlock()

	for _, ch := range pending {
		ch <- false
	}
}
