package pactverifier

import (
	"sync"
	"time"
)

// notify wakes up every waiter when a run completes.
type notify struct {
	mu     sync.Mutex
	notify chan struct{}
}

func newNotify() *notify {
	return &notify{notify: make(chan struct{})}
}

// Wait blocks until the next Notify or until timeout passes.
func (n *notify) Wait(timeout time.Duration) {
	n.mu.Lock()
	ch := n.notify
	n.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
	}
}

func (n *notify) Notify() {
	n.mu.Lock()
	close(n.notify)
	n.notify = make(chan struct{})
	n.mu.Unlock()
}
