package lock

import (
	"errors"
	"sync"
	"time"
)

// errLeaseLost is returned by a refresh func once the lock is no longer ours.
var errLeaseLost = errors.New("lock lease lost")

// lease keeps a held lock alive by calling refresh every interval until
// released.
type lease struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// startLease runs refresh on a ticker. Failed refreshes are reported to
// onErr; errLeaseLost also ends the loop.
func startLease(interval time.Duration, refresh func() error, onErr func(error)) *lease {
	l := &lease{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
			}
			if err := refresh(); err != nil {
				onErr(err)
				if errors.Is(err, errLeaseLost) {
					return
				}
			}
		}
	}()
	return l
}

// release stops refreshing, waits for an in-flight refresh, then runs fn.
// Only the first call has any effect.
func (l *lease) release(fn func()) {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		fn()
	})
}
