package session

import (
	"sync"
	"time"
)

// reaper expires idle sessions. One goroutine sleeps until the earliest
// deadline and fires the expire callback for every session past due; no
// per-session timers exist. Reset and Cancel kick the loop so it
// re-evaluates the earliest deadline.
type reaper struct {
	timeout time.Duration
	expire  func(id string)

	mu        sync.Mutex
	deadlines map[string]time.Time

	kick     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// newReaper starts the scheduler goroutine. A non-positive timeout
// disables idle expiry entirely.
func newReaper(timeout time.Duration, expire func(id string)) *reaper {
	r := &reaper{
		timeout:   timeout,
		expire:    expire,
		deadlines: make(map[string]time.Time),
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	if timeout > 0 {
		go r.loop()
	}
	return r
}

// Reset pushes the session's deadline out to now+timeout. Called on
// every session activity.
func (r *reaper) Reset(id string) {
	if r.timeout <= 0 {
		return
	}
	r.mu.Lock()
	r.deadlines[id] = time.Now().Add(r.timeout)
	r.mu.Unlock()
	r.wake()
}

// Cancel drops the session's deadline.
func (r *reaper) Cancel(id string) {
	if r.timeout <= 0 {
		return
	}
	r.mu.Lock()
	delete(r.deadlines, id)
	r.mu.Unlock()
	r.wake()
}

// Stop terminates the scheduler goroutine. Safe to call more than once.
func (r *reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *reaper) wake() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *reaper) loop() {
	for {
		next, ok := r.earliest()

		var timer *time.Timer
		var fire <-chan time.Time
		if ok {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			fire = timer.C
		}

		select {
		case <-r.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-r.kick:
			// Deadlines changed; recompute the earliest.
			if timer != nil {
				timer.Stop()
			}
		case <-fire:
			for _, id := range r.collectExpired() {
				r.expire(id)
			}
		}
	}
}

func (r *reaper) earliest() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var next time.Time
	found := false
	for _, dl := range r.deadlines {
		if !found || dl.Before(next) {
			next = dl
			found = true
		}
	}
	return next, found
}

// collectExpired removes and returns every session whose deadline has
// passed. The expire callback runs without the reaper lock held, so it
// may call back into Reset or Cancel.
func (r *reaper) collectExpired() []string {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []string
	for id, dl := range r.deadlines {
		if !dl.After(now) {
			expired = append(expired, id)
			delete(r.deadlines, id)
		}
	}
	return expired
}
