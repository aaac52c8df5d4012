// Package timedmutex provides a mutex that unlocks itself after a
// deadline, covering the window where nonce-ordered requests must not
// interleave.
package timedmutex

import (
	"sync"
	"time"
)

// TimedMutex releases itself duration after the lock is taken unless
// UnlockIfLocked runs first.
type TimedMutex struct {
	mtx       sync.Mutex
	timerLock sync.RWMutex
	timer     *time.Timer
	duration  time.Duration
}

// New returns a timed mutex with the supplied hold duration.
func New(duration time.Duration) *TimedMutex {
	return &TimedMutex{duration: duration}
}

// LockForDuration locks and arms the auto-release timer.
func (t *TimedMutex) LockForDuration() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		t.mtx.Lock()
		t.setTimer()
		wg.Done()
	}()
	wg.Wait()
}

// UnlockIfLocked releases the mutex early. It reports false when the
// timer already fired or the mutex was never locked.
func (t *TimedMutex) UnlockIfLocked() bool {
	if t.timerNil() {
		return false
	}
	if !t.stopTimer() {
		return false
	}
	t.mtx.Unlock()
	return true
}

func (t *TimedMutex) stopTimer() bool {
	t.timerLock.Lock()
	defer t.timerLock.Unlock()
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
		return false
	}
	return true
}

func (t *TimedMutex) timerNil() bool {
	t.timerLock.RLock()
	defer t.timerLock.RUnlock()
	return t.timer == nil
}

func (t *TimedMutex) setTimer() {
	t.timerLock.Lock()
	t.timer = time.AfterFunc(t.duration, func() {
		t.mtx.Unlock()
	})
	t.timerLock.Unlock()
}
