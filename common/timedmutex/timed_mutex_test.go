package timedmutex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnlockBeforeTimeout(t *testing.T) {
	t.Parallel()
	m := New(time.Minute)
	m.LockForDuration()
	assert.True(t, m.UnlockIfLocked())
	assert.False(t, m.UnlockIfLocked(), "second unlock must report not locked")
}

func TestAutoReleaseAfterTimeout(t *testing.T) {
	t.Parallel()
	m := New(10 * time.Millisecond)
	m.LockForDuration()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, m.UnlockIfLocked(), "timer fired, early unlock must fail")

	// Lock must be obtainable again once the timer released it.
	done := make(chan struct{})
	go func() {
		m.LockForDuration()
		m.UnlockIfLocked()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mutex was not released by timer")
	}
}

func TestUnlockNeverLocked(t *testing.T) {
	t.Parallel()
	assert.False(t, New(time.Second).UnlockIfLocked())
}
