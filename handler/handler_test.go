package handler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPostRunsInOrder(t *testing.T) {
	h := New("test")
	defer h.Stop()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, h.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, h.Call(func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestSelfPostNeverBlocks(t *testing.T) {
	h := New("test")
	defer h.Stop()

	// a task posting a burst back to its own handler must return; the
	// loop goroutine is busy running it, so nothing else can drain
	done := make(chan struct{})
	var ran int32
	require.NoError(t, h.Post(func() {
		for i := 0; i < 1000; i++ {
			require.NoError(t, h.Post(func() { atomic.AddInt32(&ran, 1) }))
		}
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("self-post blocked the handler")
	}
	require.NoError(t, h.Call(func() {}))
	require.Equal(t, int32(1000), atomic.LoadInt32(&ran))
}

func TestCallBlocksUntilDone(t *testing.T) {
	h := New("test")
	defer h.Stop()

	var x int32
	require.NoError(t, h.Call(func() {
		time.Sleep(10 * time.Millisecond)
		atomic.StoreInt32(&x, 1)
	}))
	require.Equal(t, int32(1), atomic.LoadInt32(&x))
}

func TestStopRejectsLaterPosts(t *testing.T) {
	h := New("test")
	h.Stop()

	err := h.Post(func() { t.Fatal("ran after stop") })
	require.Error(t, err)
	require.Contains(t, err.Error(), ErrStopped.Error())
}

func TestStopDrainsPending(t *testing.T) {
	h := New("test")

	var ran int32
	require.NoError(t, h.Post(func() { atomic.AddInt32(&ran, 1) }))
	h.Stop()
	require.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestAlarmFiresOnHandler(t *testing.T) {
	h := New("test")
	defer h.Stop()

	fired := make(chan struct{})
	a := NewAlarm(h)
	a.Schedule(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("alarm never fired")
	}
}

func TestAlarmCancel(t *testing.T) {
	h := New("test")
	defer h.Stop()

	var fired int32
	a := NewAlarm(h)
	a.Schedule(10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	a.Cancel()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.Call(func() {}))
	require.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestAlarmReschedule(t *testing.T) {
	h := New("test")
	defer h.Stop()

	first := make(chan struct{})
	second := make(chan struct{})
	a := NewAlarm(h)
	a.Schedule(time.Hour, func() { close(first) })
	a.Schedule(5*time.Millisecond, func() { close(second) })

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("rescheduled alarm never fired")
	}
	select {
	case <-first:
		t.Fatal("replaced schedule fired")
	default:
	}
}
