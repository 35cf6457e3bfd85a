package ratelimit

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_CoalescesBursts(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, 0)
	defer d.Stop()

	var calls atomic.Int32
	done := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		d.Schedule("m1", func() {
			calls.Add(1)
			done <- struct{}{}
		})
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced task never ran")
	}
	time.Sleep(60 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if d.Pending("m1") {
		t.Error("task still pending after running")
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 0)
	var ran atomic.Bool
	d.Schedule("m1", func() { ran.Store(true) })

	if !d.Cancel("m1") {
		t.Fatal("Cancel reported no pending task")
	}
	if d.Cancel("m1") {
		t.Error("second Cancel reported a pending task")
	}
	time.Sleep(60 * time.Millisecond)
	if ran.Load() {
		t.Error("cancelled task ran")
	}
}

func TestDebouncer_KeysIndependent(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 0)
	defer d.Stop()

	got := make(chan string, 2)
	d.Schedule("a", func() { got <- "a" })
	d.Schedule("b", func() { got <- "b" })

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case k := <-got:
			seen[k] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only saw %v", seen)
		}
	}
}

func TestDebouncer_MaxWaitBoundsSteadyStream(t *testing.T) {
	d := NewDebouncer(40*time.Millisecond, 100*time.Millisecond)
	defer d.Stop()

	var calls atomic.Int32
	stop := time.After(400 * time.Millisecond)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-tick.C:
			d.Schedule("m1", func() { calls.Add(1) })
		}
	}

	// Calls every 10ms never leave a 40ms quiet period, so only the max wait
	// lets the task run: roughly every 100ms over 400ms.
	if got := calls.Load(); got < 2 {
		t.Errorf("calls during steady stream = %d, want at least 2", got)
	}
}

func TestDebouncer_MaxWaitRestartsAfterRun(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 50*time.Millisecond)
	defer d.Stop()

	done := make(chan struct{}, 2)
	d.Schedule("m1", func() { done <- struct{}{} })
	<-done

	time.Sleep(80 * time.Millisecond)
	start := time.Now()
	d.Schedule("m1", func() { done <- struct{}{} })
	<-done
	// A fresh burst gets the full quiet period, not an expired max wait.
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("task ran after %v, want the 20ms quiet period", elapsed)
	}
}
