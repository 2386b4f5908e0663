package trap

import "sync/atomic"
import "testing"
import "time"

import "github.com/palladian1/gv6/defs"
import "github.com/palladian1/gv6/machine"
import "github.com/palladian1/gv6/mem"
import "github.com/palladian1/gv6/proc"

var stoptick func()

func boot(ncpu int, tick time.Duration) {
	mem.Init(defs.NPAGES)
	proc.Pinit()
	Install()
	machine.Bootcpus(ncpu, proc.Scheduler)
	machine.Attach()
	proc.Initstart()
	if tick > 0 {
		stoptick = Tickerstart(tick)
	}
}

func halt() {
	machine.Detach()
	if stoptick != nil {
		stoptick()
		stoptick = nil
	}
	machine.Halt()
	machine.Waitcpus()
}

func waitfor(t *testing.T, what string, f func() bool) {
	start := time.Now()
	for !f() {
		if time.Since(start) > 10*time.Second {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTicks(t *testing.T) {
	boot(2, time.Millisecond)
	defer halt()
	t0 := Uptime()
	waitfor(t, "the clock to advance", func() bool {
		return Uptime() >= t0+5
	})
}

func TestSleepticks(t *testing.T) {
	boot(2, time.Millisecond)
	defer halt()
	rc := make(chan [2]uint, 1)
	if _, err := proc.Spawn("napper", func() {
		t0 := Uptime()
		if err := Sleepticks(5); err != 0 {
			rc <- [2]uint{0, 0}
			return
		}
		rc <- [2]uint{t0, Uptime()}
	}); err != 0 {
		t.Fatalf("spawn: %d", err)
	}
	select {
	case r := <-rc:
		if r[1] < r[0]+5 {
			t.Fatalf("woke after %d ticks, wanted 5", r[1]-r[0])
		}
	case <-time.After(30 * time.Second):
		t.Fatalf("napper never woke")
	}
}

func TestSleepticksKilled(t *testing.T) {
	boot(2, time.Millisecond)
	defer halt()
	rc := make(chan defs.Err_t, 1)
	p, err := proc.Spawn("forever", func() {
		rc <- Sleepticks(1 << 30)
	})
	if err != 0 {
		t.Fatalf("spawn: %d", err)
	}
	// let it get to sleep, then doom it
	time.Sleep(20 * time.Millisecond)
	if err := proc.Kill(p.Pid); err != 0 {
		t.Fatalf("kill: %d", err)
	}
	select {
	case r := <-rc:
		if r != -defs.EINTR {
			t.Fatalf("killed sleep returned %d", r)
		}
	case <-time.After(10 * time.Second):
		proc.Procdump()
		t.Fatalf("killed sleeper stuck")
	}
}

func TestHandler(t *testing.T) {
	var hits int32
	// handlers must be in place before the processors start
	mem.Init(defs.NPAGES)
	proc.Pinit()
	Install()
	Handler(defs.INT_FAKE, func() {
		if machine.Rflags()&machine.FL_IF != 0 {
			t.Errorf("interrupts on in a handler")
		}
		atomic.AddInt32(&hits, 1)
	})
	machine.Bootcpus(2, proc.Scheduler)
	machine.Attach()
	proc.Initstart()
	defer halt()
	machine.Postintr(1, defs.INT_FAKE)
	waitfor(t, "the device handler to run", func() bool {
		return atomic.LoadInt32(&hits) > 0
	})
}

// two compute loops on one processor, no voluntary yields: only the
// ticker's preemption lets both make progress.
func TestTickerPreempts(t *testing.T) {
	boot(1, time.Millisecond)
	defer halt()
	var n0, n1 int64
	mk := func(n *int64) func() {
		return func() {
			for i := 0; i < 1000000; i++ {
				atomic.AddInt64(n, 1)
				machine.Intrcheck()
			}
		}
	}
	if _, err := proc.Spawn("c0", mk(&n0)); err != 0 {
		t.Fatalf("spawn: %d", err)
	}
	if _, err := proc.Spawn("c1", mk(&n1)); err != 0 {
		t.Fatalf("spawn: %d", err)
	}
	waitfor(t, "both compute loops to advance", func() bool {
		return atomic.LoadInt64(&n0) > 1000 && atomic.LoadInt64(&n1) > 1000
	})
	if err := proc.Kill(9999999); err != -defs.ESRCH {
		t.Fatalf("kill of nobody: %d", err)
	}
}
