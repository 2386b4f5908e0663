package machine

import "sync/atomic"
import "testing"
import "time"

import "github.com/palladian1/gv6/defs"

func TestSwtch(t *testing.T) {
	me := Attach()
	a := Mkctx()
	b := Mkctx()
	ran := int32(0)
	done := make(chan bool)
	go func() {
		defer close(done)
		b.Begin()
		if Mycpu() != me {
			t.Errorf("wrong cpu after handoff")
		}
		atomic.StoreInt32(&ran, 1)
		Swtch(&b, &a)
		t.Errorf("discarded context resumed")
	}()
	Swtch(&a, &b)
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("other context did not run")
	}
	if Mycpu() != me {
		t.Fatalf("lost my cpu")
	}
	b.Discard()
	<-done
	Detach()
}

func TestDiscardFresh(t *testing.T) {
	me := Attach()
	b := Mkctx()
	done := make(chan bool)
	go func() {
		defer close(done)
		b.Begin()
		t.Errorf("discarded context began")
	}()
	b.Discard()
	<-done
	if Mycpu() != me {
		t.Fatalf("lost my cpu")
	}
	Detach()
}

func TestIntrwindow(t *testing.T) {
	var nint, nuser int32
	var gotvec int32
	Install_traphandler(func(c *Cpu_t, vec int, user bool) {
		if Rflags()&FL_IF != 0 {
			t.Errorf("flag up in handler")
		}
		atomic.AddInt32(&nint, 1)
		atomic.StoreInt32(&gotvec, int32(vec))
		if user {
			atomic.AddInt32(&nuser, 1)
		}
	})
	c := Attach()

	// latched but not delivered until a window opens
	c.Postintr(defs.TIMER)
	if n := atomic.LoadInt32(&nint); n != 0 {
		t.Fatalf("delivered with no window: %d", n)
	}
	Intrcheck()
	if n := atomic.LoadInt32(&nint); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if v := atomic.LoadInt32(&gotvec); v != defs.TIMER {
		t.Fatalf("wrong vector %d", v)
	}
	if atomic.LoadInt32(&nuser) != 1 {
		t.Fatalf("checkpoint delivery not marked")
	}

	// the flag gates delivery
	Cli()
	c.Postintr(defs.INT_FAKE)
	Intrcheck()
	if n := atomic.LoadInt32(&nint); n != 1 {
		t.Fatalf("delivered with flag down: %d", n)
	}
	Sti()
	if n := atomic.LoadInt32(&nint); n != 2 {
		t.Fatalf("enable did not deliver: %d", n)
	}
	if atomic.LoadInt32(&nuser) != 1 {
		t.Fatalf("enable delivery marked as checkpoint")
	}
	Detach()
}

func TestPostintr(t *testing.T) {
	var hits [2]int32
	Install_traphandler(func(c *Cpu_t, vec int, user bool) {
		atomic.AddInt32(&hits[c.Id], 1)
	})
	Bootcpus(2, func(c *Cpu_t) {
		for !Halted() {
			Sti()
			Pause()
		}
	})
	Postintr(0, defs.TIMER)
	Postintr(1, defs.INT_FAKE)
	start := time.Now()
	for atomic.LoadInt32(&hits[0]) == 0 || atomic.LoadInt32(&hits[1]) == 0 {
		if time.Since(start) > 5*time.Second {
			t.Fatalf("interrupts never delivered: %v %v", hits[0], hits[1])
		}
		time.Sleep(time.Millisecond)
	}
	Halt()
	Waitcpus()
}

func TestBootcap(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("oversized machine booted")
		}
	}()
	Bootcpus(defs.NCPU+1, func(c *Cpu_t) {})
}
