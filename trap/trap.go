package trap

import "fmt"
import "time"

import "github.com/palladian1/gv6/defs"
import "github.com/palladian1/gv6/machine"
import "github.com/palladian1/gv6/proc"
import "github.com/palladian1/gv6/spinlock"

// Tickslock guards Ticks. anything may sleep on &Ticks to let time pass;
// the timer handler wakes that channel on every tick.
var (
	Tickslock spinlock.Spinlock_t
	Ticks     uint
)

var handlers [defs.NVECS]func()

// Install wires the dispatcher into the machine and resets the clock.
// boot runs it single threaded, before the processors start.
func Install() {
	Tickslock = spinlock.Mklock("time")
	Ticks = 0
	for i := range handlers {
		handlers[i] = nil
	}
	machine.Install_traphandler(trap)
}

// Handler registers fn for vector vec. fn runs in interrupt context:
// interrupts off, possibly no process, free to take spinlocks and wake
// sleepers, forbidden to sleep itself. register before the processors
// start.
func Handler(vec int, fn func()) {
	if vec < 0 || vec >= defs.NVECS {
		panic("bad vector")
	}
	handlers[vec] = fn
}

// trap is every interrupt's entry point. the clock advances only on
// processor 0's timer, so one tick is one tick no matter how many
// processors hear it. on the way out sit the scheduling checkpoints: a
// timer tick costs the interrupted process its processor, and a process
// flagged for death exits here, but only from a checkpoint window opened
// by its own code, where it holds nothing it would leak.
func trap(c *machine.Cpu_t, vec int, user bool) {
	switch {
	case vec == defs.TIMER:
		if c.Id == 0 {
			Tickslock.Acquire()
			Ticks++
			proc.Wakeup(&Ticks)
			Tickslock.Release()
		}
	case vec >= 0 && vec < defs.NVECS && handlers[vec] != nil:
		handlers[vec]()
	default:
		panic(fmt.Sprintf("weird trap: %d", vec))
	}

	p := proc.Myproc()
	if p != nil && user && p.Doomed() {
		proc.Exit(-1)
	}
	if p != nil && p.State == proc.RUNNING && vec == defs.TIMER {
		proc.Yield()
	}
	if p != nil && user && p.Doomed() {
		proc.Exit(-1)
	}
}

// Uptime reads the clock.
func Uptime() uint {
	Tickslock.Acquire()
	t := Ticks
	Tickslock.Release()
	return t
}

// Sleepticks blocks the calling process until at least n ticks have
// passed. every sleeper shares the &Ticks channel and re-checks its own
// deadline. a kill cuts the wait short.
func Sleepticks(n uint) defs.Err_t {
	p := proc.Myproc()
	if p == nil {
		panic("sleepticks")
	}
	Tickslock.Acquire()
	t0 := Ticks
	for Ticks-t0 < n {
		if p.Doomed() {
			Tickslock.Release()
			return -defs.EINTR
		}
		proc.Sleep(&Ticks, &Tickslock)
	}
	Tickslock.Release()
	return 0
}

// Tickerstart runs the clock: every period it posts a timer interrupt at
// every processor, the way the per-processor timers would fire. the
// returned function stops the clock and does not return until the ticker
// goroutine is gone, so a stopped clock can never fire at a machine that
// has since been rebooted.
func Tickerstart(period time.Duration) func() {
	stop := make(chan bool)
	dead := make(chan bool)
	go func() {
		defer close(dead)
		tick := time.NewTicker(period)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				n := machine.Ncpus()
				for i := 0; i < n; i++ {
					machine.Postintr(i, defs.TIMER)
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-dead
	}
}
