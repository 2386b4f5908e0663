package machine

import "sync/atomic"

import "github.com/palladian1/gv6/defs"

// Traphand_t is the all-traps entry point. it runs on the goroutine that
// opened the interrupt window, with the flag cleared, on the processor
// that latched the vector. user reports whether the window was an
// explicit checkpoint opened by process code (Intrcheck) rather than an
// incidental enable (Sti); deferred kills may only fire at the former.
type Traphand_t func(c *Cpu_t, vec int, user bool)

var traphand Traphand_t

// Install_traphandler registers t as the machine's trap entry point.
// install before the processors start; the machine does not synchronize
// reinstallation against running processors.
func Install_traphandler(t Traphand_t) {
	traphand = t
}

// Rflags returns the calling processor's flag register. only the
// interrupt bit is simulated.
func Rflags() uint32 {
	return atomic.LoadUint32(&Mycpu().rflags)
}

// Cli turns interrupt delivery off on the calling processor. vectors
// posted while the flag is clear stay latched.
func Cli() {
	atomic.StoreUint32(&Mycpu().rflags, 0)
}

// Sti turns interrupt delivery on and immediately delivers anything
// latched, the way hardware takes a pending interrupt on the instruction
// after the enable.
func Sti() {
	c := Mycpu()
	atomic.StoreUint32(&c.rflags, FL_IF)
	c.intrdrain(false)
}

// Intrcheck opens an explicit interrupt window: if the flag is up,
// latched vectors are delivered here as if the hardware had interrupted
// between two instructions. long-running process code calls this at
// points where it holds nothing; it is also the checkpoint where a
// deferred kill takes effect.
func Intrcheck() {
	c := Mycpu()
	if atomic.LoadUint32(&c.rflags)&FL_IF != 0 {
		c.intrdrain(true)
	}
}

// Postintr latches vec at started processor cpun, the hosted analogue of
// a device raising its interrupt line. any goroutine may post, bound or
// not; delivery happens whenever that processor next has the flag up.
func Postintr(cpun int, vec int) {
	cpuget(cpun).Postintr(vec)
}

// Postintr latches vec at processor c.
func (c *Cpu_t) Postintr(vec int) {
	if vec < defs.IRQ_BASE || vec >= defs.IRQ_BASE+32 {
		panic("bad vector")
	}
	bit := uint32(1) << uint(vec-defs.IRQ_BASE)
	for {
		old := atomic.LoadUint32(&c.pending)
		if atomic.CompareAndSwapUint32(&c.pending, old, old|bit) {
			break
		}
	}
}

// intrdrain delivers latched vectors one at a time while the flag stays
// up. each delivery mimics an interrupt gate: the flag drops for the
// handler and comes back up on return. the handler may switch away; when
// the interrupted context resumes it may be on a different processor, so
// the drain rebinds after every handler and continues against the new
// processor's latch.
func (c *Cpu_t) intrdrain(user bool) {
	for {
		if atomic.LoadUint32(&c.rflags)&FL_IF == 0 {
			return
		}
		pend := atomic.LoadUint32(&c.pending)
		if pend == 0 {
			return
		}
		vec := 0
		for pend&(1<<uint(vec)) == 0 {
			vec++
		}
		bit := uint32(1) << uint(vec)
		for {
			old := atomic.LoadUint32(&c.pending)
			if atomic.CompareAndSwapUint32(&c.pending, old, old&^bit) {
				break
			}
		}
		atomic.StoreUint32(&c.rflags, 0)
		if traphand == nil {
			panic("trap with no handler")
		}
		traphand(c, defs.IRQ_BASE+vec, user)
		c = Mycpu()
		atomic.StoreUint32(&c.rflags, FL_IF)
	}
}
