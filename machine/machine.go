package machine

import "runtime"
import "sync"
import "sync/atomic"

import "github.com/palladian1/gv6/defs"

// Cpu_t is one simulated processor. the scheduler loop owns Schedctx; the
// spinlock layer owns Ncli and Intena; Proc and As are scratch slots for
// the layers above (declared loosely to keep this package at the bottom
// of the import order). all fields but the interrupt state are only
// touched by the goroutine currently bound to the processor, and the
// processor moves between goroutines through channel handoffs, so plain
// stores are safe.
type Cpu_t struct {
	Id       int
	Ncli     int
	Intena   bool
	Proc     interface{}
	As       interface{}
	Schedctx Context_t
	rflags   uint32
	pending  uint32
}

const FL_IF = uint32(1 << 9)

var cpus struct {
	sync.Mutex
	all     []*Cpu_t
	cur     map[int64]*Cpu_t
	wg      sync.WaitGroup
	running bool
	nattach int
}

var halted uint32

func init() {
	cpus.cur = make(map[int64]*Cpu_t)
}

// goid digs the caller's goroutine id out of the runtime's stack header.
// a hardware kernel reads the processor number from a register; the
// hosted machine only has the goroutine identity to key on.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := buf[len("goroutine "):n]
	id := int64(0)
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	if id == 0 {
		panic("goid")
	}
	return id
}

func setcur(c *Cpu_t) {
	if c == nil {
		panic("nuts")
	}
	g := goid()
	cpus.Lock()
	if _, ok := cpus.cur[g]; ok {
		panic("nuts")
	}
	cpus.cur[g] = c
	cpus.Unlock()
}

func clearcur() *Cpu_t {
	g := goid()
	cpus.Lock()
	c, ok := cpus.cur[g]
	if !ok {
		panic("nuts")
	}
	delete(cpus.cur, g)
	cpus.Unlock()
	return c
}

// Mycpu returns the processor the calling goroutine is bound to. callers
// must ensure the binding cannot move underneath them (interrupts off or
// a pushcli region); asking for a processor from an unbound goroutine is
// fatal.
func Mycpu() *Cpu_t {
	cpus.Lock()
	c, ok := cpus.cur[goid()]
	cpus.Unlock()
	if !ok {
		panic("mycpu: not on a cpu")
	}
	return c
}

// Oncpu reports whether the calling goroutine is bound to a processor.
func Oncpu() bool {
	cpus.Lock()
	_, ok := cpus.cur[goid()]
	cpus.Unlock()
	return ok
}

func cpuget(cpun int) *Cpu_t {
	cpus.Lock()
	if cpun < 0 || cpun >= len(cpus.all) {
		cpus.Unlock()
		panic("no such cpu")
	}
	c := cpus.all[cpun]
	cpus.Unlock()
	return c
}

// Ncpus returns the number of started processors, not counting attached
// pseudo-processors.
func Ncpus() int {
	cpus.Lock()
	n := len(cpus.all)
	cpus.Unlock()
	return n
}

// Bootcpus starts n processors, up to defs.NCPU of them, each running f
// on its own goroutine with interrupts enabled, and returns immediately.
// f is the processor's whole life; when it returns the processor is gone.
// the trap handler must be installed before the processors start.
func Bootcpus(n int, f func(*Cpu_t)) {
	if n < 1 {
		panic("bootcpus: no cpus")
	}
	if n > defs.NCPU {
		panic("bootcpus: too many cpus")
	}
	cpus.Lock()
	if cpus.running {
		cpus.Unlock()
		panic("bootcpus: machine already running")
	}
	cpus.running = true
	atomic.StoreUint32(&halted, 0)
	cpus.all = make([]*Cpu_t, n)
	for i := 0; i < n; i++ {
		c := &Cpu_t{Id: i, Schedctx: Mkctx()}
		atomic.StoreUint32(&c.rflags, FL_IF)
		cpus.all[i] = c
	}
	cpus.wg.Add(n)
	cpus.Unlock()
	for i := 0; i < n; i++ {
		go cpurun(cpus.all[i], f)
	}
}

func cpurun(c *Cpu_t, f func(*Cpu_t)) {
	setcur(c)
	f(c)
	clearcur()
	cpus.wg.Done()
}

// Attach binds the calling goroutine to a private pseudo-processor so it
// can execute code that expects to be on a cpu (anything that takes a
// spinlock). the boot path and test harnesses use this; the
// pseudo-processor never runs a scheduler loop and devices cannot route
// interrupts at it.
func Attach() *Cpu_t {
	cpus.Lock()
	cpus.nattach++
	c := &Cpu_t{Id: -cpus.nattach, Schedctx: Mkctx()}
	cpus.Unlock()
	atomic.StoreUint32(&c.rflags, FL_IF)
	setcur(c)
	return c
}

// Detach undoes Attach. detaching with interrupts off or pushcli nesting
// outstanding is a bug in the caller.
func Detach() {
	c := clearcur()
	if c.Id >= 0 {
		panic("detach: not attached")
	}
	if c.Ncli != 0 || atomic.LoadUint32(&c.rflags)&FL_IF == 0 {
		panic("detach: interrupts off")
	}
}

// Halt tells every processor loop to wind down. it returns immediately;
// Waitcpus joins them.
func Halt() {
	atomic.StoreUint32(&halted, 1)
}

func Halted() bool {
	return atomic.LoadUint32(&halted) != 0
}

// Waitcpus blocks until every started processor's loop has returned. a
// processor whose loop is suspended mid-switch only winds down once the
// context holding it switches back, so callers quiesce their work first.
func Waitcpus() {
	cpus.wg.Wait()
	cpus.Lock()
	cpus.running = false
	cpus.Unlock()
}

var dummy int64

// Mfence orders every load and store before it against every one after
// it. the hosted machine rides on the runtime's atomics; a CAS is a full
// barrier on everything the race detector can see.
func Mfence() {
	atomic.CompareAndSwapInt64(&dummy, 0, 10)
}

// Xchg atomically stores v into *p and returns the old value. the one
// instruction every busy-wait gate is built from.
func Xchg(p *uint32, v uint32) uint32 {
	return atomic.SwapUint32(p, v)
}

// Load is an atomic read of *p, for peeking at a gate without writing it.
func Load(p *uint32) uint32 {
	return atomic.LoadUint32(p)
}

// Clear atomically stores zero into *p; the release side of an Xchg gate.
func Clear(p *uint32) {
	atomic.StoreUint32(p, 0)
}

// Pause yields the host thread briefly inside a busy-wait loop.
func Pause() {
	runtime.Gosched()
}
