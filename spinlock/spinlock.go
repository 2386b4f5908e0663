package spinlock

import "fmt"
import "runtime"
import "sync/atomic"
import "unsafe"

import "github.com/palladian1/gv6/machine"

// Spinlock_t protects short critical sections with a busy-wait gate.
// interrupts stay pushed off on the acquiring processor for the whole
// hold, so a handler on that processor can never spin on a lock the
// interrupted code below it already holds. the holding processor is
// recorded for Holding and for diagnostics; Pcs remembers where the lock
// was taken.
type Spinlock_t struct {
	locked uint32
	Name   string
	cpu    unsafe.Pointer
	Pcs    [10]uintptr
}

func Mklock(name string) Spinlock_t {
	return Spinlock_t{Name: name}
}

// Acquire spins until the gate clears. taking a lock the calling
// processor already holds would spin forever, so it panics instead.
func (l *Spinlock_t) Acquire() {
	Pushcli()
	if l.Holding() {
		l.dump()
		panic("acquire " + l.Name)
	}
	for machine.Xchg(&l.locked, 1) != 0 {
		machine.Pause()
	}
	// the barrier keeps the critical section's accesses from moving
	// above the point the gate became ours.
	machine.Mfence()
	atomic.StorePointer(&l.cpu, unsafe.Pointer(machine.Mycpu()))
	getcallerpcs(l.Pcs[:])
}

// Release clears the gate and pops the interrupt state pushed by Acquire.
// releasing a lock the calling processor does not hold panics.
func (l *Spinlock_t) Release() {
	if !l.Holding() {
		panic("release " + l.Name)
	}
	l.Pcs[0] = 0
	atomic.StorePointer(&l.cpu, nil)
	// the barrier keeps the critical section's accesses from moving
	// below the gate clear.
	machine.Mfence()
	machine.Clear(&l.locked)
	Popcli()
}

// Holding reports whether the calling processor holds l.
func (l *Spinlock_t) Holding() bool {
	Pushcli()
	r := machine.Load(&l.locked) != 0 &&
		(*machine.Cpu_t)(atomic.LoadPointer(&l.cpu)) == machine.Mycpu()
	Popcli()
	return r
}

// Pushcli disables interrupts and remembers, on the outermost push only,
// whether they were enabled before. matched Popclis restore that state
// when the count returns to zero, which is what lets two held locks
// compose: interrupts come back on only when the last one goes.
func Pushcli() {
	eflags := machine.Rflags()
	machine.Cli()
	c := machine.Mycpu()
	if c.Ncli == 0 {
		c.Intena = eflags&machine.FL_IF != 0
	}
	c.Ncli++
}

// Popcli undoes one Pushcli. popping with interrupts somehow enabled, or
// more times than pushed, is a fatal bug.
func Popcli() {
	if machine.Rflags()&machine.FL_IF != 0 {
		panic("popcli - interruptible")
	}
	c := machine.Mycpu()
	c.Ncli--
	if c.Ncli < 0 {
		panic("popcli")
	}
	if c.Ncli == 0 && c.Intena {
		machine.Sti()
	}
}

// record the caller's call chain, skipping the lock internals.
func getcallerpcs(pcs []uintptr) {
	n := runtime.Callers(3, pcs)
	for i := n; i < len(pcs); i++ {
		pcs[i] = 0
	}
}

// dump prints where the lock was last taken; used on the panic path.
func (l *Spinlock_t) dump() {
	fmt.Printf("lock %q taken at:\n", l.Name)
	pcs := make([]uintptr, 0, len(l.Pcs))
	for _, pc := range l.Pcs {
		if pc == 0 {
			break
		}
		pcs = append(pcs, pc)
	}
	if len(pcs) == 0 {
		return
	}
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		fmt.Printf("  %v:%v %v\n", fr.File, fr.Line, fr.Function)
		if !more {
			break
		}
	}
}
