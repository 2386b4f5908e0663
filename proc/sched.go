package proc

import "sync/atomic"

import "github.com/palladian1/gv6/machine"
import "github.com/palladian1/gv6/mem"

// Scheduler is a processor's whole life: scan the table for something
// runnable, run it until it switches back, repeat. each round enables
// interrupts before taking the table lock. an idling processor that kept
// them off could never take the notification whose handler makes the next
// process runnable; and with the enable outside the hold, a handler that
// needs the table lock can never fire while this processor already has
// it.
func Scheduler(c *machine.Cpu_t) {
	for !machine.Halted() {
		machine.Sti()
		ptable.lock.Acquire()
		for i := range ptable.proc {
			p := &ptable.proc[i]
			if p.State != RUNNABLE {
				continue
			}
			// switch to p. p releases the table lock and takes it
			// back before switching here again; it owes us its
			// state moved off RUNNING by then.
			c.Proc = p
			mem.Switchuvm(c, p.As)
			setstate(p, RUNNING)
			machine.Swtch(&c.Schedctx, &p.Ctx)
			mem.Switchkvm(c)
			c.Proc = nil
		}
		ptable.lock.Release()
		machine.Pause()
	}
}

// sched hands the processor back to its scheduler loop. callers hold
// ptable.lock and nothing else, have already moved their state off
// RUNNING, and run with interrupts off. intena rides across the switch in
// a local because it is a property of this process, not of the processor:
// the processor's copy is about to be overwritten by whoever runs there
// next.
func sched() {
	p := Myproc()
	if !ptable.lock.Holding() {
		panic("sched ptable.lock")
	}
	if machine.Mycpu().Ncli != 1 {
		panic("sched locks")
	}
	if p.State == RUNNING {
		panic("sched running")
	}
	if machine.Rflags()&machine.FL_IF != 0 {
		panic("sched interruptible")
	}
	intena := machine.Mycpu().Intena
	machine.Swtch(&p.Ctx, &machine.Mycpu().Schedctx)
	machine.Mycpu().Intena = intena
}

// Yield gives the processor up until the scheduler comes back around.
func Yield() {
	ptable.lock.Acquire()
	setstate(Myproc(), RUNNABLE)
	sched()
	ptable.lock.Release()
}

// forkret is where every new process first resumes, still holding the
// table lock its scheduler took; that goes first. the first process ever
// also runs the deferred boot initialization here, the earliest moment in
// the machine's life where sleeping works.
func forkret() {
	ptable.lock.Release()
	if atomic.CompareAndSwapUint32(&firstflag, 1, 0) && onfirst != nil {
		onfirst()
	}
}
