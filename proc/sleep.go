package proc

import "github.com/palladian1/gv6/spinlock"

// Sleep atomically gives up lk and parks the calling process on wchan,
// retaking lk before returning. the table lock is taken before lk is
// released, and that order is the whole no-lost-wakeup argument: a waker
// must hold the table lock to see or change our state, so between our
// release of lk and our park it can only wait behind us, never slip by.
// wchan carries no meaning and need not be unique; sleepers re-check
// their condition in a loop around this call.
func Sleep(wchan interface{}, lk *spinlock.Spinlock_t) {
	p := Myproc()
	if p == nil {
		panic("sleep")
	}
	if lk == nil {
		panic("sleep without lk")
	}
	if wchan == nil {
		panic("sleep without chan")
	}
	if lk != &ptable.lock {
		ptable.lock.Acquire()
		lk.Release()
	}
	p.wchan = wchan
	setstate(p, SLEEPING)
	sched()
	p.wchan = nil
	if lk != &ptable.lock {
		ptable.lock.Release()
		lk.Acquire()
	}
}

// wakeup1 moves every process sleeping on wchan to runnable. channels are
// shared by coincidence, so everyone matching gets up and re-checks their
// own condition. caller holds ptable.lock.
func wakeup1(wchan interface{}) {
	for i := range ptable.proc {
		p := &ptable.proc[i]
		if p.State == SLEEPING && p.wchan == wchan {
			setstate(p, RUNNABLE)
		}
	}
}

// Wakeup wakes every sleeper on wchan.
func Wakeup(wchan interface{}) {
	ptable.lock.Acquire()
	wakeup1(wchan)
	ptable.lock.Release()
}
