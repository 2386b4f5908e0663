package sleeplock

import "github.com/palladian1/gv6/proc"
import "github.com/palladian1/gv6/spinlock"

// Sleeplock_t is a lock for long holds: contenders sleep instead of
// spinning, and the holder may itself sleep while it works (waiting on a
// disk transfer, say). the little spinlock inside guards only the lock's
// own fields, never the protected data, so it is held for a few
// instructions at a time.
type Sleeplock_t struct {
	lk     spinlock.Spinlock_t
	locked bool
	Name   string
	Pid    int
}

func Mksleep(name string) Sleeplock_t {
	return Sleeplock_t{lk: spinlock.Mklock("sleep " + name), Name: name}
}

// Acquiresleep blocks, sleeping, until the lock is free, then takes it.
// callers must be processes holding no spinlock; the sleep inside would
// otherwise switch away with interrupts pushed off.
func (l *Sleeplock_t) Acquiresleep() {
	l.lk.Acquire()
	for l.locked {
		proc.Sleep(l, &l.lk)
	}
	l.locked = true
	l.Pid = proc.Myproc().Pid
	l.lk.Release()
}

// Releasesleep frees the lock and gets every contender up to race for it
// again; the losers go back to sleep in their acquire loops.
func (l *Sleeplock_t) Releasesleep() {
	l.lk.Acquire()
	l.locked = false
	l.Pid = 0
	proc.Wakeup(l)
	l.lk.Release()
}

// Holdingsleep reports whether the calling process holds l.
func (l *Sleeplock_t) Holdingsleep() bool {
	l.lk.Acquire()
	r := l.locked && l.Pid == proc.Myproc().Pid
	l.lk.Release()
	return r
}
