package proc

import "fmt"
import "sync/atomic"

import "github.com/palladian1/gv6/defs"
import "github.com/palladian1/gv6/machine"
import "github.com/palladian1/gv6/mem"
import "github.com/palladian1/gv6/spinlock"

type State_t int

const (
	UNUSED State_t = iota
	EMBRYO
	SLEEPING
	RUNNABLE
	RUNNING
	ZOMBIE
)

var states = [...]string{"unused", "embryo", "sleep", "runble", "run", "zombie"}

// Proc_t is one slot of the process table. a slot is looked at in two
// capacities: the table lock covers the fields any processor may inspect,
// the rest belong to the process alone and are only touched while it is
// current (or while it is still an embryo nobody else will look at).
type Proc_t struct {
	// ptable.lock must be held when using these:
	State  State_t
	Pid    int
	Parent *Proc_t
	killed bool
	wchan  interface{}
	xstate int

	// private to the process:
	Ctx    machine.Context_t
	Name   string
	kstack []*mem.Page_t
	As     *mem.Addrspace_t
	entry  func()
}

var ptable struct {
	lock spinlock.Spinlock_t
	proc [defs.NPROC]Proc_t
}

var nextpid int
var initproc *Proc_t
var onfirst func()
var firstflag uint32

// Statehook, when set, observes every lifecycle transition in the table.
// it runs on the goroutine making the transition, with ptable.lock held,
// so it must not block and must not touch the table itself. tests use it;
// nothing else should.
var Statehook func(p *Proc_t, old, new State_t)

func setstate(p *Proc_t, ns State_t) {
	if Statehook != nil {
		Statehook(p, p.State, ns)
	}
	p.State = ns
}

// Pinit resets the table for a fresh boot. it runs single threaded,
// before the processors start, so it does not lock.
func Pinit() {
	ptable.lock = spinlock.Mklock("ptable")
	for i := range ptable.proc {
		ptable.proc[i] = Proc_t{}
	}
	nextpid = 1
	initproc = nil
	onfirst = nil
	atomic.StoreUint32(&firstflag, 1)
	Statehook = nil
}

// Myproc returns the process running on the calling processor, or nil
// from a scheduler or an attached harness context. the pushcli pair pins
// the processor binding while we read its slot.
func Myproc() *Proc_t {
	spinlock.Pushcli()
	c := machine.Mycpu()
	p, _ := c.Proc.(*Proc_t)
	spinlock.Popcli()
	return p
}

// Doomed reports whether p has been flagged for termination. the flag is
// advisory; p acts on it at its own checkpoints, of which this read is
// usually the first half.
func (p *Proc_t) Doomed() bool {
	ptable.lock.Acquire()
	k := p.killed
	ptable.lock.Release()
	return k
}

// a kernel stack is defs.KSTACKPAGES frames, taken and returned together.
func stackalloc() []*mem.Page_t {
	stk := make([]*mem.Page_t, 0, defs.KSTACKPAGES)
	for i := 0; i < defs.KSTACKPAGES; i++ {
		pg := mem.Kalloc()
		if pg == nil {
			stackfree(stk)
			return nil
		}
		stk = append(stk, pg)
	}
	return stk
}

func stackfree(stk []*mem.Page_t) {
	for _, pg := range stk {
		mem.Kfree(pg)
	}
}

// allocproc claims an unused slot: embryo state, fresh pid, kernel stack,
// and a context fabricated so the first run enters forkret and then the
// entry function. embryo keeps other processors' hands off the slot while
// the rest is filled in without the lock.
func allocproc() (*Proc_t, defs.Err_t) {
	ptable.lock.Acquire()
	var p *Proc_t
	for i := range ptable.proc {
		if ptable.proc[i].State == UNUSED {
			p = &ptable.proc[i]
			break
		}
	}
	if p == nil {
		ptable.lock.Release()
		return nil, -defs.EAGAIN
	}
	setstate(p, EMBRYO)
	p.Pid = nextpid
	nextpid++
	ptable.lock.Release()

	if p.kstack = stackalloc(); p.kstack == nil {
		ptable.lock.Acquire()
		setstate(p, UNUSED)
		p.Pid = 0
		ptable.lock.Release()
		return nil, -defs.ENOMEM
	}
	p.Ctx = machine.Mkctx()
	return p, 0
}

// Spawn creates a process that runs fn and exits. the child is adopted by
// the calling process, or by init when the caller is not a process. the
// scheduler only sees the child once everything is in place.
func Spawn(name string, fn func()) (*Proc_t, defs.Err_t) {
	p, err := allocproc()
	if err != 0 {
		return nil, err
	}
	as, err := mem.Mkas()
	if err != 0 {
		stackfree(p.kstack)
		p.kstack = nil
		ptable.lock.Acquire()
		setstate(p, UNUSED)
		p.Pid = 0
		ptable.lock.Release()
		return nil, err
	}
	p.As = as
	p.Name = name
	p.entry = fn

	var parent *Proc_t
	if machine.Oncpu() {
		parent = Myproc()
	}
	if parent == nil {
		parent = initproc
	}
	go p.run()

	ptable.lock.Acquire()
	p.Parent = parent
	setstate(p, RUNNABLE)
	ptable.lock.Release()
	return p, 0
}

// run is the host side of a process: bind to whichever processor resumes
// the fabricated context, run the switch epilogue, the body, then die.
// the goroutine never outlives the slot's lifetime; discarding a reaped
// context unwinds it inside Begin.
func (p *Proc_t) run() {
	p.Ctx.Begin()
	forkret()
	p.entry()
	Exit(0)
}

// Exit terminates the calling process with an exit status. the slot stays
// zombie, keeping no processor, until the parent's Wait scavenges it.
func Exit(status int) {
	p := Myproc()
	if p == nil {
		panic("exit: no process")
	}
	if p == initproc {
		panic("init exiting")
	}

	ptable.lock.Acquire()
	// the parent may be blocked in Wait
	wakeup1(p.Parent)
	// orphans go to init, which reaps forever
	for i := range ptable.proc {
		q := &ptable.proc[i]
		if q.Parent == p {
			q.Parent = initproc
			if q.State == ZOMBIE {
				wakeup1(initproc)
			}
		}
	}
	p.xstate = status
	setstate(p, ZOMBIE)
	sched()
	panic("zombie exit")
}

// Wait blocks until a child exits, then scavenges it: context, kernel
// stack, address space, the slot itself. returns the child's pid and exit
// status. with living children it sleeps on the waiter's own slot
// pointer, the channel Exit pokes.
func Wait() (int, int, defs.Err_t) {
	p := Myproc()
	if p == nil {
		panic("wait: no process")
	}
	ptable.lock.Acquire()
	for {
		havekids := false
		for i := range ptable.proc {
			q := &ptable.proc[i]
			if q.Parent != p {
				continue
			}
			havekids = true
			if q.State == ZOMBIE {
				pid := q.Pid
				xst := q.xstate
				q.Ctx.Discard()
				stackfree(q.kstack)
				q.kstack = nil
				q.As.Free()
				q.As = nil
				q.Pid = 0
				q.Parent = nil
				q.Name = ""
				q.killed = false
				q.xstate = 0
				q.entry = nil
				setstate(q, UNUSED)
				ptable.lock.Release()
				return pid, xst, 0
			}
		}
		if !havekids {
			ptable.lock.Release()
			return 0, 0, -defs.ECHILD
		}
		if p.killed {
			ptable.lock.Release()
			return 0, 0, -defs.EINTR
		}
		Sleep(p, &ptable.lock)
	}
}

// Kill flags pid for termination and returns. purely advisory: the victim
// acts on the flag at its own checkpoints. a sleeping victim is made
// runnable so it reaches one soon; its condition loop sees the flag.
func Kill(pid int) defs.Err_t {
	ptable.lock.Acquire()
	for i := range ptable.proc {
		p := &ptable.proc[i]
		if p.Pid == pid && p.State != UNUSED {
			p.killed = true
			if p.State == SLEEPING {
				setstate(p, RUNNABLE)
			}
			ptable.lock.Release()
			return 0
		}
	}
	ptable.lock.Release()
	return -defs.ESRCH
}

// Oninit registers fn to run exactly once, in process context, on the
// first process that ever leaves the scheduler. pieces that must sleep to
// initialize (anything that reads a disk) cannot run from boot, which is
// not a process; they go here instead.
func Oninit(fn func()) {
	onfirst = fn
}

// Initstart creates init, pid 1, the reaper every orphan is handed to.
// boot calls it before starting anything else that can exit.
func Initstart() {
	p, err := Spawn("init", initmain)
	if err != 0 {
		panic("no init")
	}
	initproc = p
}

func initmain() {
	for {
		_, _, err := Wait()
		if err != 0 {
			// nothing to reap yet; give the processor away
			Yield()
		}
	}
}

// Procdump prints the table to the console. it takes no lock so a wedged
// machine can still be inspected; the output may be torn.
func Procdump() {
	for i := range ptable.proc {
		p := &ptable.proc[i]
		if p.State == UNUSED {
			continue
		}
		s := "???"
		if int(p.State) < len(states) {
			s = states[p.State]
		}
		if p.State == SLEEPING {
			fmt.Printf("%d %s %s chan %p\n", p.Pid, s, p.Name, p.wchan)
		} else {
			fmt.Printf("%d %s %s\n", p.Pid, s, p.Name)
		}
	}
}
