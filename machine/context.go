package machine

import "runtime"

// Context_t is a suspended flow of control: everything a processor needs
// to continue running it later. the hosted machine keeps the register
// state on a parked goroutine and hands processors around through a
// one-slot gate, so resuming a context is handing it a processor.
type Context_t struct {
	gate chan *Cpu_t
}

// Mkctx fabricates a context that may be switched into. the zero value is
// not a valid context; switching into one is a caller bug and panics.
func Mkctx() Context_t {
	return Context_t{gate: make(chan *Cpu_t, 1)}
}

// Swtch suspends the calling context and resumes new on the calling
// processor. it returns when some later Swtch resumes old, possibly on a
// different processor. locks held by the caller stay held across the
// suspension; the discipline about which locks those may be belongs to
// the callers, not here.
func Swtch(old, new *Context_t) {
	if old.gate == nil || new.gate == nil {
		panic("swtch: no context")
	}
	if old == new {
		panic("swtch: self")
	}
	c := clearcur()
	new.gate <- c
	old.Begin()
}

// Begin parks the caller until its context is switched into, then binds
// the handed-over processor to the calling goroutine. a fresh context's
// host goroutine must call Begin before running anything else; thereafter
// Swtch resumes it here.
func (ctx *Context_t) Begin() {
	c := <-ctx.gate
	if c == nil {
		// discarded while suspended; unwind the host goroutine
		// without running the rest of its code.
		runtime.Goexit()
	}
	setcur(c)
}

// Discard poisons a suspended context so that its host goroutine exits
// instead of resuming. the context must be suspended (or never started)
// and must never be switched into afterward.
func (ctx *Context_t) Discard() {
	if ctx.gate == nil {
		panic("discard: no context")
	}
	ctx.gate <- nil
}
