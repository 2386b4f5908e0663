package mem

import "github.com/palladian1/gv6/defs"
import "github.com/palladian1/gv6/machine"
import "github.com/palladian1/gv6/spinlock"

// Page_t is one frame of simulated physical memory.
type Page_t [defs.PGSIZE]uint8

var kmem struct {
	lk       spinlock.Spinlock_t
	freelist []*Page_t
	npages   int
}

// Init sizes the frame pool and frees every frame into it. boot runs it
// once, single threaded, before the processors start, so it writes the
// pool directly instead of locking.
func Init(npages int) {
	if npages <= 0 {
		npages = defs.NPAGES
	}
	kmem.lk = spinlock.Mklock("kmem")
	kmem.npages = npages
	kmem.freelist = make([]*Page_t, 0, npages)
	for i := 0; i < npages; i++ {
		pg := new(Page_t)
		poison(pg)
		kmem.freelist = append(kmem.freelist, pg)
	}
}

// freed frames are filled with junk so a use after free fails loudly
// instead of corrupting quietly.
func poison(pg *Page_t) {
	for i := range pg {
		pg[i] = 1
	}
}

// Kalloc returns one zeroed frame, or nil when physical memory is out.
func Kalloc() *Page_t {
	kmem.lk.Acquire()
	n := len(kmem.freelist)
	if n == 0 {
		kmem.lk.Release()
		return nil
	}
	pg := kmem.freelist[n-1]
	kmem.freelist = kmem.freelist[:n-1]
	kmem.lk.Release()
	for i := range pg {
		pg[i] = 0
	}
	return pg
}

// Kfree poisons a frame and returns it to the pool. a double free is
// only caught late, when the pool overflows.
func Kfree(pg *Page_t) {
	if pg == nil {
		panic("kfree")
	}
	poison(pg)
	kmem.lk.Acquire()
	if len(kmem.freelist) >= kmem.npages {
		panic("kfree: pool overflow")
	}
	kmem.freelist = append(kmem.freelist, pg)
	kmem.lk.Release()
}

// Nfree reports how many frames remain.
func Nfree() int {
	kmem.lk.Acquire()
	n := len(kmem.freelist)
	kmem.lk.Release()
	return n
}

// Addrspace_t stands in for a per-process translation table: one frame
// of bookkeeping that is installed on a processor while its process
// runs there.
type Addrspace_t struct {
	pmap *Page_t
}

// Mkas allocates the bookkeeping frame for a fresh address space.
func Mkas() (*Addrspace_t, defs.Err_t) {
	pg := Kalloc()
	if pg == nil {
		return nil, -defs.ENOMEM
	}
	return &Addrspace_t{pmap: pg}, 0
}

// Free returns the bookkeeping frame. the space must not be installed on
// any processor.
func (as *Addrspace_t) Free() {
	if as.pmap == nil {
		panic("addrspace already freed")
	}
	Kfree(as.pmap)
	as.pmap = nil
}

// Switchuvm installs as on processor c for the process about to run.
func Switchuvm(c *machine.Cpu_t, as *Addrspace_t) {
	if as == nil {
		panic("switchuvm: no address space")
	}
	if as.pmap == nil {
		panic("switchuvm: freed address space")
	}
	c.As = as
}

// Switchkvm reverts processor c to the kernel-only mapping.
func Switchkvm(c *machine.Cpu_t) {
	c.As = nil
}
