package ide

import "fmt"

import "github.com/palladian1/gv6/defs"
import "github.com/palladian1/gv6/machine"
import "github.com/palladian1/gv6/proc"
import "github.com/palladian1/gv6/spinlock"
import "github.com/palladian1/gv6/trap"

// Disk_t is a block device with the usual shape: a request queue fed
// under a lock, a controller doing one transfer at a time, a completion
// interrupt routed at one processor. the hardware here is a goroutine
// and a slab of host memory.
type Disk_t struct {
	lk     spinlock.Spinlock_t
	queue  []*defs.Bdevreq_t
	reqch  chan *defs.Bdevreq_t
	stop   chan bool
	dead   chan bool
	store  [][defs.BSIZE]uint8
	intcpu int
}

// Mkdisk creates a disk of nblocks blocks whose completion interrupts go
// to processor intcpu, and hooks the disk vector. call during boot,
// before the processors start.
func Mkdisk(nblocks, intcpu int) *Disk_t {
	if nblocks <= 0 {
		nblocks = defs.NDISKBLOCKS
	}
	d := &Disk_t{
		lk:     spinlock.Mklock("ide"),
		reqch:  make(chan *defs.Bdevreq_t, 1),
		stop:   make(chan bool),
		dead:   make(chan bool),
		store:  make([][defs.BSIZE]uint8, nblocks),
		intcpu: intcpu,
	}
	trap.Handler(defs.INT_DISK, d.intr)
	go d.ctrl()
	return d
}

// Nblocks reports the disk's capacity.
func (d *Disk_t) Nblocks() int {
	return len(d.store)
}

// ctrl plays the controller: take a transfer, move the bytes, raise the
// completion interrupt, wait for more. it is host machinery, not kernel
// code; it touches no kernel lock, so it cannot deadlock with the
// handler that runs with the queue lock held.
func (d *Disk_t) ctrl() {
	for {
		select {
		case req := <-d.reqch:
			if req.Blkno < 0 || req.Blkno >= len(d.store) {
				panic("ide: block out of range")
			}
			if req.Write {
				d.store[req.Blkno] = *req.Data
			} else {
				*req.Data = d.store[req.Blkno]
			}
			machine.Postintr(d.intcpu, defs.INT_DISK)
		case <-d.stop:
			close(d.dead)
			return
		}
	}
}

// Stop powers the controller off and does not return until its goroutine
// is gone, so a stopped disk can never raise an interrupt at a machine
// that has since been rebooted. a transfer still queued when the power
// goes strands its requester; callers quiesce I/O first.
func (d *Disk_t) Stop() {
	close(d.stop)
	<-d.dead
}

// start hands the controller the transfer at the queue head. the caller
// holds the lock. the head stays queued until its completion interrupt,
// which is what keeps exactly one transfer in flight.
func (d *Disk_t) start(req *defs.Bdevreq_t) {
	if req.Data == nil {
		panic("ide: no buffer")
	}
	d.reqch <- req
}

// intr takes one completion: mark the head done, wake its requester,
// feed the controller the next transfer. interrupt context.
func (d *Disk_t) intr() {
	d.lk.Acquire()
	if len(d.queue) == 0 {
		fmt.Printf("spurious disk interrupt\n")
		d.lk.Release()
		return
	}
	req := d.queue[0]
	d.queue = d.queue[1:]
	req.Done = true
	proc.Wakeup(req)
	if len(d.queue) > 0 {
		d.start(d.queue[0])
	}
	d.lk.Release()
}

// Rw performs one synchronous transfer for the calling process, sleeping
// it until the completion interrupt. the request itself is the sleep
// channel, so coincidental sharing is impossible.
func (d *Disk_t) Rw(req *defs.Bdevreq_t) {
	if req.Data == nil {
		panic("ide: no buffer")
	}
	if proc.Myproc() == nil {
		panic("ide: rw outside a process")
	}
	d.lk.Acquire()
	req.Done = false
	d.queue = append(d.queue, req)
	if len(d.queue) == 1 {
		d.start(req)
	}
	for !req.Done {
		proc.Sleep(req, &d.lk)
	}
	d.lk.Release()
}
