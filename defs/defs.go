package defs

// system-wide tunables. the table sizes are compile-time fixed so that the
// scheduler and wakeup can scan whole arenas while holding one lock.
const (
	NPROC = 64
	NCPU  = 8
	NBUF  = 30

	BSIZE       = 512
	NDISKBLOCKS = 1024

	PGSIZE      = 4096
	NPAGES      = 256
	KSTACKPAGES = 1
)

// trap vectors. hardware IRQs start at 32; the vectors below are the only
// ones the hosted machine ever delivers.
const (
	IRQ_BASE = 32

	IRQ_TIMER = 0
	IRQ_DISK  = 14
	IRQ_FAKE  = 9

	TIMER    = IRQ_BASE + IRQ_TIMER
	INT_DISK = IRQ_BASE + IRQ_DISK
	INT_FAKE = IRQ_BASE + IRQ_FAKE

	NVECS = 64
)

type Err_t int

const (
	ESRCH  Err_t = 3
	EINTR  Err_t = 4
	EIO    Err_t = 5
	ECHILD Err_t = 10
	EAGAIN Err_t = 11
	ENOMEM Err_t = 12
)

// a block device transfer. Done is owned by the driver and may only be
// read/written with the driver's lock held; the requester sleeps on the
// request pointer itself until the completion interrupt marks it done.
type Bdevreq_t struct {
	Blkno int
	Write bool
	Data  *[BSIZE]uint8
	Done  bool
}

// Disk_i is what the block cache needs from a disk driver: a synchronous
// read/write that is allowed to block the calling process.
type Disk_i interface {
	Rw(req *Bdevreq_t)
}
