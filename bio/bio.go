package bio

import "github.com/palladian1/gv6/defs"
import "github.com/palladian1/gv6/sleeplock"
import "github.com/palladian1/gv6/spinlock"

// Buf_t is one cache entry. identity and reference count live under the
// cache lock; the bytes and the valid flag live under the entry's own
// sleeplock, which the cache hands out held.
type Buf_t struct {
	lock   sleeplock.Sleeplock_t
	valid  bool
	dirty  bool
	refcnt int
	Blkno  int
	Data   *[defs.BSIZE]uint8
}

var bcache struct {
	lk   spinlock.Spinlock_t
	bufs [defs.NBUF]Buf_t
	disk defs.Disk_i
}

// Binit readies the cache over disk d. boot runs it single threaded,
// before the processors start.
func Binit(d defs.Disk_i) {
	bcache.lk = spinlock.Mklock("bcache")
	bcache.disk = d
	for i := range bcache.bufs {
		bcache.bufs[i] = Buf_t{
			lock:  sleeplock.Mksleep("buffer"),
			Blkno: -1,
			Data:  new([defs.BSIZE]uint8),
		}
	}
}

// bget returns the locked cache entry for blkno, reviving it if cached,
// recycling an idle entry if not. everyone asking for one block gets one
// entry, serialized by its sleeplock; the bytes may be stale, which is
// Bread's problem. the sleeplock is taken only after the cache lock is
// released.
func bget(blkno int) *Buf_t {
	bcache.lk.Acquire()
	for i := range bcache.bufs {
		b := &bcache.bufs[i]
		if b.Blkno == blkno {
			b.refcnt++
			bcache.lk.Release()
			b.lock.Acquiresleep()
			return b
		}
	}
	// not cached; recycle. the refcnt check comes first: an idle entry
	// has no holder left to be writing the flags we look at next.
	for i := range bcache.bufs {
		b := &bcache.bufs[i]
		if b.refcnt == 0 && !b.dirty {
			b.Blkno = blkno
			b.valid = false
			b.refcnt = 1
			bcache.lk.Release()
			b.lock.Acquiresleep()
			return b
		}
	}
	panic("bget: no buffers")
}

// Bread returns a locked buffer holding the current bytes of blkno,
// consulting the disk only when the cache copy is stale.
func Bread(blkno int) *Buf_t {
	if blkno < 0 {
		panic("bread")
	}
	b := bget(blkno)
	if !b.valid {
		req := defs.Bdevreq_t{Blkno: b.Blkno, Data: b.Data}
		bcache.disk.Rw(&req)
		b.valid = true
	}
	return b
}

// Bwrite pushes a locked buffer's bytes to the disk before returning.
func Bwrite(b *Buf_t) {
	if !b.lock.Holdingsleep() {
		panic("bwrite")
	}
	b.dirty = true
	req := defs.Bdevreq_t{Blkno: b.Blkno, Write: true, Data: b.Data}
	bcache.disk.Rw(&req)
	b.dirty = false
	b.valid = true
}

// Brelse unlocks a buffer and drops its reference. the entry and its
// bytes stay cached for the next Bread of the same block.
func Brelse(b *Buf_t) {
	if !b.lock.Holdingsleep() {
		panic("brelse")
	}
	b.lock.Releasesleep()
	bcache.lk.Acquire()
	b.refcnt--
	if b.refcnt < 0 {
		panic("brelse: refcnt")
	}
	bcache.lk.Release()
}
