package bio

import "testing"
import "time"

import "github.com/palladian1/gv6/defs"
import "github.com/palladian1/gv6/ide"
import "github.com/palladian1/gv6/machine"
import "github.com/palladian1/gv6/mem"
import "github.com/palladian1/gv6/proc"
import "github.com/palladian1/gv6/trap"

func boot(ncpu, nblocks int) *ide.Disk_t {
	mem.Init(defs.NPAGES)
	proc.Pinit()
	trap.Install()
	d := ide.Mkdisk(nblocks, ncpu-1)
	Binit(d)
	machine.Bootcpus(ncpu, proc.Scheduler)
	machine.Attach()
	proc.Initstart()
	return d
}

func halt(d *ide.Disk_t) {
	machine.Detach()
	d.Stop()
	machine.Halt()
	machine.Waitcpus()
}

func TestReadWrite(t *testing.T) {
	d := boot(2, 64)
	defer halt(d)
	rc := make(chan string, 1)
	if _, err := proc.Spawn("rw", func() {
		b := Bread(5)
		for i := range b.Data {
			b.Data[i] = uint8(i ^ 0x5c)
		}
		Bwrite(b)
		Brelse(b)

		// through the cache
		b = Bread(5)
		for i := range b.Data {
			if b.Data[i] != uint8(i^0x5c) {
				Brelse(b)
				rc <- "cache lost the bytes"
				return
			}
		}
		Brelse(b)

		// and straight off the disk, around the cache
		var raw [defs.BSIZE]uint8
		req := defs.Bdevreq_t{Blkno: 5, Data: &raw}
		d.Rw(&req)
		for i := range raw {
			if raw[i] != uint8(i^0x5c) {
				rc <- "write never reached the disk"
				return
			}
		}
		rc <- ""
	}); err != 0 {
		t.Fatalf("spawn: %d", err)
	}
	select {
	case msg := <-rc:
		if msg != "" {
			t.Fatalf("%s", msg)
		}
	case <-time.After(20 * time.Second):
		proc.Procdump()
		t.Fatalf("buffer traffic wedged")
	}
}

func TestCacheHit(t *testing.T) {
	d := boot(2, 64)
	defer halt(d)
	rc := make(chan bool, 1)
	if _, err := proc.Spawn("hit", func() {
		b1 := Bread(9)
		b1.Data[0] = 0x77
		Brelse(b1)
		b2 := Bread(9)
		same := b1 == b2 && b2.Data[0] == 0x77
		Brelse(b2)
		rc <- same
	}); err != 0 {
		t.Fatalf("spawn: %d", err)
	}
	select {
	case same := <-rc:
		if !same {
			t.Fatalf("released block was not cached")
		}
	case <-time.After(20 * time.Second):
		t.Fatalf("cache test wedged")
	}
}

// two processes read-modify-write one block, blocking mid-hold; the
// per-entry lock must serialize them or increments disappear.
func TestEntrySerialized(t *testing.T) {
	d := boot(3, 64)
	defer halt(d)
	const nt = 2
	const rounds = 100
	done := make(chan bool, nt)
	for i := 0; i < nt; i++ {
		if _, err := proc.Spawn("bumper", func() {
			for r := 0; r < rounds; r++ {
				b := Bread(9)
				v := b.Data[0]
				proc.Yield()
				b.Data[0] = v + 1
				Bwrite(b)
				Brelse(b)
			}
			done <- true
		}); err != 0 {
			t.Fatalf("spawn: %d", err)
		}
	}
	for i := 0; i < nt; i++ {
		select {
		case <-done:
		case <-time.After(60 * time.Second):
			proc.Procdump()
			t.Fatalf("bumpers wedged")
		}
	}
	rc := make(chan uint8, 1)
	if _, err := proc.Spawn("check", func() {
		b := Bread(9)
		v := b.Data[0]
		Brelse(b)
		rc <- v
	}); err != 0 {
		t.Fatalf("spawn: %d", err)
	}
	select {
	case v := <-rc:
		if v != nt*rounds {
			t.Fatalf("lost increments: %d != %d", v, nt*rounds)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("check wedged")
	}
}

// run more blocks through the cache than it has entries: old ones must
// be recycled, and a recycled block must come back from the disk intact.
func TestRecycle(t *testing.T) {
	d := boot(2, 4*defs.NBUF)
	defer halt(d)
	rc := make(chan string, 1)
	if _, err := proc.Spawn("cycler", func() {
		b := Bread(0)
		for i := range b.Data {
			b.Data[i] = 0xd1
		}
		Bwrite(b)
		Brelse(b)
		for blk := 1; blk < 3*defs.NBUF; blk++ {
			b := Bread(blk)
			Brelse(b)
		}
		b = Bread(0)
		defer Brelse(b)
		for i := range b.Data {
			if b.Data[i] != 0xd1 {
				rc <- "recycled block came back wrong"
				return
			}
		}
		rc <- ""
	}); err != 0 {
		t.Fatalf("spawn: %d", err)
	}
	select {
	case msg := <-rc:
		if msg != "" {
			t.Fatalf("%s", msg)
		}
	case <-time.After(60 * time.Second):
		proc.Procdump()
		t.Fatalf("cycler wedged")
	}
}
