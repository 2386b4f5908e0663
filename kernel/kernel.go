package kernel

import "fmt"
import "time"

import "github.com/palladian1/gv6/bio"
import "github.com/palladian1/gv6/ide"
import "github.com/palladian1/gv6/machine"
import "github.com/palladian1/gv6/mem"
import "github.com/palladian1/gv6/proc"
import "github.com/palladian1/gv6/trap"

// Args_t tunes a boot; zero values pick defaults.
type Args_t struct {
	Ncpu    int
	Npages  int
	Nblocks int
	Tick    time.Duration
}

var disk *ide.Disk_t
var stoptick func()

// Boot brings a default machine up: ncpu processors, the frame pool, the
// trap table, a disk with its cache, init, and a live clock.
func Boot(ncpu int) {
	Bootargs(Args_t{Ncpu: ncpu, Tick: time.Millisecond})
}

// Bootargs is Boot with everything adjustable. everything that must
// exist before the processors run comes first, in dependency order; work
// that needs a process context is deferred to the first process.
func Bootargs(a Args_t) {
	if a.Ncpu <= 0 {
		a.Ncpu = 1
	}
	fmt.Printf("gv6: %d cpus\n", a.Ncpu)
	mem.Init(a.Npages)
	proc.Pinit()
	trap.Install()
	disk = ide.Mkdisk(a.Nblocks, a.Ncpu-1)
	bio.Binit(disk)
	proc.Oninit(func() {
		// prime the cache; boot itself cannot sleep on the disk
		b := bio.Bread(0)
		bio.Brelse(b)
	})
	machine.Bootcpus(a.Ncpu, proc.Scheduler)
	machine.Attach()
	proc.Initstart()
	machine.Detach()
	if a.Tick > 0 {
		stoptick = trap.Tickerstart(a.Tick)
	}
}

// Disk returns the boot disk.
func Disk() *ide.Disk_t {
	return disk
}

// Shutdown stops the clock, powers the disk off, halts the processor
// loops, and joins them. callers quiesce their own work first; anything
// still suspended stays suspended.
func Shutdown() {
	if stoptick != nil {
		stoptick()
		stoptick = nil
	}
	if disk != nil {
		disk.Stop()
		disk = nil
	}
	machine.Halt()
	machine.Waitcpus()
}
