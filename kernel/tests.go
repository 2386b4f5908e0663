package kernel

import "github.com/palladian1/gv6/bio"
import "github.com/palladian1/gv6/machine"
import "github.com/palladian1/gv6/proc"
import "github.com/palladian1/gv6/spinlock"

// whole-machine exercises. callers run attached so they can spawn and
// block on the result channels; the _test files drive these with real
// assertions.

func spawn(name string, fn func()) {
	if _, err := proc.Spawn(name, fn); err != 0 {
		panic("spawn failed")
	}
}

// Counterstorm bumps one locked counter from nprocs processes and
// returns the final count, which should be nprocs*iters.
func Counterstorm(nprocs, iters int) int {
	lk := spinlock.Mklock("storm")
	count := 0
	done := make(chan bool, nprocs)
	for i := 0; i < nprocs; i++ {
		spawn("storm", func() {
			for j := 0; j < iters; j++ {
				lk.Acquire()
				count++
				lk.Release()
				if j%64 == 0 {
					machine.Intrcheck()
				}
			}
			done <- true
		})
	}
	for i := 0; i < nprocs; i++ {
		<-done
	}
	lk.Acquire()
	v := count
	lk.Release()
	return v
}

// Pingpong makes two processes take strict turns via sleep/wakeup and
// returns the number of turns taken, which should be 2*rounds.
func Pingpong(rounds int) int {
	lk := spinlock.Mklock("pingpong")
	turn := 0
	count := 0
	done := make(chan bool, 2)
	side := func(me int) func() {
		return func() {
			for i := 0; i < rounds; i++ {
				lk.Acquire()
				for turn != me {
					proc.Sleep(&turn, &lk)
				}
				count++
				turn = 1 - me
				proc.Wakeup(&turn)
				lk.Release()
			}
			done <- true
		}
	}
	spawn("ping", side(0))
	spawn("pong", side(1))
	<-done
	<-done
	return count
}

// Forktree spawns a binary tree of processes depth levels deep, each
// parent waiting on its children and propagating failure up through the
// exit status. returns whether the whole tree exited clean.
func Forktree(depth int) bool {
	var node func(d int)
	node = func(d int) {
		if d == 0 {
			return
		}
		for k := 0; k < 2; k++ {
			if _, err := proc.Spawn("tree", func() { node(d - 1) }); err != 0 {
				proc.Exit(1)
			}
		}
		bad := 0
		for k := 0; k < 2; k++ {
			_, status, err := proc.Wait()
			if err != 0 || status != 0 {
				bad++
			}
		}
		if bad != 0 {
			proc.Exit(1)
		}
	}
	rc := make(chan bool, 1)
	spawn("treeroot", func() {
		node(depth)
		rc <- true
	})
	return <-rc
}

// Diskstorm has nprocs processes each hammer a private block through
// the cache, then checks every block carries exactly rounds increments.
func Diskstorm(nprocs, rounds int) bool {
	done := make(chan bool, nprocs)
	for i := 0; i < nprocs; i++ {
		i := i
		spawn("diskstorm", func() {
			for r := 0; r < rounds; r++ {
				b := bio.Bread(1 + i)
				b.Data[0]++
				bio.Bwrite(b)
				bio.Brelse(b)
			}
			done <- true
		})
	}
	for i := 0; i < nprocs; i++ {
		<-done
	}
	rc := make(chan bool, 1)
	spawn("diskcheck", func() {
		good := true
		for i := 0; i < nprocs; i++ {
			b := bio.Bread(1 + i)
			if int(b.Data[0]) != rounds {
				good = false
			}
			bio.Brelse(b)
		}
		rc <- good
	})
	return <-rc
}
