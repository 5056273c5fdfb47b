package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is a dependency that can be probed, such as a database pool or a
// cache client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck probes p.
func PingCheck(name string, p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrapf(err, "ping %s", name)
		}
		return nil
	}
}

// GoroutineCountCheck fails when the number of goroutines exceeds threshold.
// Every session feed holds at most one goroutine, so a runaway count points
// at a leak.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when a GC pause since the previous run exceeded
// threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	var (
		mu     sync.Mutex
		lastGC int64
	)
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)

		mu.Lock()
		fresh := stats.NumGC - lastGC
		lastGC = stats.NumGC
		mu.Unlock()

		// Pause is most recent first.
		for i, pause := range stats.Pause {
			if int64(i) >= fresh {
				break
			}
			if pause > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", pause, threshold)
			}
		}
		return nil
	}
}
