// Package worker implements the thin supervisor of spec.md §4.6/§5: it
// drives Coordinator.Step in a loop, applies idle backoff, and ensures a
// single graceful shutdown on signal or caller request.
package worker

import (
	"context"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/estuary/cdc-relay/internal/coordinator"
	"github.com/estuary/cdc-relay/internal/metrics"
)

const (
	// idleThreshold is the number of consecutive unproductive Steps
	// before the Worker begins backing off, per spec.md §5.
	idleThreshold = 10
	idleBase      = 100 * time.Millisecond
	idleFactor    = 1.5
	idleCap       = 5 * time.Second
)

// Worker repeatedly invokes Coordinator.Step, sleeping with capped
// exponential backoff once steps go idle, until Stop is called.
type Worker struct {
	coord *coordinator.Coordinator

	stopCh  chan struct{}
	stopped chan struct{}

	idleLog *rate.Sometimes
}

func New(coord *coordinator.Coordinator) *Worker {
	return &Worker{
		coord:   coord,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
		idleLog: &rate.Sometimes{Interval: 30 * time.Second},
	}
}

// Run starts the Coordinator and loops Step until Stop is called or ctx
// is cancelled, then performs Coordinator.Stop exactly once. Run is
// intended to be invoked as a task.Group member.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.coord.Start(ctx); err != nil {
		return err
	}
	defer func() {
		w.coord.Stop()
		close(w.stopped)
	}()

	idleStreak := 0
	k := 0

	for {
		select {
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		processed, err := w.coord.Step(ctx)
		if err != nil {
			return err
		}

		if processed {
			idleStreak = 0
			k = 0
			continue
		}

		idleStreak++
		if idleStreak < idleThreshold {
			continue
		}

		delay := idleDelay(k)
		k++
		metrics.WorkerIdleSeconds.WithLabelValues(w.coord.SourceType(), w.coord.SourceID()).Observe(delay.Seconds())
		w.idleLog.Do(func() {
			log.WithField("delay", delay).Debug("worker: idle, backing off")
		})

		select {
		case <-time.After(delay):
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// idleDelay implements spec.md §5's idle backoff: min(0.1 * 1.5^k, 5.0)
// seconds, k counted from the threshold crossing.
func idleDelay(k int) time.Duration {
	seconds := math.Min(idleBase.Seconds()*math.Pow(idleFactor, float64(k)), idleCap.Seconds())
	return time.Duration(seconds * float64(time.Second))
}

// Stop signals Run to exit and blocks until Coordinator.Stop has run.
// Stop is idempotent: redundant calls (e.g. from duplicate signal
// delivery) observe the already-closed stopCh and return immediately.
func (w *Worker) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.stopped
}
