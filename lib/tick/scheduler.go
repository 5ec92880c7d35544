package tick

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// emaAlpha is the smoothing factor for per-kind execution time:
// new = (1-emaAlpha)*old + emaAlpha*sample.
const emaAlpha = 0.10

// LoopStats holds one tick loop's timing figures.
type LoopStats struct {
	// Smoothed is the exponentially smoothed execution time.
	Smoothed time.Duration

	// Last is the most recent execution time.
	Last time.Duration

	// Ticks is the number of iterations run.
	Ticks uint64
}

// Scheduler runs one independent loop per registered tick kind. Each loop
// invokes the dispatcher, then sleeps for the remainder of its interval; an
// iteration that overruns does not accumulate debt beyond itself, so there
// are no catch-up bursts. A slow kind never blocks any other.
type Scheduler struct {
	dispatcher *Dispatcher
	log        *logrus.Logger

	mu    sync.Mutex
	stats map[Kind]*LoopStats

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler over the dispatcher's registrations.
func NewScheduler(d *Dispatcher, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		dispatcher: d,
		log:        log,
		stats:      make(map[Kind]*LoopStats),
	}
}

// Name implements supervisor.Component.
func (s *Scheduler) Name() string { return "tick-scheduler" }

// Start launches one loop per kind registered at call time. Registration
// must be complete before Start; kinds registered later are not picked up.
// With no registrations the scheduler logs a warning and stays idle.
// ctx is the process shutdown signal.
func (s *Scheduler) Start(ctx context.Context) error {
	kinds := s.dispatcher.Kinds()
	if len(kinds) == 0 {
		s.log.Warn("No tick kinds registered, scheduler idle")
		return nil
	}

	for _, kind := range kinds {
		s.mu.Lock()
		s.stats[kind] = &LoopStats{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.run(ctx, kind)
	}

	s.log.WithField("kinds", len(kinds)).Info("Tick scheduler started")
	return nil
}

// Stop waits for every loop to observe cancellation and exit. ctx bounds
// the wait; the shutdown signal itself is tripped by the supervisor before
// Stop is invoked.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.report()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// report logs final timing figures for each loop.
func (s *Scheduler) report() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for kind, st := range s.stats {
		s.log.WithFields(logrus.Fields{
			"kind":     kind.String(),
			"ticks":    st.Ticks,
			"smoothed": st.Smoothed,
		}).Debug("Tick loop final stats")
	}
}

// Stats returns a copy of the loop stats for kind.
func (s *Scheduler) Stats(kind Kind) LoopStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.stats[kind]; ok {
		return *st
	}
	return LoopStats{}
}

// run is one kind's loop: tick, record timing, sleep the remainder.
func (s *Scheduler) run(ctx context.Context, kind Kind) {
	defer s.wg.Done()

	interval := s.dispatcher.Interval(kind)
	log := s.log.WithFields(logrus.Fields{
		"kind":     kind.String(),
		"interval": interval,
	})
	log.Debug("Tick loop running")

	timer := time.NewTimer(0)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for {
		if ctx.Err() != nil {
			log.Debug("Tick loop stopped")
			return
		}

		start := time.Now()
		s.dispatcher.ProcessTick(kind)
		elapsed := time.Since(start)
		s.record(kind, elapsed)

		sleep := interval - elapsed
		if sleep < 0 {
			sleep = 0
		}

		timer.Reset(sleep)
		select {
		case <-ctx.Done():
			log.Debug("Tick loop stopped")
			return
		case <-timer.C:
		}
	}
}

// record folds one sample into the kind's smoothed execution time.
func (s *Scheduler) record(kind Kind, sample time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats[kind]
	st.Smoothed = time.Duration((1-emaAlpha)*float64(st.Smoothed) + emaAlpha*float64(sample))
	st.Last = sample
	st.Ticks++
}
