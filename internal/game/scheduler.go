package game

import (
	"context"
	"sync"
	"time"

	"github.com/ernie/shaker/internal/domain"
	"github.com/ernie/shaker/internal/metrics"
)

// SnapshotSaver durably writes a state snapshot
type SnapshotSaver interface {
	Save(ctx context.Context, snap domain.Snapshot) error
}

// Intervals are the periods of the background loops
type Intervals struct {
	Leaderboard time.Duration
	Passive     time.Duration
	BlockSweep  time.Duration
	EventSweep  time.Duration
	Persist     time.Duration
}

// DefaultIntervals are used for any zero field
var DefaultIntervals = Intervals{
	Leaderboard: 2 * time.Second,
	Passive:     30 * time.Second,
	BlockSweep:  time.Second,
	EventSweep:  time.Second,
	Persist:     30 * time.Second,
}

func (iv Intervals) withDefaults() Intervals {
	if iv.Leaderboard <= 0 {
		iv.Leaderboard = DefaultIntervals.Leaderboard
	}
	if iv.Passive <= 0 {
		iv.Passive = DefaultIntervals.Passive
	}
	if iv.BlockSweep <= 0 {
		iv.BlockSweep = DefaultIntervals.BlockSweep
	}
	if iv.EventSweep <= 0 {
		iv.EventSweep = DefaultIntervals.EventSweep
	}
	if iv.Persist <= 0 {
		iv.Persist = DefaultIntervals.Persist
	}
	return iv
}

// Scheduler runs the timer-driven tasks against a State. Each task takes the
// state lock for exactly one sweep, the same as a request handler would.
type Scheduler struct {
	state     *State
	saver     SnapshotSaver
	intervals Intervals

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	saveMu   sync.Mutex // one snapshot write at a time
}

// NewScheduler creates a scheduler. saver may be nil to disable persistence.
func NewScheduler(state *State, saver SnapshotSaver, intervals Intervals) *Scheduler {
	return &Scheduler{
		state:     state,
		saver:     saver,
		intervals: intervals.withDefaults(),
		done:      make(chan struct{}),
	}
}

// Start launches the loops; they run until Stop or ctx is done
func (sc *Scheduler) Start(ctx context.Context) {
	sc.loop(ctx, sc.intervals.Leaderboard, sc.state.BroadcastLeaderboard)
	sc.loop(ctx, sc.intervals.Passive, func() { sc.state.PassiveTick() })
	sc.loop(ctx, sc.intervals.BlockSweep, func() {
		if n := sc.state.SweepBlocks(); n > 0 {
			sc.state.log.Debug().Int("count", n).Msg("expired blocks cleared")
		}
	})
	sc.loop(ctx, sc.intervals.EventSweep, func() { sc.state.SweepEvent() })

	if sc.saver != nil {
		sc.wg.Add(1)
		go sc.persistLoop(ctx)
	}
	sc.state.log.Info().
		Dur("leaderboard", sc.intervals.Leaderboard).
		Dur("passive", sc.intervals.Passive).
		Dur("persist", sc.intervals.Persist).
		Msg("scheduler started")
}

// Stop ends every loop and writes a final snapshot
func (sc *Scheduler) Stop() {
	sc.stopOnce.Do(func() {
		sc.state.log.Info().Msg("scheduler: stopping...")
		close(sc.done)
		sc.wg.Wait()
		if sc.saver != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := sc.Persist(ctx); err != nil {
				sc.state.log.Error().Err(err).Msg("final snapshot failed")
			}
		}
		sc.state.log.Info().Msg("scheduler: shutdown complete")
	})
}

func (sc *Scheduler) loop(ctx context.Context, every time.Duration, task func()) {
	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-sc.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				task()
			}
		}
	}()
}

func (sc *Scheduler) persistLoop(ctx context.Context) {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.intervals.Persist)
	defer ticker.Stop()

	for {
		select {
		case <-sc.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-sc.state.PersistRequests():
		}
		if err := sc.Persist(ctx); err != nil {
			sc.state.log.Error().Err(err).Msg("snapshot write failed, previous copy kept")
		}
	}
}

// Persist takes a consistent snapshot and writes it outside the state lock
func (sc *Scheduler) Persist(ctx context.Context) error {
	if sc.saver == nil {
		return nil
	}
	sc.saveMu.Lock()
	defer sc.saveMu.Unlock()

	snap := sc.state.Snapshot()
	start := time.Now()
	err := sc.saver.Save(ctx, snap)
	metrics.PersistDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PersistTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.PersistTotal.WithLabelValues("ok").Inc()
	sc.state.log.Debug().Int("users", len(snap.Users)).Msg("snapshot written")
	return nil
}
