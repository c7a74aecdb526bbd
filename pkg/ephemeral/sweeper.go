package ephemeral

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const DefaultSweepInterval = time.Minute

// SweepObserver is told about every sweep of every store, failed or not.
type SweepObserver func(store string, removed int, err error)

// Sweeper periodically calls Sweep on a set of named stores, off the
// request path.
type Sweeper struct {
	interval time.Duration
	stores   map[string]Sweepable
	observer SweepObserver

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

type SweeperOption func(*Sweeper)

func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithSweepObserver(observer SweepObserver) SweeperOption {
	return func(s *Sweeper) {
		s.observer = observer
	}
}

func NewSweeper(
	stores map[string]Sweepable,
	opts ...SweeperOption,
) *Sweeper {
	s := &Sweeper{
		interval: DefaultSweepInterval,
		stores:   stores,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop. Calling it more than once, or after
// Stop, has no further effect.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		select {
		case <-s.stop:
			return
		default:
		}
		s.started.Store(true)
		go s.loop()
	})
}

// Stop ends the loop and waits for a sweep in progress to finish. It is safe
// to call on a sweeper that was never started, and to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	if s.started.Load() {
		<-s.done
	}
}

// SweepNow runs one pass over every store. A failing store is logged and
// skipped; it never prevents the others from being swept.
func (s *Sweeper) SweepNow(ctx context.Context) {
	for name, store := range s.stores {
		removed, err := sweepOne(ctx, store)
		if err != nil {
			log.WithField("store", name).Warnf("sweep failed: %v", err)
		} else if removed > 0 {
			log.WithField("store", name).Debugf("swept %d expired entries", removed)
		}
		if s.observer != nil {
			s.observer(name, removed, err)
		}
	}
}

func (s *Sweeper) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.SweepNow(context.Background())
		}
	}
}

func sweepOne(
	ctx context.Context,
	store Sweepable,
) (
	removed int,
	err error,
) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sweep panicked: %v", ErrInternal, r)
		}
	}()
	return store.Sweep(ctx)
}
