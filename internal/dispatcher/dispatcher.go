// Package dispatcher implements the coordinator's request/confirm
// state machine, the timeout sweeper, and the retry controller. All
// three share the inventory's mutex through a single sync.Cond, which
// is also how the dispatcher's drain-wait releases the lock between
// polls without deadlocking against the sweeper.
package dispatcher

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cpape/butler/internal/inventory"
)

// StatusPersister is invoked exactly once, at shutdown, with the
// three sets that need to survive the process: processed, failed, and
// whatever was still in flight (abandoned on interrupt). pending is
// deliberately not passed: it is not part of the persisted contract.
type StatusPersister interface {
	PersistStatus(processed, failed, inFlight []inventory.Block, fromInterrupt bool) error
}

// EventNotifier is an optional, best-effort observer of block
// lifecycle transitions. Errors are logged, never propagated — this
// must never sit on the dispatch critical path.
type EventNotifier interface {
	Notify(event string, block inventory.Block)
}

// Dispatcher serves request-block and confirm-block against a shared
// Inventory, and owns the sweeper goroutine that expires stale
// in-flight entries.
type Dispatcher struct {
	inv  *inventory.Inventory
	cond *sync.Cond

	timeLimit     time.Duration
	checkInterval time.Duration

	logger    zerolog.Logger
	metrics   *Metrics
	notifier  EventNotifier
	persister StatusPersister

	// onQuiesce is called exactly once, after status has been
	// persisted, to tell the owning server to stop accepting new
	// connections; the server closes its listener at once and lets
	// handlers in flight finish on their own connections. Run in a
	// goroutine so the handler that triggered shutdown is not blocked
	// by it and still writes its own "stop" response.
	onQuiesce func()

	sweeperDone chan struct{}
}

// Config bundles the dispatcher's runtime parameters, separate from
// the wire-level and persistence-level config so this package has no
// dependency on pkg/config.
type Config struct {
	TimeLimit     time.Duration
	CheckInterval time.Duration
	NumRetries    int
}

// New builds a Dispatcher over blocks already loaded (in file order;
// New reverses them onto Inventory's LIFO pending queue).
func New(blocks []inventory.Block, cfg Config, logger zerolog.Logger, metrics *Metrics, notifier EventNotifier, persister StatusPersister, onQuiesce func()) *Dispatcher {
	inv := inventory.New(blocks, cfg.NumRetries)
	d := &Dispatcher{
		inv:           inv,
		timeLimit:     cfg.TimeLimit,
		checkInterval: cfg.CheckInterval,
		logger:        logger.With().Str("component", "dispatcher").Logger(),
		metrics:       metrics,
		notifier:      notifier,
		persister:     persister,
		onQuiesce:     onQuiesce,
		sweeperDone:   make(chan struct{}),
	}
	d.cond = sync.NewCond(&inv.Mu)
	d.observeSizesLocked()
	return d
}

// Inventory exposes the underlying inventory for read-only inspection
// (tests, health checks). Callers must not mutate it directly.
func (d *Dispatcher) Inventory() *inventory.Inventory {
	return d.inv
}

// Metrics exposes the dispatcher's Prometheus collectors so the
// server can record protocol errors, which happen before any inventory
// operation is attempted.
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// RequestBlock hands the caller a new block to work on, or nil if
// there is nothing left to hand out — the coordinator signals "stop".
func (d *Dispatcher) RequestBlock() inventory.Block {
	d.cond.L.Lock()

	for {
		if !d.inv.Running {
			d.cond.L.Unlock()
			return nil
		}
		if len(d.inv.Pending) > 0 {
			b := d.inv.PopPending(time.Now())
			d.observeSizesLocked()
			d.cond.L.Unlock()
			d.onDispatched(b)
			return b
		}
		if len(d.inv.InFlight) == 0 {
			break
		}
		// Releases the lock while waiting and reacquires it before
		// returning: the drain-wait, expressed with a condition
		// variable instead of a manual sleep-poll loop.
		d.cond.Wait()
	}

	// Pending and in-flight are both empty: drain is complete.
	if d.inv.TryCounter < d.inv.NumRetries && len(d.inv.Failed) > 0 {
		d.inv.RefillFromFailed()
		d.inv.TryCounter++
		b := d.inv.PopPending(time.Now())
		d.observeSizesLocked()
		d.cond.L.Unlock()
		d.metrics.RetryRounds.Inc()
		d.logger.Info().Int("round", d.inv.TryCounter).Msg("retry round started, dispatched first refilled block")
		d.onDispatched(b)
		return b
	}

	shouldShutdown := d.triggerShutdownLocked()
	d.cond.L.Unlock()
	if shouldShutdown {
		d.logger.Info().Msg("block queue and failed list exhausted, shutting down")
		d.finishShutdown(false)
	}
	return nil
}

// ConfirmBlock reports a finished block. Idempotent: a duplicate or
// late confirm for a block no longer in flight is rejected without
// any state change.
func (d *Dispatcher) ConfirmBlock(b inventory.Block) bool {
	d.cond.L.Lock()
	idx := d.inv.RemoveInFlight(b)
	accepted := idx >= 0
	if accepted {
		d.inv.Processed = append(d.inv.Processed, b.Clone())
		d.metrics.ProcessedTotal.Inc()
	}
	d.observeSizesLocked()
	// A confirm can be the event that drains in-flight to empty; wake
	// any caller blocked in the drain-wait so it can recheck.
	d.cond.Broadcast()
	d.cond.L.Unlock()

	if accepted {
		d.metrics.BlocksConfirmed.Inc()
		d.notify("confirmed", b)
		d.logger.Debug().Interface("block", []int64(b)).Msg("block confirmed")
	} else {
		d.logger.Debug().Interface("block", []int64(b)).Msg("confirm rejected, block not in flight")
	}
	return accepted
}

// triggerShutdownLocked marks the inventory as no longer running and
// wakes any waiters, returning true exactly once — the first caller to
// observe Running==true. Caller must hold the lock.
func (d *Dispatcher) triggerShutdownLocked() bool {
	if !d.inv.Running {
		return false
	}
	d.inv.Running = false
	d.cond.Broadcast()
	return true
}

// ShutdownFromInterrupt handles a signal-driven shutdown: it may run
// concurrently with in-flight requests, so in-flight can be non-empty
// and is persisted verbatim.
func (d *Dispatcher) ShutdownFromInterrupt() {
	d.cond.L.Lock()
	shouldShutdown := d.triggerShutdownLocked()
	d.cond.L.Unlock()
	if shouldShutdown {
		d.logger.Warn().Msg("interrupt received, persisting status")
		d.finishShutdown(true)
	}
}

// finishShutdown persists status and quiesces the server. Called at
// most once, after triggerShutdownLocked has won the race.
func (d *Dispatcher) finishShutdown(fromInterrupt bool) {
	d.cond.L.Lock()
	processed := cloneAll(d.inv.Processed)
	failed := cloneAll(d.inv.Failed)
	inFlight := cloneAll(d.inv.InFlight)
	d.cond.L.Unlock()

	if d.persister != nil {
		if err := d.persister.PersistStatus(processed, failed, inFlight, fromInterrupt); err != nil {
			d.logger.Error().Err(err).Msg("failed to persist status")
		}
	}

	if d.onQuiesce != nil {
		go d.onQuiesce()
	}
}

// RunSweeper runs the timeout sweeper until the inventory stops
// running or stop is closed, whichever comes first. Intended to be
// run in its own goroutine.
func (d *Dispatcher) RunSweeper(stop <-chan struct{}) {
	defer close(d.sweeperDone)
	ticker := time.NewTicker(d.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		d.cond.L.Lock()
		if !d.inv.Running {
			d.cond.L.Unlock()
			return
		}
		expired := d.inv.ExpireOlderThan(time.Now(), d.timeLimit)
		d.observeSizesLocked()
		if len(expired) > 0 {
			// A sweep can also be what drains in-flight to empty.
			d.cond.Broadcast()
		}
		d.cond.L.Unlock()

		if len(expired) > 0 {
			d.metrics.BlocksExpired.Add(float64(len(expired)))
			d.logger.Info().Int("count", len(expired)).Msg("expired in-flight blocks over time limit")
			for _, b := range expired {
				d.notify("expired", b)
			}
		}
	}
}

// WaitSweeperDone blocks until RunSweeper has returned.
func (d *Dispatcher) WaitSweeperDone() {
	<-d.sweeperDone
}

func (d *Dispatcher) onDispatched(b inventory.Block) {
	d.metrics.BlocksDispatched.Inc()
	d.notify("dispatched", b)
	d.logger.Debug().Interface("block", []int64(b)).Msg("dispatched block")
}

func (d *Dispatcher) notify(event string, b inventory.Block) {
	if d.notifier == nil {
		return
	}
	d.notifier.Notify(event, b)
}

// observeSizesLocked refreshes the size gauges. Caller must hold the
// lock.
func (d *Dispatcher) observeSizesLocked() {
	pending, inFlight, _, failed := d.inv.Len()
	d.metrics.PendingSize.Set(float64(pending))
	d.metrics.InFlightSize.Set(float64(inFlight))
	d.metrics.FailedSize.Set(float64(failed))
}

func cloneAll(blocks []inventory.Block) []inventory.Block {
	out := make([]inventory.Block, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}
	return out
}
