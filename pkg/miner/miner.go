package miner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/screa/vanity-miner/internal/logger"
	"github.com/screa/vanity-miner/pkg/types"
	"github.com/screa/vanity-miner/pkg/worker"
)

const component = "Miner"

// ErrAlreadyRunning is returned by Mine when a search is in progress
var ErrAlreadyRunning = errors.New("miner is already running")

// ResultSink persists found keypairs. Persist must return an error wrapping
// types.ErrDuplicateKey for an address it already holds.
type ResultSink interface {
	Persist(ctx context.Context, kp types.Keypair) error
}

// Reporter renders periodic progress
type Reporter interface {
	Report(stats types.Stats)
	Finish(stats types.Stats)
}

// Tracer records coordinator milestones
type Tracer interface {
	RecordAction(record interface{})
}

// Options configures a Miner
type Options struct {
	Workers int
	Target  uint64 // persisted matches to collect, default 1

	// Global attempt budget, zero means unlimited. Each worker gets an
	// advisory share of ceil(MaxAttempts/Workers) unless the SearchSpec sets its
	// own MaxAttemptsPerWorker; the coordinator's total is authoritative.
	MaxAttempts uint64

	BatchSize      uint64
	ReportInterval time.Duration
	Reporter       Reporter
	Tracer         Tracer
}

// Miner coordinates a pool of search workers
type Miner struct {
	opts   Options
	gen    worker.Generator
	sink   ResultSink
	logger *logger.Logger

	mu       sync.Mutex
	running  bool
	quit     func()
	finished chan struct{}

	// Snapshot for Stats, written only by the coordinator goroutine.
	attempts   atomic.Uint64
	found      atomic.Uint64
	duplicates atomic.Uint64
	failures   atomic.Uint64
	startedAt  atomic.Int64
	stoppedAt  atomic.Int64
	active     atomic.Bool
}

// searchState is owned by the coordinator goroutine
type searchState struct {
	totalAttempts   uint64
	addressesFound  uint64
	targetAddresses uint64
	duplicates      uint64
	persistFailures uint64
	startedAt       time.Time
	running         bool

	workers   int
	budget    uint64
	exhausted map[int]bool
	last      *types.Keypair
}

func newSearchState(workers int, target, budget uint64) *searchState {
	return &searchState{
		targetAddresses: target,
		startedAt:       time.Now(),
		running:         true,
		workers:         workers,
		budget:          budget,
		exhausted:       make(map[int]bool),
	}
}

func (s *searchState) result() *types.Result {
	return &types.Result{
		Keypair:  s.last,
		Attempts: s.totalAttempts,
		Found:    s.addressesFound,
		Duration: time.Since(s.startedAt),
	}
}

type outcome int

const (
	keepGoing outcome = iota
	restartWorker
	targetReached
	budgetExhausted
	workerFailed
)

// NewMiner creates a new miner instance
func NewMiner(opts Options, gen worker.Generator, sink ResultSink, log *logger.Logger) *Miner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Target == 0 {
		opts.Target = 1
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = types.DefaultBatchSize
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = time.Second
	}
	return &Miner{
		opts:   opts,
		gen:    gen,
		sink:   sink,
		logger: log,
	}
}

// Mine runs the search until Target matches are persisted, the attempt
// budget runs out, a worker fails, ctx is cancelled or Stop is called.
// The returned Result carries partial counts on every path except an
// invalid spec.
func (m *Miner) Mine(ctx context.Context, spec types.SearchSpec) (*types.Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	quit := make(chan struct{})
	finished := make(chan struct{})
	m.running = true
	m.quit = sync.OnceFunc(func() { close(quit) })
	m.finished = finished
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(finished)
	}()

	return m.run(ctx, spec, quit)
}

func (m *Miner) run(ctx context.Context, spec types.SearchSpec, quit <-chan struct{}) (*types.Result, error) {
	workers := m.opts.Workers
	if m.opts.MaxAttempts > 0 && spec.MaxAttemptsPerWorker == 0 {
		spec.MaxAttemptsPerWorker = (m.opts.MaxAttempts + uint64(workers) - 1) / uint64(workers)
	}

	s := newSearchState(workers, m.opts.Target, m.opts.MaxAttempts)

	// Persists are cut short by Stop as well as by ctx.
	persistCtx, cancelPersist := context.WithCancel(ctx)
	defer cancelPersist()
	go func() {
		select {
		case <-quit:
			cancelPersist()
		case <-persistCtx.Done():
		}
	}()

	m.stoppedAt.Store(0)
	m.startedAt.Store(s.startedAt.UnixNano())
	m.publish(s)

	done := make(chan struct{})
	events := make(chan types.WorkerEvent, workers*4)
	commands := make([]chan types.WorkerCommand, workers)
	var wg sync.WaitGroup
	for i := range commands {
		commands[i] = make(chan types.WorkerCommand, 1)
		w := worker.NewWorker(i, m.gen, m.opts.BatchSize, commands[i], events, done)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run()
		}()
	}

	m.trace(types.SearchStarted{Pattern: spec.String(), Workers: workers, Target: s.targetAddresses})
	m.logger.Component(component, "Mining started with %d workers, target %d address(es)", workers, s.targetAddresses)

	var reportWG sync.WaitGroup
	reportDone := make(chan struct{})
	if m.opts.Reporter != nil {
		reportWG.Add(1)
		go func() {
			defer reportWG.Done()
			m.periodicReporter(time.NewTicker(m.opts.ReportInterval), reportDone)
		}()
	}

	for _, c := range commands {
		c <- types.StartCommand(spec)
	}

	shutdown := func(reason string, salvage bool) *types.Result {
		s.running = false
		for _, c := range commands {
			select {
			case c <- types.StopCommand():
			default:
			}
		}
		close(done)
		wg.Wait()
		if salvage {
			m.salvage(persistCtx, s, events)
		}

		m.stoppedAt.Store(time.Now().UnixNano())
		m.publish(s)
		close(reportDone)
		reportWG.Wait()
		if m.opts.Reporter != nil {
			m.opts.Reporter.Finish(m.Stats())
		}
		m.trace(types.SearchStopped{Reason: reason, Attempts: s.totalAttempts, Found: s.addressesFound})
		m.logger.Debugf(component, "Stopped (%s) after %d attempts", reason, s.totalAttempts)
		return s.result()
	}

	for {
		select {
		case <-ctx.Done():
			return shutdown("cancelled", false), types.ErrCancelled
		case <-quit:
			return shutdown("cancelled", false), types.ErrCancelled
		case ev := <-events:
			out, err := m.handleEvent(persistCtx, s, ev)
			m.publish(s)
			switch out {
			case restartWorker:
				commands[ev.WorkerID] <- types.StartCommand(spec)
			case targetReached:
				m.logger.Component(component, "Reached target of %d address(es)", s.targetAddresses)
				return shutdown("target reached", false), nil
			case budgetExhausted:
				res := shutdown("attempts exhausted", true)
				if s.addressesFound >= s.targetAddresses {
					return res, nil
				}
				return res, fmt.Errorf("%w: %d attempts without reaching target", types.ErrAttemptsExhausted, res.Attempts)
			case workerFailed:
				m.logger.Warnf(component, "%v", err)
				return shutdown("worker failure", false), err
			}
		}
	}
}

// handleEvent applies ev to s and decides what the coordinator does next
func (m *Miner) handleEvent(ctx context.Context, s *searchState, ev types.WorkerEvent) (outcome, error) {
	switch ev.Kind {
	case types.EventProgress:
		s.totalAttempts += ev.Attempts
		if ev.Exhausted {
			s.exhausted[ev.WorkerID] = true
		}
		if s.budget > 0 && s.totalAttempts > s.budget {
			return budgetExhausted, nil
		}
		if len(s.exhausted) >= s.workers {
			return budgetExhausted, nil
		}
		return keepGoing, nil

	case types.EventFound:
		s.totalAttempts += ev.Attempts
		if ev.Keypair == nil {
			return m.afterFound(s), nil
		}
		if err := m.sink.Persist(ctx, *ev.Keypair); err != nil {
			if ctx.Err() != nil {
				// Stopping; the event loop sees the cancellation next.
				return keepGoing, nil
			}
			if errors.Is(err, types.ErrDuplicateKey) {
				s.duplicates++
				m.logger.Warnf(component, "Duplicate address %s ignored", ev.Keypair.Address)
			} else {
				s.persistFailures++
				m.logger.Warnf(component, "Error saving address %s: %v", ev.Keypair.Address, err)
			}
			return m.afterFound(s), nil
		}
		s.addressesFound++
		s.last = ev.Keypair
		m.logger.Foundf("Saved address %s (%d of %d) after %d attempts on worker %d",
			ev.Keypair.Address, s.addressesFound, s.targetAddresses, ev.RunAttempts, ev.WorkerID)
		m.trace(types.AddressFound{
			Address:  ev.Keypair.Address,
			WorkerID: ev.WorkerID,
			Attempts: ev.RunAttempts,
			Found:    s.addressesFound,
		})
		if s.addressesFound >= s.targetAddresses {
			return targetReached, nil
		}
		return m.afterFound(s), nil

	case types.EventFailed:
		return workerFailed, fmt.Errorf("%w: worker %d: %w", types.ErrWorkerFailure, ev.WorkerID, ev.Err)
	}
	return keepGoing, nil
}

// afterFound decides whether the worker that just matched may search again.
// A spent budget leaves nothing for a fresh run.
func (m *Miner) afterFound(s *searchState) outcome {
	if s.budget > 0 && s.totalAttempts >= s.budget {
		return budgetExhausted
	}
	return restartWorker
}

// salvage handles events still queued after the workers have exited, so a
// match made within budget is persisted even when another worker's progress
// ended the search first.
func (m *Miner) salvage(ctx context.Context, s *searchState, events <-chan types.WorkerEvent) {
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case types.EventProgress:
				s.totalAttempts += ev.Attempts
			case types.EventFound:
				if s.addressesFound < s.targetAddresses {
					m.handleEvent(ctx, s, ev)
				} else {
					s.totalAttempts += ev.Attempts
				}
			}
		default:
			return
		}
	}
}

// Stop cancels a running search and returns once every worker has exited.
// It is safe to call at any time and more than once.
func (m *Miner) Stop() {
	m.mu.Lock()
	quit, finished := m.quit, m.finished
	m.mu.Unlock()
	if quit == nil {
		return
	}
	quit()
	<-finished
}

// Running reports whether a search is in progress
func (m *Miner) Running() bool {
	return m.active.Load()
}

// Stats returns the latest published snapshot of the search
func (m *Miner) Stats() types.Stats {
	st := types.Stats{
		Attempts:   m.attempts.Load(),
		Found:      m.found.Load(),
		Target:     m.opts.Target,
		Duplicates: m.duplicates.Load(),
		Failures:   m.failures.Load(),
		Running:    m.active.Load(),
	}
	if started := m.startedAt.Load(); started > 0 {
		end := time.Now().UnixNano()
		if stopped := m.stoppedAt.Load(); stopped > 0 {
			end = stopped
		}
		st.Elapsed = time.Duration(end - started)
	}
	return st
}

func (m *Miner) publish(s *searchState) {
	m.attempts.Store(s.totalAttempts)
	m.found.Store(s.addressesFound)
	m.duplicates.Store(s.duplicates)
	m.failures.Store(s.persistFailures)
	m.active.Store(s.running)
}

func (m *Miner) trace(record interface{}) {
	if m.opts.Tracer != nil {
		m.opts.Tracer.RecordAction(record)
	}
}

// periodicReporter hands progress snapshots to the reporter at regular intervals
func (m *Miner) periodicReporter(ticker *time.Ticker, done chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.opts.Reporter.Report(m.Stats())
		case <-done:
			return
		}
	}
}
