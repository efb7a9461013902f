package miner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/screa/vanity-miner/internal/logger"
	"github.com/screa/vanity-miner/pkg/types"
)

// countingGenerator yields "Match-<n>" on every nth call (never if every is 0)
type countingGenerator struct {
	calls atomic.Uint64
	every uint64
	err   error
}

func (g *countingGenerator) Generate() (types.Keypair, error) {
	n := g.calls.Add(1)
	if g.err != nil {
		return types.Keypair{}, g.err
	}
	if g.every > 0 && n%g.every == 0 {
		return types.Keypair{Address: fmt.Sprintf("Match-%d", n), Private: []byte{1}}, nil
	}
	return types.Keypair{Address: "nothing", Private: []byte{0}}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	calls   int
	saved   []string
	failFor func(call int) error
}

func (s *recordingSink) Persist(_ context.Context, kp types.Keypair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failFor != nil {
		if err := s.failFor(s.calls); err != nil {
			return err
		}
	}
	s.saved = append(s.saved, kp.Address)
	return nil
}

func (s *recordingSink) snapshot() (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]string(nil), s.saved...)
}

type recordingReporter struct {
	reports  atomic.Int64
	finishes atomic.Int64
}

func (r *recordingReporter) Report(types.Stats) { r.reports.Add(1) }
func (r *recordingReporter) Finish(types.Stats) { r.finishes.Add(1) }

type recordingTracer struct {
	mu      sync.Mutex
	actions []interface{}
}

func (t *recordingTracer) RecordAction(record interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions = append(t.actions, record)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

// assertQuiescent checks the generator is no longer being called
func assertQuiescent(t *testing.T, gen *countingGenerator) {
	t.Helper()
	before := gen.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if after := gen.calls.Load(); after != before {
		t.Errorf("generator called %d times after shutdown", after-before)
	}
}

func TestNewMiner(t *testing.T) {
	m := NewMiner(Options{}, &countingGenerator{}, &recordingSink{}, logger.Discard())
	if m == nil {
		t.Fatal("NewMiner returned nil")
	}
	if m.opts.Workers != runtime.NumCPU() {
		t.Errorf("Workers = %d, want %d", m.opts.Workers, runtime.NumCPU())
	}
	if m.opts.Target != 1 {
		t.Errorf("Target = %d, want 1", m.opts.Target)
	}
	if m.opts.BatchSize != types.DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", m.opts.BatchSize, types.DefaultBatchSize)
	}
	if m.opts.ReportInterval != time.Second {
		t.Errorf("ReportInterval = %v, want 1s", m.opts.ReportInterval)
	}
}

func TestMineInvalidSpec(t *testing.T) {
	gen := &countingGenerator{every: 1}
	m := NewMiner(Options{Workers: 2}, gen, &recordingSink{}, logger.Discard())

	res, err := m.Mine(context.Background(), types.SearchSpec{CaseSensitive: true})
	if !errors.Is(err, types.ErrInvalidSpecification) {
		t.Fatalf("err = %v, want ErrInvalidSpecification", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if gen.calls.Load() != 0 {
		t.Error("generator called for an invalid spec")
	}
}

func TestHandleEventProgressAccumulation(t *testing.T) {
	orders := [][]uint64{{10000, 15000}, {15000, 10000}}
	for _, order := range orders {
		m := NewMiner(Options{Workers: 2}, nil, nil, logger.Discard())
		s := newSearchState(2, 1, 0)
		s.totalAttempts = 500
		for i, n := range order {
			out, err := m.handleEvent(context.Background(), s, types.WorkerEvent{Kind: types.EventProgress, WorkerID: i, Attempts: n})
			if err != nil || out != keepGoing {
				t.Fatalf("handleEvent = (%v, %v), want keepGoing", out, err)
			}
		}
		if s.totalAttempts != 25500 {
			t.Errorf("order %v: totalAttempts = %d, want 25500", order, s.totalAttempts)
		}
	}
}

func TestHandleEventFound(t *testing.T) {
	tests := []struct {
		name        string
		persistErr  error
		target      uint64
		want        outcome
		found       uint64
		duplicates  uint64
		failures    uint64
		keepsResult bool
	}{
		{name: "persisted below target", target: 2, want: restartWorker, found: 1, keepsResult: true},
		{name: "persisted at target", target: 1, want: targetReached, found: 1, keepsResult: true},
		{name: "duplicate", persistErr: fmt.Errorf("insert: %w", types.ErrDuplicateKey), target: 1, want: restartWorker, duplicates: 1},
		{name: "storage unavailable", persistErr: types.ErrStorageUnavailable, target: 1, want: restartWorker, failures: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{failFor: func(int) error { return tt.persistErr }}
			m := NewMiner(Options{Workers: 1, Target: tt.target}, nil, sink, logger.Discard())
			s := newSearchState(1, tt.target, 0)

			kp := &types.Keypair{Address: "SolDAOxyz"}
			out, err := m.handleEvent(context.Background(), s, types.WorkerEvent{Kind: types.EventFound, Keypair: kp, Attempts: 42})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out != tt.want {
				t.Errorf("outcome = %v, want %v", out, tt.want)
			}
			if s.addressesFound != tt.found || s.duplicates != tt.duplicates || s.persistFailures != tt.failures {
				t.Errorf("state = found %d dup %d fail %d, want %d %d %d",
					s.addressesFound, s.duplicates, s.persistFailures, tt.found, tt.duplicates, tt.failures)
			}
			if (s.last != nil) != tt.keepsResult {
				t.Errorf("last keypair set = %v, want %v", s.last != nil, tt.keepsResult)
			}
		})
	}
}

func TestHandleEventFailed(t *testing.T) {
	boom := errors.New("rng failure")
	m := NewMiner(Options{Workers: 1}, nil, nil, logger.Discard())
	out, err := m.handleEvent(context.Background(), newSearchState(1, 1, 0), types.WorkerEvent{Kind: types.EventFailed, WorkerID: 3, Err: boom})
	if out != workerFailed {
		t.Errorf("outcome = %v, want workerFailed", out)
	}
	if !errors.Is(err, types.ErrWorkerFailure) || !errors.Is(err, boom) {
		t.Errorf("err = %v, want both ErrWorkerFailure and the cause", err)
	}
}

func TestMineTargetCompletion(t *testing.T) {
	gen := &countingGenerator{every: 7}
	sink := &recordingSink{}
	m := NewMiner(Options{Workers: 2, Target: 2, BatchSize: 10}, gen, sink, logger.Discard())

	res, err := m.Mine(context.Background(), types.SearchSpec{Prefix: "match"})
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if res.Found != 2 {
		t.Errorf("Found = %d, want 2", res.Found)
	}
	if res.Keypair == nil {
		t.Fatal("result has no keypair")
	}
	calls, saved := sink.snapshot()
	if calls != 2 || len(saved) != 2 {
		t.Errorf("sink calls = %d saved = %v, want exactly 2", calls, saved)
	}
	if res.Keypair.Address != saved[1] {
		t.Errorf("result address = %s, want last saved %s", res.Keypair.Address, saved[1])
	}
	if m.Running() {
		t.Error("miner still running after completion")
	}
	assertQuiescent(t, gen)
}

func TestMineDuplicateRestartsWorker(t *testing.T) {
	gen := &countingGenerator{every: 5}
	sink := &recordingSink{failFor: func(call int) error {
		if call == 1 {
			return types.ErrDuplicateKey
		}
		return nil
	}}
	m := NewMiner(Options{Workers: 1, Target: 1, BatchSize: 2}, gen, sink, logger.Discard())

	res, err := m.Mine(context.Background(), types.SearchSpec{Prefix: "match"})
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if res.Found != 1 {
		t.Errorf("Found = %d, want 1", res.Found)
	}
	if res.Keypair.Address != "Match-10" {
		t.Errorf("address = %s, want Match-10 from the restarted worker", res.Keypair.Address)
	}
	if st := m.Stats(); st.Duplicates != 1 || st.Found != 1 {
		t.Errorf("stats = %+v, want 1 duplicate and 1 found", st)
	}
	if res.Attempts != 10 {
		t.Errorf("Attempts = %d, want 10", res.Attempts)
	}
}

func TestStopIdempotent(t *testing.T) {
	gen := &countingGenerator{}
	m := NewMiner(Options{Workers: 3, BatchSize: 100}, gen, &recordingSink{}, logger.Discard())

	// Stop before Mine is a no-op.
	m.Stop()

	type outcome struct {
		res *types.Result
		err error
	}
	resultChan := make(chan outcome, 1)
	go func() {
		res, err := m.Mine(context.Background(), types.SearchSpec{Suffix: "never"})
		resultChan <- outcome{res, err}
	}()

	waitFor(t, func() bool { return m.Stats().Attempts > 0 })
	m.Stop()
	assertQuiescent(t, gen)
	m.Stop()

	got := <-resultChan
	if !errors.Is(got.err, types.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", got.err)
	}
	if got.res == nil || got.res.Attempts == 0 {
		t.Errorf("partial result missing: %+v", got.res)
	}
	if m.Running() {
		t.Error("miner still running after Stop")
	}
}

func TestMineContextCancel(t *testing.T) {
	gen := &countingGenerator{}
	m := NewMiner(Options{Workers: 2, BatchSize: 50}, gen, &recordingSink{}, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for m.Stats().Attempts == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := m.Mine(ctx, types.SearchSpec{Contains: "never"})
	if !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	assertQuiescent(t, gen)
}

func TestMineAlreadyRunning(t *testing.T) {
	m := NewMiner(Options{Workers: 1, BatchSize: 50}, &countingGenerator{}, &recordingSink{}, logger.Discard())
	go m.Mine(context.Background(), types.SearchSpec{Prefix: "never"})
	waitFor(t, func() bool { return m.Stats().Attempts > 0 })
	defer m.Stop()

	if _, err := m.Mine(context.Background(), types.SearchSpec{Prefix: "never"}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("err = %v, want ErrAlreadyRunning", err)
	}
}

func TestMineAttemptsExhausted(t *testing.T) {
	gen := &countingGenerator{}
	m := NewMiner(Options{Workers: 2, MaxAttempts: 1000, BatchSize: 100}, gen, &recordingSink{}, logger.Discard())

	res, err := m.Mine(context.Background(), types.SearchSpec{Prefix: "never"})
	if !errors.Is(err, types.ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}
	if res.Attempts < 1000 {
		t.Errorf("Attempts = %d, want at least 1000", res.Attempts)
	}
	if res.Found != 0 {
		t.Errorf("Found = %d, want 0", res.Found)
	}
}

func TestMineMatchOnLastBudgetedAttempt(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		target  uint64
		wantErr error
	}{
		{name: "target reached", workers: 1, target: 1},
		{name: "below target", workers: 1, target: 2, wantErr: types.ErrAttemptsExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &countingGenerator{every: 5}
			sink := &recordingSink{}
			m := NewMiner(Options{Workers: tt.workers, Target: tt.target, MaxAttempts: 5, BatchSize: 100}, gen, sink, logger.Discard())

			res, err := m.Mine(context.Background(), types.SearchSpec{Prefix: "match"})
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Mine: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			calls, saved := sink.snapshot()
			if calls != 1 || len(saved) != 1 || saved[0] != "Match-5" {
				t.Errorf("sink calls = %d saved = %v, want Match-5 persisted once", calls, saved)
			}
			if res.Found != 1 || res.Attempts != 5 {
				t.Errorf("result = found %d attempts %d, want 1 and 5", res.Found, res.Attempts)
			}
		})
	}
}

func TestHandleEventFoundCountsAttempts(t *testing.T) {
	m := NewMiner(Options{Workers: 2, Target: 3, MaxAttempts: 100}, nil, &recordingSink{}, logger.Discard())
	s := newSearchState(2, 3, 100)

	out, _ := m.handleEvent(context.Background(), s, types.WorkerEvent{Kind: types.EventProgress, Attempts: 100})
	if out != keepGoing {
		t.Fatalf("reaching the budget exactly = %v, want keepGoing", out)
	}
	out, _ = m.handleEvent(context.Background(), s, types.WorkerEvent{Kind: types.EventFound, WorkerID: 1, Attempts: 0, Keypair: &types.Keypair{Address: "A"}})
	if out != budgetExhausted || s.addressesFound != 1 {
		t.Errorf("found at spent budget = (%v, found %d), want budgetExhausted after persisting", out, s.addressesFound)
	}
	out, _ = m.handleEvent(context.Background(), s, types.WorkerEvent{Kind: types.EventProgress, Attempts: 1})
	if out != budgetExhausted {
		t.Errorf("exceeding the budget = %v, want budgetExhausted", out)
	}
}

func TestSalvagePersistsQueuedFound(t *testing.T) {
	sink := &recordingSink{}
	m := NewMiner(Options{Workers: 2, Target: 2}, nil, sink, logger.Discard())
	s := newSearchState(2, 2, 10)

	events := make(chan types.WorkerEvent, 3)
	events <- types.WorkerEvent{Kind: types.EventProgress, WorkerID: 0, Attempts: 3}
	events <- types.WorkerEvent{Kind: types.EventFound, WorkerID: 1, Attempts: 4, Keypair: &types.Keypair{Address: "Queued"}}
	m.salvage(context.Background(), s, events)

	if _, saved := sink.snapshot(); len(saved) != 1 || saved[0] != "Queued" {
		t.Errorf("saved = %v, want the queued match", saved)
	}
	if s.totalAttempts != 7 || s.addressesFound != 1 {
		t.Errorf("state = attempts %d found %d, want 7 and 1", s.totalAttempts, s.addressesFound)
	}
}

// blockingSink holds every Persist until its context is done
type blockingSink struct {
	entered chan struct{}
	once    sync.Once
}

func (s *blockingSink) Persist(ctx context.Context, _ types.Keypair) error {
	s.once.Do(func() { close(s.entered) })
	<-ctx.Done()
	return fmt.Errorf("%w: %w", types.ErrStorageUnavailable, ctx.Err())
}

func TestStopCancelsPendingPersist(t *testing.T) {
	sink := &blockingSink{entered: make(chan struct{})}
	m := NewMiner(Options{Workers: 1, BatchSize: 10}, &countingGenerator{every: 3}, sink, logger.Discard())

	errChan := make(chan error, 1)
	go func() {
		_, err := m.Mine(context.Background(), types.SearchSpec{Prefix: "match"})
		errChan <- err
	}()

	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never called")
	}

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a pending persist")
	}
	if err := <-errChan; !errors.Is(err, types.ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
	if st := m.Stats(); st.Failures != 0 {
		t.Errorf("Failures = %d, a cancelled persist is not a save error", st.Failures)
	}
}

func TestMineAllWorkersExhausted(t *testing.T) {
	gen := &countingGenerator{}
	m := NewMiner(Options{Workers: 2, BatchSize: 20}, gen, &recordingSink{}, logger.Discard())

	res, err := m.Mine(context.Background(), types.SearchSpec{Prefix: "never", MaxAttemptsPerWorker: 50})
	if !errors.Is(err, types.ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}
	if res.Attempts != 100 {
		t.Errorf("Attempts = %d, want 100", res.Attempts)
	}
}

func TestMineWorkerFailure(t *testing.T) {
	boom := errors.New("entropy source closed")
	gen := &countingGenerator{err: boom}
	m := NewMiner(Options{Workers: 2}, gen, &recordingSink{}, logger.Discard())

	_, err := m.Mine(context.Background(), types.SearchSpec{Prefix: "abc"})
	if !errors.Is(err, types.ErrWorkerFailure) {
		t.Fatalf("err = %v, want ErrWorkerFailure", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want it to wrap %v", err, boom)
	}
	assertQuiescent(t, gen)
}

func TestMineReporterAndTracer(t *testing.T) {
	gen := &countingGenerator{every: 50000}
	reporter := &recordingReporter{}
	tracer := &recordingTracer{}
	m := NewMiner(Options{
		Workers:        1,
		BatchSize:      1000,
		ReportInterval: time.Millisecond,
		Reporter:       reporter,
		Tracer:         tracer,
	}, gen, &recordingSink{}, logger.Discard())

	if _, err := m.Mine(context.Background(), types.SearchSpec{Prefix: "match"}); err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if reporter.finishes.Load() != 1 {
		t.Errorf("Finish called %d times, want 1", reporter.finishes.Load())
	}

	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	if len(tracer.actions) != 3 {
		t.Fatalf("recorded %d actions, want 3: %+v", len(tracer.actions), tracer.actions)
	}
	if _, ok := tracer.actions[0].(types.SearchStarted); !ok {
		t.Errorf("first action = %T, want SearchStarted", tracer.actions[0])
	}
	if found, ok := tracer.actions[1].(types.AddressFound); !ok || found.Address != "Match-50000" {
		t.Errorf("second action = %+v, want AddressFound for Match-50000", tracer.actions[1])
	}
	if stopped, ok := tracer.actions[2].(types.SearchStopped); !ok || stopped.Found != 1 {
		t.Errorf("third action = %+v, want SearchStopped with 1 found", tracer.actions[2])
	}
}
