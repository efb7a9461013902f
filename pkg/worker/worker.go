package worker

import (
	"runtime"

	"github.com/screa/vanity-miner/pkg/types"
)

// Generator produces candidate keypairs
type Generator interface {
	Generate() (types.Keypair, error)
}

// Worker owns one search goroutine.
//
// A worker is Idle until it receives a Start command, then searches until it
// finds a match, exhausts its per-worker budget, or fails, and goes back to
// Idle. It never restarts itself; only a fresh Start resumes generation. A
// Stop command, a closed command channel or a closed done channel ends Run.
type Worker struct {
	id        int
	gen       Generator
	batchSize uint64
	commands  <-chan types.WorkerCommand
	events    chan<- types.WorkerEvent
	done      <-chan struct{}

	spec     types.SearchSpec
	matcher  *Matcher
	attempts uint64 // this run
	batch    uint64 // not yet reported
}

// NewWorker creates a new worker instance
func NewWorker(id int, gen Generator, batchSize uint64, commands <-chan types.WorkerCommand, events chan<- types.WorkerEvent, done <-chan struct{}) *Worker {
	if batchSize == 0 {
		batchSize = types.DefaultBatchSize
	}
	return &Worker{
		id:        id,
		gen:       gen,
		batchSize: batchSize,
		commands:  commands,
		events:    events,
		done:      done,
	}
}

// ID returns the worker id carried on every event
func (w *Worker) ID() int {
	return w.id
}

// Run processes commands until the worker is stopped
func (w *Worker) Run() {
	for {
		var cmd types.WorkerCommand
		select {
		case <-w.done:
			return
		case c, ok := <-w.commands:
			if !ok {
				return
			}
			cmd = c
		}

		for cmd.Kind == types.CommandStart {
			next, exit := w.search(cmd.Spec)
			if exit {
				return
			}
			if next == nil {
				break
			}
			cmd = *next
		}
		if cmd.Kind == types.CommandStop {
			return
		}
	}
}

// search runs the generation loop for one Start. It returns a command that
// arrived mid-search and should be handled next, and whether Run must exit.
func (w *Worker) search(spec types.SearchSpec) (*types.WorkerCommand, bool) {
	w.spec = spec
	w.matcher = NewMatcher(spec)
	w.attempts = 0
	w.batch = 0

	for {
		select {
		case <-w.done:
			return nil, true
		case cmd, ok := <-w.commands:
			if !ok || cmd.Kind == types.CommandStop {
				return nil, true
			}
			if !w.flush(false) {
				return nil, true
			}
			return &cmd, false
		default:
		}

		if limit := w.spec.MaxAttemptsPerWorker; limit > 0 && w.attempts >= limit {
			return nil, !w.flush(true)
		}

		kp, err := w.gen.Generate()
		if err != nil {
			if !w.flush(false) {
				return nil, true
			}
			return nil, !w.emit(types.WorkerEvent{Kind: types.EventFailed, Err: err})
		}
		w.attempts++
		w.batch++

		if w.matcher.Match(kp.Address) {
			n := w.batch
			w.batch = 0
			found := kp
			return nil, !w.emit(types.WorkerEvent{
				Kind:        types.EventFound,
				Attempts:    n,
				RunAttempts: w.attempts,
				Keypair:     &found,
			})
		}

		if w.batch >= w.batchSize {
			if !w.flush(false) {
				return nil, true
			}
			runtime.Gosched()
		}
	}
}

// flush reports unreported attempts. An exhausted flush is always sent, even
// when empty, so the coordinator learns the worker went idle.
func (w *Worker) flush(exhausted bool) bool {
	if w.batch == 0 && !exhausted {
		return true
	}
	n := w.batch
	w.batch = 0
	return w.emit(types.WorkerEvent{
		Kind:      types.EventProgress,
		Attempts:  n,
		Exhausted: exhausted,
	})
}

// emit delivers ev unless the coordinator has shut down
func (w *Worker) emit(ev types.WorkerEvent) bool {
	ev.WorkerID = w.id
	select {
	case w.events <- ev:
		return true
	case <-w.done:
		return false
	}
}
