package types

import (
	"errors"
	"strings"
	"time"
)

// DefaultBatchSize is the number of attempts a worker makes between progress reports
const DefaultBatchSize = 10000

// Errors
var (
	ErrInvalidSpecification = errors.New("at least one of prefix, suffix or contains must be set")
	ErrWorkerFailure        = errors.New("worker failure")
	ErrAttemptsExhausted    = errors.New("attempt budget exhausted")
	ErrCancelled            = errors.New("search cancelled")

	ErrDuplicateKey       = errors.New("duplicate address")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// SearchSpec describes the pattern a public address must match
type SearchSpec struct {
	Prefix        string
	Suffix        string
	Contains      string
	CaseSensitive bool

	// Zero means unlimited.
	MaxAttemptsPerWorker uint64
}

// Validate checks that at least one pattern constraint is set
func (s SearchSpec) Validate() error {
	if s.Prefix == "" && s.Suffix == "" && s.Contains == "" {
		return ErrInvalidSpecification
	}
	return nil
}

// String returns a human-readable description of the pattern
func (s SearchSpec) String() string {
	var parts []string
	if s.Prefix != "" {
		parts = append(parts, "prefix: "+s.Prefix)
	}
	if s.Suffix != "" {
		parts = append(parts, "suffix: "+s.Suffix)
	}
	if s.Contains != "" {
		parts = append(parts, "contains: "+s.Contains)
	}
	if len(parts) == 0 {
		return "unknown"
	}
	desc := strings.Join(parts, ", ")
	if s.CaseSensitive {
		desc += " (case-sensitive)"
	}
	return desc
}

// Keypair is a generated public address and its private key material
type Keypair struct {
	Address string
	Private []byte
	Secret  string // export encoding of Private, scheme specific
}

// CommandKind tags a WorkerCommand
type CommandKind int

const (
	CommandStart CommandKind = iota
	CommandStop
)

// WorkerCommand is sent from the coordinator to a single worker
type WorkerCommand struct {
	Kind CommandKind
	Spec SearchSpec
}

// StartCommand returns a command that (re)starts a worker on spec
func StartCommand(spec SearchSpec) WorkerCommand {
	return WorkerCommand{Kind: CommandStart, Spec: spec}
}

// StopCommand returns a command that terminates a worker
func StopCommand() WorkerCommand {
	return WorkerCommand{Kind: CommandStop}
}

// EventKind tags a WorkerEvent
type EventKind int

const (
	EventProgress EventKind = iota
	EventFound
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventFound:
		return "found"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// WorkerEvent is sent from a worker to the coordinator.
//
// Attempts is always the number of attempts since the previous event, so a
// match and the attempts leading up to it arrive together. Exhausted marks
// the final progress report of a run that hit its per-worker budget. For
// EventFound, RunAttempts is the total for the run.
type WorkerEvent struct {
	Kind        EventKind
	WorkerID    int
	Attempts    uint64
	RunAttempts uint64
	Exhausted   bool
	Keypair     *Keypair
	Err         error
}

// Result is the outcome of a search
type Result struct {
	Keypair  *Keypair // last persisted match, nil if none
	Attempts uint64
	Found    uint64
	Duration time.Duration
}

// Rate returns attempts per second over the result duration
func (r *Result) Rate() float64 {
	if r.Duration.Seconds() <= 0 {
		return 0
	}
	return float64(r.Attempts) / r.Duration.Seconds()
}

// Stats is a point-in-time snapshot of a running search
type Stats struct {
	Attempts   uint64
	Found      uint64
	Target     uint64
	Duplicates uint64
	Failures   uint64
	Elapsed    time.Duration
	Running    bool
}

// Rate returns attempts per second since the search started
func (s Stats) Rate() float64 {
	if s.Elapsed.Seconds() <= 0 {
		return 0
	}
	return float64(s.Attempts) / s.Elapsed.Seconds()
}

// Trace actions recorded by the coordinator

type SearchStarted struct {
	Pattern string
	Workers int
	Target  uint64
}

type AddressFound struct {
	Address  string
	WorkerID int
	Attempts uint64
	Found    uint64
}

type SearchStopped struct {
	Reason   string
	Attempts uint64
	Found    uint64
}
