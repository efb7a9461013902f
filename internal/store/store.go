// Package store persists found keypairs.
//
// Every store treats the address as a uniqueness key: persisting an address
// twice returns an error wrapping types.ErrDuplicateKey, and backend
// failures wrap types.ErrStorageUnavailable. Stores are safe for concurrent
// use.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/screa/vanity-miner/pkg/types"
)

// Sink is implemented by every store
type Sink interface {
	Persist(ctx context.Context, kp types.Keypair) error
}

// Meta describes the run that produced a record
type Meta struct {
	RunID   string
	Scheme  string
	Pattern string
}

// NewMeta returns run metadata with a fresh run id
func NewMeta(scheme, pattern string) Meta {
	return Meta{
		RunID:   uuid.New().String(),
		Scheme:  scheme,
		Pattern: pattern,
	}
}

// Record is the persisted form of a found keypair
type Record struct {
	Address   string    `bson:"address" json:"address"`
	Key       string    `bson:"key" json:"key"`
	Scheme    string    `bson:"scheme,omitempty" json:"scheme,omitempty"`
	RunID     string    `bson:"runId,omitempty" json:"runId,omitempty"`
	Pattern   string    `bson:"pattern,omitempty" json:"pattern,omitempty"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

func newRecord(kp types.Keypair, meta Meta, now time.Time) Record {
	return Record{
		Address:   kp.Address,
		Key:       kp.Secret,
		Scheme:    meta.Scheme,
		RunID:     meta.RunID,
		Pattern:   meta.Pattern,
		CreatedAt: now.UTC(),
	}
}

var (
	_ Sink = (*Memory)(nil)
	_ Sink = (*File)(nil)
	_ Sink = (*Mongo)(nil)
	_ Sink = (*Notifier)(nil)
)
