package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/willf/bloom"

	"github.com/screa/vanity-miner/pkg/types"
)

const (
	// Bloom filter sizing: the original run target, with room to grow.
	defaultCapacity = 1_000_000
	falsePositive   = 0.0001
)

// File appends records as JSON lines. Known addresses are loaded on open
// into a Bloom filter for a fast negative check and an exact set to confirm.
type File struct {
	mu     sync.Mutex
	path   string
	meta   Meta
	file   *os.File
	filter *bloom.BloomFilter
	seen   map[string]struct{}
}

// OpenFile opens or creates the JSON lines file at path
func OpenFile(path string, meta Meta) (*File, error) {
	known, err := readAddresses(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", types.ErrStorageUnavailable, path, err)
	}

	capacity := defaultCapacity
	if 2*len(known) > capacity {
		capacity = 2 * len(known)
	}
	filter := bloom.NewWithEstimates(uint(capacity), falsePositive)
	seen := make(map[string]struct{}, len(known))
	for _, addr := range known {
		filter.Add([]byte(addr))
		seen[addr] = struct{}{}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", types.ErrStorageUnavailable, path, err)
	}
	return &File{
		path:   path,
		meta:   meta,
		file:   f,
		filter: filter,
		seen:   seen,
	}, nil
}

func readAddresses(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var addrs []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("malformed record: %w", err)
		}
		addrs = append(addrs, rec.Address)
	}
	return addrs, scanner.Err()
}

func (s *File) Persist(_ context.Context, kp types.Keypair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filter.Test([]byte(kp.Address)) {
		if _, ok := s.seen[kp.Address]; ok {
			return fmt.Errorf("%w: %s", types.ErrDuplicateKey, kp.Address)
		}
	}

	line, err := json.Marshal(newRecord(kp, s.meta, time.Now()))
	if err != nil {
		return fmt.Errorf("%w: encode record: %w", types.ErrStorageUnavailable, err)
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: write %s: %w", types.ErrStorageUnavailable, s.path, err)
	}

	s.filter.Add([]byte(kp.Address))
	s.seen[kp.Address] = struct{}{}
	return nil
}

// Len returns the number of known addresses
func (s *File) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Close closes the underlying file
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
