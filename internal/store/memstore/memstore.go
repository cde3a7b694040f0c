// Package memstore is an in-memory core.Store. It backs local runs without
// a database and the HTTP tests, and can inject batch failures.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/onboard/internal/core"
)

// ErrInjected is returned by writes that were configured to fail.
var ErrInjected = errors.New("memstore: injected write failure")

// DefaultMaxBatchSize mirrors the document store's per-transaction limit.
const DefaultMaxBatchSize = 500

// Store holds identities, profiles and audit records in maps guarded by a
// single mutex. Every WritePairs and DeletePairs call is atomic.
type Store struct {
	mu sync.RWMutex

	identities map[string]core.IdentityRecord
	profiles   map[string]core.ProfileRecord
	phones     map[string]string // phone -> identity ID
	records    []core.ImportRecord

	maxBatch   int
	writeCalls int
	failWrites map[int]bool
}

// Option configures a Store.
type Option func(*Store)

// WithMaxBatchSize sets the value reported by MaxBatchSize.
func WithMaxBatchSize(n int) Option {
	return func(s *Store) { s.maxBatch = n }
}

// FailWrite makes the n-th WritePairs call (1-based) fail without writing.
func FailWrite(n int) Option {
	return func(s *Store) { s.failWrites[n] = true }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		identities: make(map[string]core.IdentityRecord),
		profiles:   make(map[string]core.ProfileRecord),
		phones:     make(map[string]string),
		maxBatch:   DefaultMaxBatchSize,
		failWrites: make(map[int]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed adds an identity directly, as if it had registered on its own.
func (s *Store) Seed(ident core.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.phones[ident.Phone]; ok {
		return fmt.Errorf("seed %s: phone %s already exists", ident.ID, ident.Phone)
	}
	s.identities[ident.ID] = ident
	s.phones[ident.Phone] = ident.ID
	return nil
}

// Counts returns the number of identities and profiles held.
func (s *Store) Counts() (identities, profiles int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.identities), len(s.profiles)
}

// ExistingPhones implements core.PhoneSource.
func (s *Store) ExistingPhones(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.phones))
	for p := range s.phones {
		out = append(out, p)
	}
	return out, nil
}

// MaxBatchSize implements core.PairWriter.
func (s *Store) MaxBatchSize() int { return s.maxBatch }

// WritePairs implements core.PairWriter. Pairs whose phone is already held,
// including by an earlier pair in the same batch, are returned as conflicts.
func (s *Store) WritePairs(ctx context.Context, pairs []core.ProvisionedPair) (core.WriteOutcome, error) {
	if err := ctx.Err(); err != nil {
		return core.WriteOutcome{}, err
	}
	if s.maxBatch > 0 && len(pairs) > s.maxBatch {
		return core.WriteOutcome{}, fmt.Errorf("memstore: batch of %d exceeds limit %d", len(pairs), s.maxBatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeCalls++
	if s.failWrites[s.writeCalls] {
		return core.WriteOutcome{}, fmt.Errorf("write batch %d: %w", s.writeCalls, ErrInjected)
	}

	var out core.WriteOutcome
	for _, p := range pairs {
		if _, taken := s.phones[p.Identity.Phone]; taken {
			out.Conflicts = append(out.Conflicts, p)
			continue
		}
		s.identities[p.GeneratedID] = p.Identity
		s.profiles[p.GeneratedID] = p.Profile
		s.phones[p.Identity.Phone] = p.GeneratedID
		out.Written++
	}
	return out, nil
}

// BulkCreatedIDs implements core.BulkDeleter. IDs are sorted.
func (s *Store) BulkCreatedIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, ident := range s.identities {
		if ident.BulkCreated {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeletePairs implements core.BulkDeleter.
func (s *Store) DeletePairs(ctx context.Context, ids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range ids {
		ident, ok := s.identities[id]
		if !ok || !ident.BulkCreated {
			continue
		}
		delete(s.identities, id)
		delete(s.profiles, id)
		delete(s.phones, ident.Phone)
		n++
	}
	return n, nil
}

// InsertImportRecord implements core.ImportRecordStore.
func (s *Store) InsertImportRecord(ctx context.Context, rec core.ImportRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == rec.ID {
			return fmt.Errorf("import record %s already exists", rec.ID)
		}
	}
	rec.Errors = append([]core.ImportError(nil), rec.Errors...)
	s.records = append(s.records, rec)
	return nil
}

// ListImportRecords implements core.ImportRecordStore, newest first. Row
// errors are only returned by GetImportRecord.
func (s *Store) ListImportRecords(ctx context.Context, limit int) ([]core.ImportRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.ImportRecord, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Errors = nil
	}
	return out, nil
}

// GetImportRecord implements core.ImportRecordStore.
func (s *Store) GetImportRecord(ctx context.Context, id string) (core.ImportRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.ImportRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return core.ImportRecord{}, fmt.Errorf("%w: %s", core.ErrRecordNotFound, id)
}

var _ core.Store = (*Store)(nil)
