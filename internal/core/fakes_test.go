package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var errBatchFailed = errors.New("transaction aborted")

// fakeStore is an in-memory Store with failure injection.
type fakeStore struct {
	mu sync.Mutex

	phones    map[string]bool   // persisted phone -> present
	bulk      map[string]bool   // identity ID -> bulk-created flag
	phoneByID map[string]string // identity ID -> phone
	records   []ImportRecord

	maxBatch    int
	failBatches map[int]bool // 1-based WritePairs call numbers that fail
	phonesErr   error
	deleteErrAt int // 1-based DeletePairs call number that fails

	writeCalls    int
	deleteCalls   int
	snapshotCalls int

	// block, when set, is waited on by every WritePairs call.
	block chan struct{}
}

func newFakeStore(phones ...string) *fakeStore {
	s := &fakeStore{
		phones:      make(map[string]bool),
		bulk:        make(map[string]bool),
		phoneByID:   make(map[string]string),
		failBatches: make(map[int]bool),
	}
	for _, p := range phones {
		s.phones[p] = true
	}
	return s
}

// addIdentity seeds an identity that did not come from an import.
func (s *fakeStore) addIdentity(id, phone string, bulk bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phones[phone] = true
	s.phoneByID[id] = phone
	s.bulk[id] = bulk
}

func (s *fakeStore) ExistingPhones(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotCalls++
	if s.phonesErr != nil {
		return nil, s.phonesErr
	}
	out := make([]string, 0, len(s.phones))
	for p := range s.phones {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) MaxBatchSize() int { return s.maxBatch }

func (s *fakeStore) WritePairs(_ context.Context, pairs []ProvisionedPair) (WriteOutcome, error) {
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeCalls++
	if s.failBatches[s.writeCalls] {
		return WriteOutcome{}, errBatchFailed
	}

	var out WriteOutcome
	for _, p := range pairs {
		if s.phones[p.Identity.Phone] {
			out.Conflicts = append(out.Conflicts, p)
			continue
		}
		s.phones[p.Identity.Phone] = true
		s.phoneByID[p.GeneratedID] = p.Identity.Phone
		s.bulk[p.GeneratedID] = p.Identity.BulkCreated
		out.Written++
	}
	return out, nil
}

func (s *fakeStore) BulkCreatedIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, bulk := range s.bulk {
		if bulk {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fakeStore) DeletePairs(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteCalls++
	if s.deleteErrAt == s.deleteCalls {
		return 0, errBatchFailed
	}

	n := 0
	for _, id := range ids {
		if !s.bulk[id] {
			continue
		}
		delete(s.phones, s.phoneByID[id])
		delete(s.phoneByID, id)
		delete(s.bulk, id)
		n++
	}
	return n, nil
}

func (s *fakeStore) InsertImportRecord(_ context.Context, rec ImportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) ListImportRecords(_ context.Context, limit int) ([]ImportRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ImportRecord, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *fakeStore) GetImportRecord(_ context.Context, id string) (ImportRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return ImportRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
}

func (s *fakeStore) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *fakeStore) identityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.phoneByID)
}

// fakeInvoker returns a canned response or error.
type fakeInvoker struct {
	resp OffloadResponse
	err  error

	mu  sync.Mutex
	got []OffloadRequest
}

func (f *fakeInvoker) Invoke(_ context.Context, req OffloadRequest) (OffloadResponse, error) {
	f.mu.Lock()
	f.got = append(f.got, req)
	f.mu.Unlock()
	return f.resp, f.err
}

// progressRecorder collects progress callbacks.
type progressRecorder struct {
	mu    sync.Mutex
	calls [][2]int
}

func (r *progressRecorder) record(processed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]int{processed, total})
}

// validRows builds n valid rows with distinct phones.
func validRows(n int) []NormalizedRow {
	rows := make([]NormalizedRow, n)
	for i := range rows {
		rows[i] = NormalizedRow{
			LineNumber: i + 2,
			Name:       fmt.Sprintf("Person %d", i),
			Phone:      fmt.Sprintf("9%09d", i),
			Email:      fmt.Sprintf("person%d@example.com", i),
			City:       "Pune",
			Region:     "Maharashtra",
		}
	}
	return rows
}

// csvContent renders rows as an import file with the template header.
func csvContent(rows []NormalizedRow) []byte {
	out := TemplateHeader + "\n"
	for _, r := range rows {
		out += fmt.Sprintf("%s,%s,%s,%s,%s,%s\n", r.Name, r.Phone, r.Email, r.City, r.Region, r.Organization)
	}
	return []byte(out)
}
