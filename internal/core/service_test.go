package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func testServiceConfig() ServiceConfig {
	return ServiceConfig{
		BatchSize:        400,
		RetractBatchSize: 400,
		OffloadThreshold: 500,
		MaxConcurrent:    3,
		MaxWaitTime:      time.Second,
		Timeout:          time.Minute,
		RetractTimeout:   time.Minute,
		HistoryLimit:     50,
	}
}

func waitOutcome(t *testing.T, svc *Service, id string) *ImportOutcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outcome, err := svc.GetOutcome(ctx, id)
	if err != nil {
		t.Fatalf("GetOutcome() error = %v", err)
	}
	return outcome
}

type recordingArchiver struct {
	mu   sync.Mutex
	keys []string
}

func (a *recordingArchiver) Store(_ context.Context, key string, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return "s3://archive/imports/" + key, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

// ============================================================================
// StartImport
// ============================================================================

func TestService_BatchImport(t *testing.T) {
	store := newFakeStore()
	archiver := &recordingArchiver{}
	events := &recordingPublisher{}
	svc := NewService(store, testServiceConfig(), WithArchiver(archiver), WithEvents(events))

	rows := validRows(5)
	rows[4].Email = "not-an-email"

	id, err := svc.StartImport(context.Background(), ImportRequest{
		Role:       RoleStartup,
		Content:    csvContent(rows),
		OperatorID: "op-1",
	})
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}

	outcome := waitOutcome(t, svc, id)
	if outcome.Error != "" {
		t.Fatalf("outcome error = %s", outcome.Error)
	}
	if outcome.Strategy != StrategyBatch {
		t.Errorf("Strategy = %s, want batch", outcome.Strategy)
	}
	if outcome.Result.SuccessCount != 4 || outcome.Result.TotalCount != 4 {
		t.Errorf("result = %+v, want 4 of 4 written", outcome.Result)
	}

	rec := outcome.Record
	if rec == nil {
		t.Fatal("outcome has no record")
	}
	if rec.Status != StatusCompletedWithErrors || rec.FailureCount != 1 || rec.TotalRows != 5 {
		t.Errorf("record = %+v", rec)
	}
	if rec.CreatedByOperatorID != "op-1" {
		t.Errorf("CreatedByOperatorID = %q", rec.CreatedByOperatorID)
	}
	if rec.FilePath != "s3://archive/imports/startup/"+id+".csv" {
		t.Errorf("FilePath = %q", rec.FilePath)
	}
	if store.recordCount() != 1 {
		t.Errorf("records written = %d, want 1", store.recordCount())
	}
	if len(events.events) != 1 || events.events[0] != EventImportCompleted {
		t.Errorf("events = %v", events.events)
	}
}

func TestService_ProgressSubscription(t *testing.T) {
	store := newFakeStore()
	store.block = make(chan struct{})
	svc := NewService(store, testServiceConfig())

	id, err := svc.StartImport(context.Background(), ImportRequest{Role: RoleMentor, Content: csvContent(validRows(900)), Strategy: StrategyBatch})
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}

	ch, err := svc.SubscribeProgress(id)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}
	close(store.block)

	var last ImportProgress
	processed := -1
	for p := range ch {
		if p.Phase == PhaseProvisioning && p.Processed < processed {
			t.Errorf("processed went backwards: %d after %d", p.Processed, processed)
		}
		if p.Phase == PhaseProvisioning {
			processed = p.Processed
		}
		last = p
	}

	if last.Phase != PhaseComplete {
		t.Errorf("final phase = %s, want %s", last.Phase, PhaseComplete)
	}
	if last.Processed != 900 || last.Total != 900 {
		t.Errorf("final progress = %d/%d, want 900/900", last.Processed, last.Total)
	}

	// Subscribing after completion yields the final state and a closed channel.
	late, err := svc.SubscribeProgress(id)
	if err != nil {
		t.Fatalf("late SubscribeProgress() error = %v", err)
	}
	p, ok := <-late
	if !ok || p.Phase != PhaseComplete {
		t.Errorf("late subscription got %+v, %v", p, ok)
	}
	if _, ok := <-late; ok {
		t.Error("late subscription channel should be closed")
	}
}

func TestService_FinalProgressReachesSlowListener(t *testing.T) {
	svc := NewService(newFakeStore(), testServiceConfig())

	imp := &activeImport{
		ID:       "slow",
		Role:     RoleStartup,
		Cancel:   func() {},
		Progress: ImportProgress{ImportID: "slow", Phase: PhaseProvisioning, Total: 20},
		Done:     make(chan struct{}),
	}
	ch := make(chan ImportProgress, 10)
	imp.Listeners = []chan ImportProgress{ch}

	// Nobody reads ch, so every slot fills and later updates are skipped.
	for i := 1; i <= 20; i++ {
		imp.update(func(p *ImportProgress) { p.Processed = i })
	}

	svc.finish(imp, &ImportOutcome{ImportID: "slow", Error: "write import record: boom"}, PhaseFailed)

	var got []ImportProgress
	for p := range ch {
		got = append(got, p)
	}
	if len(got) != cap(ch) {
		t.Fatalf("received %d updates, want %d", len(got), cap(ch))
	}
	last := got[len(got)-1]
	if last.Phase != PhaseFailed || last.Error != "write import record: boom" {
		t.Errorf("last update = %+v, want the failed snapshot", last)
	}
	if got[0].Processed != 2 {
		t.Errorf("oldest update Processed = %d, want 2 after eviction", got[0].Processed)
	}
}

func TestService_OneRunPerRole(t *testing.T) {
	store := newFakeStore()
	store.block = make(chan struct{})
	svc := NewService(store, testServiceConfig())

	first, err := svc.StartImport(context.Background(), ImportRequest{Role: RoleInvestor, Content: csvContent(validRows(3))})
	if err != nil {
		t.Fatalf("first StartImport() error = %v", err)
	}

	_, err = svc.StartImport(context.Background(), ImportRequest{Role: RoleInvestor, Content: csvContent(validRows(3))})
	if !errors.Is(err, ErrImportInProgress) {
		t.Errorf("second StartImport() error = %v, want ErrImportInProgress", err)
	}

	rows := validRows(6)[3:]
	other, err := svc.StartImport(context.Background(), ImportRequest{Role: RoleMentor, Content: csvContent(rows)})
	if err != nil {
		t.Errorf("other role StartImport() error = %v", err)
	}

	close(store.block)
	waitOutcome(t, svc, first)
	if other != "" {
		waitOutcome(t, svc, other)
	}

	// Lock is released once the run finishes.
	id, err := svc.StartImport(context.Background(), ImportRequest{Role: RoleInvestor, Content: csvContent(validRows(1))})
	if err != nil {
		t.Fatalf("StartImport() after completion error = %v", err)
	}
	waitOutcome(t, svc, id)
}

func TestService_StartImportErrors(t *testing.T) {
	svc := NewService(newFakeStore(), testServiceConfig())

	tests := []struct {
		name string
		req  ImportRequest
		want error
	}{
		{"empty file", ImportRequest{Role: RoleStartup, Content: []byte(TemplateHeader + "\n")}, ErrEmptyFile},
		{"unknown role", ImportRequest{Role: "founder", Content: csvContent(validRows(1))}, ErrUnknownRole},
		{"offload not configured", ImportRequest{Role: RoleStartup, Content: csvContent(validRows(1)), Strategy: StrategyOffload}, ErrOffloadUnavailable},
		{"unknown strategy", ImportRequest{Role: RoleStartup, Content: csvContent(validRows(1)), Strategy: "turbo"}, ErrUnknownStrategy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.StartImport(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("StartImport() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestService_AutoOffload(t *testing.T) {
	store := newFakeStore()
	inv := &fakeInvoker{resp: OffloadResponse{Success: 598, Failed: 2, Errors: []string{"line 9: Missing City", "line 40: Missing Email"}}}
	cfg := testServiceConfig()
	svc := NewService(store, cfg, WithOffload(inv))

	id, err := svc.StartImport(context.Background(), ImportRequest{Role: RoleStartup, Content: csvContent(validRows(600))})
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}

	outcome := waitOutcome(t, svc, id)
	if outcome.Strategy != StrategyOffload {
		t.Fatalf("Strategy = %s, want offload", outcome.Strategy)
	}
	if outcome.Summary != nil {
		t.Error("offloaded runs are not validated locally")
	}
	if len(inv.got) != 1 || inv.got[0].ImportID != id {
		t.Errorf("invoker requests = %+v", inv.got)
	}

	rec := outcome.Record
	if rec.TotalRows != 600 || rec.SuccessCount != 598 || rec.FailureCount != 2 {
		t.Errorf("record = %+v", rec)
	}
	if store.snapshotCalls != 0 {
		t.Errorf("ExistingPhones called %d times for an offloaded run", store.snapshotCalls)
	}

	progress, err := svc.GetProgress(id)
	if err != nil {
		t.Fatalf("GetProgress() error = %v", err)
	}
	if !progress.Indeterminate || progress.Percent() != -1 {
		t.Errorf("offload progress = %+v, want indeterminate", progress)
	}
}

func TestService_OffloadTransportError(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("remote import function: connection refused")}
	svc := NewService(newFakeStore(), testServiceConfig(), WithOffload(inv))

	id, err := svc.StartImport(context.Background(), ImportRequest{Role: RoleStartup, Content: csvContent(validRows(3)), Strategy: StrategyOffload})
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}

	outcome := waitOutcome(t, svc, id)
	if !outcome.Result.Aborted || outcome.Result.FailureCount != 1 || outcome.Result.SuccessCount != 0 {
		t.Errorf("result = %+v", outcome.Result)
	}
	if outcome.Record.TotalRows != 3 || outcome.Record.Status != StatusCompletedWithErrors {
		t.Errorf("record = %+v", outcome.Record)
	}
}

func TestService_ValidationStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.phonesErr = errors.New("connection reset by peer")
	svc := NewService(store, testServiceConfig())

	id, err := svc.StartImport(context.Background(), ImportRequest{Role: RoleStartup, Content: csvContent(validRows(2))})
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}

	outcome := waitOutcome(t, svc, id)
	if want := "Database connection was interrupted (Code: DB003). Please try again"; outcome.Error != want {
		t.Errorf("outcome error = %q, want %q", outcome.Error, want)
	}
	if outcome.Record == nil || outcome.Record.Status != StatusFailed {
		t.Errorf("record = %+v, want failed", outcome.Record)
	}
	if store.writeCalls != 0 {
		t.Errorf("WritePairs called %d times after failed validation", store.writeCalls)
	}
}

func TestService_NotFound(t *testing.T) {
	svc := NewService(newFakeStore(), testServiceConfig())

	if _, err := svc.SubscribeProgress("missing"); !errors.Is(err, ErrImportNotFound) {
		t.Errorf("SubscribeProgress() error = %v", err)
	}
	if err := svc.CancelImport("missing"); !errors.Is(err, ErrImportNotFound) {
		t.Errorf("CancelImport() error = %v", err)
	}
	if _, err := svc.GetOutcome(context.Background(), "missing"); !errors.Is(err, ErrImportNotFound) {
		t.Errorf("GetOutcome() error = %v", err)
	}
}

// ============================================================================
// Validate, history, retraction, remote
// ============================================================================

func TestService_ValidateIsStateless(t *testing.T) {
	svc := NewService(newFakeStore(), testServiceConfig())
	content := csvContent(validRows(4))

	for i := 0; i < 2; i++ {
		summary, err := svc.Validate(context.Background(), content)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if summary.ValidRows != 4 {
			t.Errorf("run %d: ValidRows = %d, want 4", i, summary.ValidRows)
		}
	}
}

func TestService_ListImports(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, testServiceConfig())

	for i := 0; i < 3; i++ {
		rows := validRows(10)[i*3 : i*3+3]
		id, err := svc.StartImport(context.Background(), ImportRequest{Role: RoleStartup, Content: csvContent(rows)})
		if err != nil {
			t.Fatalf("StartImport() error = %v", err)
		}
		waitOutcome(t, svc, id)
	}

	records, err := svc.ListImports(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListImports() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	got, err := svc.GetImportRecord(context.Background(), records[0].ID)
	if err != nil || got.ID != records[0].ID {
		t.Errorf("GetImportRecord() = %+v, %v", got, err)
	}
	if _, err := svc.GetImportRecord(context.Background(), "nope"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("GetImportRecord(nope) error = %v", err)
	}
}

func TestService_Retract(t *testing.T) {
	store := newFakeStore()
	store.addIdentity("self-1", "7000000001", false)
	events := &recordingPublisher{}
	svc := NewService(store, testServiceConfig(), WithEvents(events))

	id, err := svc.StartImport(context.Background(), ImportRequest{Role: RoleStartup, Content: csvContent(validRows(5))})
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}
	waitOutcome(t, svc, id)

	rec := &progressRecorder{}
	result, err := svc.Retract(context.Background(), rec.record)
	if err != nil {
		t.Fatalf("Retract() error = %v", err)
	}
	if result.Deleted != 5 {
		t.Errorf("Deleted = %d, want 5", result.Deleted)
	}
	if store.identityCount() != 1 {
		t.Errorf("%d identities remain, want 1", store.identityCount())
	}
	if len(rec.calls) == 0 || rec.calls[len(rec.calls)-1] != [2]int{5, 5} {
		t.Errorf("progress = %v", rec.calls)
	}
	if events.events[len(events.events)-1] != EventImportRetracted {
		t.Errorf("events = %v", events.events)
	}
}

func TestService_ProcessRemote(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, testServiceConfig())

	rows := validRows(4)
	rows[1].Name = ""
	content := string(csvContent(rows))

	resp, err := svc.ProcessRemote(context.Background(), OffloadRequest{CSVContent: content, Role: RoleMentor})
	if err != nil {
		t.Fatalf("ProcessRemote() error = %v", err)
	}

	if resp.Success != 3 || resp.Failed != 1 {
		t.Errorf("response = %+v, want 3 success and 1 failed", resp)
	}
	if len(resp.Errors) != 1 || resp.Errors[0] != "line 3: "+MsgMissingName {
		t.Errorf("Errors = %q", resp.Errors)
	}

	records, _ := store.ListImportRecords(context.Background(), 10)
	if len(records) != 1 || records[0].Strategy != StrategyRemote || records[0].Role != RoleMentor {
		t.Errorf("records = %+v", records)
	}
}

func TestService_ProcessRemoteUnknownRole(t *testing.T) {
	svc := NewService(newFakeStore(), testServiceConfig())

	_, err := svc.ProcessRemote(context.Background(), OffloadRequest{CSVContent: "x", Role: "founder"})
	if !errors.Is(err, ErrUnknownRole) {
		t.Errorf("ProcessRemote() error = %v, want ErrUnknownRole", err)
	}
}

func TestService_ProcessRemoteReadsLikeUpload(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, testServiceConfig())

	content := "\ufeffName,Email,Phone,City,Region\nJohn Doe,john@x.com,9876543210,Pune,MH"
	resp, err := svc.ProcessRemote(context.Background(), OffloadRequest{CSVContent: content})
	if err != nil {
		t.Fatalf("ProcessRemote() error = %v", err)
	}
	if resp.Success != 1 || resp.Failed != 0 {
		t.Errorf("response = %+v, want 1 success", resp)
	}
	if !store.phones["9876543210"] {
		t.Error("row behind a byte order mark was not provisioned")
	}
}

func TestService_ProcessRemoteRejectsContent(t *testing.T) {
	cfg := testServiceConfig()
	cfg.MaxFileSize = 64

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "nul bytes",
			content: "name,phone\nAsha\x00,9876543210\n",
			wantErr: ErrMalformedFile,
		},
		{
			name:    "over size cap",
			content: "name,phone\n" + strings.Repeat("Asha Rao,9876543210\n", 10),
			wantErr: ErrFileTooLarge,
		},
		{
			name:    "header only",
			content: "name,email,phone\n",
			wantErr: ErrEmptyFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			svc := NewService(store, cfg)

			_, err := svc.ProcessRemote(context.Background(), OffloadRequest{CSVContent: tt.content})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ProcessRemote() error = %v, want %v", err, tt.wantErr)
			}
			if store.writeCalls != 0 || len(store.records) != 0 {
				t.Errorf("store touched: %d writes, %d records", store.writeCalls, len(store.records))
			}
		})
	}
}

func TestService_ProcessRemoteTakesImportSlot(t *testing.T) {
	cfg := testServiceConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxWaitTime = 20 * time.Millisecond
	svc := NewService(newFakeStore(), cfg)

	if err := svc.limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	_, err := svc.ProcessRemote(context.Background(), OffloadRequest{CSVContent: string(csvContent(validRows(1)))})
	if !errors.Is(err, ErrTooManyImports) {
		t.Errorf("ProcessRemote() error = %v, want ErrTooManyImports", err)
	}

	svc.limiter.Release()
	resp, err := svc.ProcessRemote(context.Background(), OffloadRequest{CSVContent: string(csvContent(validRows(1)))})
	if err != nil || resp.Success != 1 {
		t.Fatalf("ProcessRemote() = %+v, %v", resp, err)
	}
	if n := svc.limiter.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount = %d after ProcessRemote, want 0", n)
	}
}
