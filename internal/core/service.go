package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/onboard/internal/logging"
	"github.com/JonMunkholm/onboard/internal/runlock"
)

// Event types published after runs finish.
const (
	EventImportCompleted = "import.completed"
	EventImportRetracted = "import.retracted"
)

// resultRetention is how long a finished run stays queryable by ID.
const resultRetention = 5 * time.Minute

// retractionLockName is the run lock key held during a bulk retraction.
const retractionLockName = "retraction"

// Archiver stores a copy of an import file and returns its location.
type Archiver interface {
	Store(ctx context.Context, key string, content []byte) (string, error)
}

// EventPublisher announces finished runs to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// ServiceConfig holds the tunables of the import service.
type ServiceConfig struct {
	BatchSize        int
	RetractBatchSize int
	OffloadThreshold int
	MaxConcurrent    int
	MaxWaitTime      time.Duration
	Timeout          time.Duration
	RetractTimeout   time.Duration
	HistoryLimit     int
	MaxFileSize      int64 // cap on remote import content
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithOffload enables the offload strategy through invoker.
func WithOffload(invoker Invoker) Option {
	return func(s *Service) {
		if invoker != nil {
			s.offload = NewCloudOffloadProvisioner(invoker)
		}
	}
}

// WithRunLock replaces the in-process per-role lock, e.g. with a Redis lock
// shared by several servers.
func WithRunLock(lock runlock.Lock) Option {
	return func(s *Service) {
		if lock != nil {
			s.lock = lock
		}
	}
}

// WithArchiver stores every imported file through a.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// WithEvents publishes run events through p.
func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// Service runs validations, imports and retractions against a Store.
type Service struct {
	store     Store
	batch     *BatchProvisioner
	offload   Provisioner
	retractor *Retractor
	policy    OffloadPolicy
	limiter   *ImportLimiter
	lock      runlock.Lock
	archiver  Archiver
	events    EventPublisher
	cfg       ServiceConfig
	now       func() time.Time

	mu      sync.RWMutex
	imports map[string]*activeImport
}

type activeImport struct {
	ID       string
	Role     Role
	Strategy Strategy
	Cancel   context.CancelFunc
	Outcome  *ImportOutcome
	Done     chan struct{}

	ListenerMu sync.Mutex
	Progress   ImportProgress
	Listeners  []chan ImportProgress
	finished   bool
}

// NewService creates a Service.
func NewService(store Store, cfg ServiceConfig, opts ...Option) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.RetractTimeout <= 0 {
		cfg.RetractTimeout = 5 * time.Minute
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 << 20
	}

	s := &Service{
		store:     store,
		batch:     NewBatchProvisioner(store, cfg.BatchSize),
		retractor: NewRetractor(store, cfg.RetractBatchSize),
		policy:    OffloadPolicy{Threshold: cfg.OffloadThreshold},
		limiter:   NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		lock:      runlock.NewLocal(),
		cfg:       cfg,
		now:       time.Now,
		imports:   make(map[string]*activeImport),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OffloadAvailable reports whether the offload strategy can be used.
func (s *Service) OffloadAvailable() bool {
	return s.offload != nil
}

// LimiterStatus returns the current import slot usage.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// Validate parses and validates content against the current store state.
// Every call takes a fresh phone snapshot.
func (s *Service) Validate(ctx context.Context, content []byte) (*ValidationSummary, error) {
	summary, err := ValidateContent(ctx, content, s.store)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("import validated",
		"total", summary.TotalRows,
		"valid", summary.ValidRows,
		"invalid", summary.InvalidRows,
	)
	return summary, nil
}

// ImportRequest describes one import run.
type ImportRequest struct {
	Role       Role
	Content    []byte
	OperatorID string
	Strategy   Strategy // StrategyAuto when empty
}

// resolveStrategy picks the provisioner for a file with rows data rows.
func (s *Service) resolveStrategy(requested Strategy, rows int) (Strategy, error) {
	switch requested {
	case "", StrategyAuto:
		return s.policy.Choose(rows, s.OffloadAvailable()), nil
	case StrategyBatch:
		return StrategyBatch, nil
	case StrategyOffload:
		if !s.OffloadAvailable() {
			return "", ErrOffloadUnavailable
		}
		return StrategyOffload, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, requested)
}

// StartImport begins an asynchronous import run and returns its ID. Use
// SubscribeProgress to follow it and GetOutcome to collect the result.
//
// Returns ErrImportInProgress when a run for the same role is active and
// ErrTooManyImports when no slot frees up within the wait time.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	if _, err := ParseRole(string(req.Role)); err != nil {
		return "", err
	}

	parsed := ParseBytes(req.Content)
	if len(parsed.Rows) == 0 {
		return "", ErrEmptyFile
	}

	strategy, err := s.resolveStrategy(req.Strategy, len(parsed.Rows))
	if err != nil {
		return "", err
	}

	unlock, err := s.lockRole(ctx, string(req.Role))
	if err != nil {
		return "", err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		s.unlockRole(ctx, unlock, string(req.Role))
		return "", err
	}

	importID := uuid.NewString()

	// The run outlives the request; keep its logger so request_id follows.
	runCtx := logging.WithLogger(context.Background(), logging.FromContext(ctx))
	runCtx = ContextWithOperatorID(runCtx, req.OperatorID)
	runCtx, cancel := context.WithTimeout(runCtx, s.cfg.Timeout)

	imp := &activeImport{
		ID:       importID,
		Role:     req.Role,
		Strategy: strategy,
		Cancel:   cancel,
		Progress: ImportProgress{
			ImportID: importID,
			Role:     req.Role,
			Strategy: strategy,
			Phase:    PhaseStarting,
			Total:    len(parsed.Rows),
		},
		Done:      make(chan struct{}),
		Listeners: make([]chan ImportProgress, 0),
	}

	s.mu.Lock()
	s.imports[importID] = imp
	s.mu.Unlock()

	started := s.now()
	in := RecordInput{
		ImportID:   importID,
		Role:       req.Role,
		Strategy:   strategy,
		OperatorID: req.OperatorID,
		ParsedRows: len(parsed.Rows),
		StartedAt:  started,
	}

	// Slot and lock are released before the outcome is published so a
	// caller that saw Done can start the next run for the role.
	go func() {
		outcome, phase := s.runRecovered(runCtx, imp, req, parsed, in)
		cancel()
		s.unlockRole(runCtx, unlock, string(req.Role))
		s.limiter.Release()
		s.finish(imp, outcome, phase)
	}()

	logging.ForImport(ctx, importID, string(req.Role)).Info("import started",
		"strategy", strategy,
		"rows", len(parsed.Rows),
		"operator_id", req.OperatorID,
	)
	return importID, nil
}

// runRecovered runs the import and converts a panic into a failed record.
func (s *Service) runRecovered(ctx context.Context, imp *activeImport, req ImportRequest, parsed ParsedFile, in RecordInput) (outcome *ImportOutcome, phase ImportPhase) {
	defer func() {
		if r := recover(); r != nil {
			logging.ForImport(ctx, imp.ID, string(imp.Role)).Error("panic in import", "panic", r)
			cause := fmt.Sprintf("internal error: %v", r)
			in.CompletedAt = s.now()
			rec := FailedRecord(in, cause)
			s.insertRecord(ctx, &rec)
			outcome = &ImportOutcome{
				ImportID: imp.ID,
				Role:     imp.Role,
				Strategy: imp.Strategy,
				Record:   &rec,
				Duration: in.CompletedAt.Sub(in.StartedAt),
				Error:    cause,
			}
			phase = PhaseFailed
		}
	}()
	return s.runImport(ctx, imp, req, parsed, in)
}

// runImport validates, provisions and records one run.
func (s *Service) runImport(ctx context.Context, imp *activeImport, req ImportRequest, parsed ParsedFile, in RecordInput) (*ImportOutcome, ImportPhase) {
	logger := logging.ForImport(ctx, imp.ID, string(imp.Role))
	in.FilePath = s.archive(ctx, imp, req.Content)

	job := Job{ImportID: imp.ID, Role: imp.Role, Content: req.Content}

	var provisioner Provisioner = s.batch
	if imp.Strategy == StrategyOffload {
		provisioner = s.offload
	} else {
		imp.update(func(p *ImportProgress) { p.Phase = PhaseValidating })

		summary, err := ValidateRows(ctx, NormalizeFile(parsed), s.store)
		if err != nil {
			logger.Error("validation failed", "error", err)
			in.CompletedAt = s.now()
			rec := FailedRecord(in, err.Error())
			s.insertRecord(ctx, &rec)
			return &ImportOutcome{
				ImportID: imp.ID,
				Role:     imp.Role,
				Strategy: imp.Strategy,
				Record:   &rec,
				Duration: in.CompletedAt.Sub(in.StartedAt),
				Error:    FormatUserError(err),
			}, PhaseFailed
		}

		in.Summary = summary
		for _, v := range summary.Valid() {
			job.Rows = append(job.Rows, v.Row)
		}
	}

	indeterminate := provisioner.Progress() == ProgressIndeterminate
	imp.update(func(p *ImportProgress) {
		p.Phase = PhaseProvisioning
		p.Processed = 0
		p.Total = len(job.Rows)
		p.Indeterminate = indeterminate
	})

	result := provisioner.Provision(ctx, job, func(processed, total int) {
		imp.update(func(p *ImportProgress) {
			p.Processed = processed
			p.Total = total
		})
	})

	imp.update(func(p *ImportProgress) { p.Phase = PhaseRecording })

	in.Result = result
	in.CompletedAt = s.now()
	rec := NewImportRecord(in)

	outcome := &ImportOutcome{
		ImportID: imp.ID,
		Role:     imp.Role,
		Strategy: imp.Strategy,
		Summary:  in.Summary,
		Result:   result,
		Duration: in.CompletedAt.Sub(in.StartedAt),
	}
	if err := s.insertRecord(ctx, &rec); err != nil {
		outcome.Error = FormatUserError(err)
	} else {
		outcome.Record = &rec
		s.publish(ctx, EventImportCompleted, rec)
	}

	logger.Info("import finished",
		"status", rec.Status,
		"total_rows", rec.TotalRows,
		"success", rec.SuccessCount,
		"failed", rec.FailureCount,
		"duration", outcome.Duration,
	)
	return outcome, PhaseComplete
}

// insertRecord writes rec even if the run was cancelled.
func (s *Service) insertRecord(ctx context.Context, rec *ImportRecord) error {
	if err := s.store.InsertImportRecord(context.WithoutCancel(ctx), *rec); err != nil {
		logging.ForImport(ctx, rec.ID, string(rec.Role)).Error("failed to write import record", "error", err)
		return fmt.Errorf("write import record: %w", err)
	}
	return nil
}

// archive stores the source file and returns its location, or "" when no
// archiver is configured or the upload fails.
func (s *Service) archive(ctx context.Context, imp *activeImport, content []byte) string {
	if s.archiver == nil {
		return ""
	}
	key := fmt.Sprintf("%s/%s.csv", imp.Role, imp.ID)
	location, err := s.archiver.Store(ctx, key, content)
	if err != nil {
		logging.ForImport(ctx, imp.ID, string(imp.Role)).Warn("failed to archive import file", "error", err)
		return ""
	}
	return location
}

func (s *Service) publish(ctx context.Context, eventType string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), eventType, payload); err != nil {
		logging.WithFields(ctx, "event_type", eventType).Warn("failed to publish event", "error", err)
	}
}

func (s *Service) lockRole(ctx context.Context, name string) (runlock.Unlock, error) {
	unlock, ok, err := s.lock.TryLock(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	if !ok {
		if name == retractionLockName {
			return nil, fmt.Errorf("%w: retraction already running", ErrImportInProgress)
		}
		return nil, fmt.Errorf("%w %s", ErrImportInProgress, name)
	}
	return unlock, nil
}

func (s *Service) unlockRole(ctx context.Context, unlock runlock.Unlock, name string) {
	if err := unlock(context.WithoutCancel(ctx)); err != nil {
		logging.WithFields(ctx, "lock", name).Warn("failed to release run lock", "error", err)
	}
}

// SubscribeProgress returns a channel that receives progress updates.
// The channel is closed when the run completes.
func (s *Service) SubscribeProgress(importID string) (<-chan ImportProgress, error) {
	imp, err := s.lookup(importID)
	if err != nil {
		return nil, err
	}

	ch := make(chan ImportProgress, 10)

	imp.ListenerMu.Lock()
	defer imp.ListenerMu.Unlock()

	// Send current progress immediately
	ch <- imp.Progress
	if imp.finished {
		close(ch)
		return ch, nil
	}
	imp.Listeners = append(imp.Listeners, ch)
	return ch, nil
}

// GetProgress returns the current progress without blocking.
func (s *Service) GetProgress(importID string) (ImportProgress, error) {
	imp, err := s.lookup(importID)
	if err != nil {
		return ImportProgress{}, err
	}

	imp.ListenerMu.Lock()
	defer imp.ListenerMu.Unlock()
	return imp.Progress, nil
}

// GetOutcome returns the outcome of a run, waiting for it to finish.
func (s *Service) GetOutcome(ctx context.Context, importID string) (*ImportOutcome, error) {
	imp, err := s.lookup(importID)
	if err != nil {
		return nil, err
	}

	select {
	case <-imp.Done:
		return imp.Outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CancelImport stops a run between batches. Rows not yet attempted are
// counted as failures on its record.
func (s *Service) CancelImport(importID string) error {
	imp, err := s.lookup(importID)
	if err != nil {
		return err
	}
	imp.Cancel()
	return nil
}

func (s *Service) lookup(importID string) (*activeImport, error) {
	s.mu.RLock()
	imp, ok := s.imports[importID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}
	return imp, nil
}

// finish publishes the outcome, closes listeners and schedules cleanup.
// Only the first call has any effect.
func (s *Service) finish(imp *activeImport, outcome *ImportOutcome, phase ImportPhase) {
	imp.ListenerMu.Lock()
	if imp.finished {
		imp.ListenerMu.Unlock()
		return
	}
	imp.finished = true
	imp.Outcome = outcome
	imp.Progress.Phase = phase
	imp.Progress.Error = outcome.Error
	for _, ch := range imp.Listeners {
		deliverFinal(ch, imp.Progress)
		close(ch)
	}
	imp.Listeners = nil
	imp.ListenerMu.Unlock()

	close(imp.Done)
	s.cleanup(imp.ID, resultRetention)
}

// update applies fn to the progress and notifies listeners.
func (imp *activeImport) update(fn func(p *ImportProgress)) {
	imp.ListenerMu.Lock()
	defer imp.ListenerMu.Unlock()

	fn(&imp.Progress)
	imp.notifyLocked()
}

// notifyLocked sends progress to all listeners. ListenerMu must be held.
func (imp *activeImport) notifyLocked() {
	for _, ch := range imp.Listeners {
		select {
		case ch <- imp.Progress:
		default:
			// Listener is slow, skip this update
		}
	}
}

// deliverFinal sends the terminal snapshot, evicting the oldest queued
// update when ch is full. ListenerMu must be held so no other send races.
func deliverFinal(ch chan ImportProgress, p ImportProgress) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- p
}

// cleanup removes the run from tracking after a delay.
func (s *Service) cleanup(importID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.imports, importID)
		s.mu.Unlock()
	})
}

// WaitForImports blocks until every running import has released its slot.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// CancelAll cancels every tracked run. Used on shutdown.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, imp := range s.imports {
		imp.Cancel()
	}
}
