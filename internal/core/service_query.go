package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/onboard/internal/logging"
)

// ListImports returns the most recent audit records, newest first. A limit
// of zero or less uses the configured history limit.
func (s *Service) ListImports(ctx context.Context, limit int) ([]ImportRecord, error) {
	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}
	records, err := s.store.ListImportRecords(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list import records: %w", err)
	}
	return records, nil
}

// GetImportRecord returns one audit record with its stored row errors.
func (s *Service) GetImportRecord(ctx context.Context, id string) (ImportRecord, error) {
	return s.store.GetImportRecord(ctx, id)
}

// Retract deletes every bulk-created identity and profile. Deletion is
// immediate; there is no dry run. Only one retraction runs at a time.
func (s *Service) Retract(ctx context.Context, progress ProgressFunc) (RetractionResult, error) {
	unlock, err := s.lockRole(ctx, retractionLockName)
	if err != nil {
		return RetractionResult{}, err
	}
	defer s.unlockRole(ctx, unlock, retractionLockName)

	retractCtx, cancel := context.WithTimeout(ctx, s.cfg.RetractTimeout)
	defer cancel()

	deleted, err := s.retractor.Retract(retractCtx, progress)
	result := RetractionResult{Deleted: deleted}
	if err != nil {
		result.Error = err.Error()
	}

	logging.FromContext(ctx).Info("bulk retraction",
		"deleted", deleted,
		"operator_id", OperatorIDFromContext(ctx),
		"client_ip", GetIPAddressFromContext(ctx),
	)
	s.publish(ctx, EventImportRetracted, result)
	return result, err
}

// ProcessRemote is the server side of the offload contract: it re-reads,
// re-validates and provisions content with the batch provisioner, records
// the run with StrategyRemote, and reports rejected rows plus failed writes
// as failures.
//
// Content goes through ReadContent like an upload, so it is size capped and
// NUL bytes are rejected with ErrMalformedFile. The call holds an import
// slot but not the role lock: the offloading run that sent it may be on this
// instance and already hold that lock.
func (s *Service) ProcessRemote(ctx context.Context, req OffloadRequest) (OffloadResponse, error) {
	role := RoleStartup
	if req.Role != "" {
		r, err := ParseRole(string(req.Role))
		if err != nil {
			return OffloadResponse{}, err
		}
		role = r
	}

	importID := req.ImportID
	if importID == "" {
		importID = uuid.NewString()
	}
	logger := logging.ForImport(ctx, importID, string(role))
	started := s.now()

	content, err := ReadContent(strings.NewReader(req.CSVContent), s.cfg.MaxFileSize)
	if err != nil {
		return OffloadResponse{}, err
	}
	parsed := ParseBytes(content)
	if len(parsed.Rows) == 0 {
		return OffloadResponse{}, ErrEmptyFile
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return OffloadResponse{}, err
	}
	defer s.limiter.Release()

	summary, err := ValidateRows(ctx, NormalizeFile(parsed), s.store)
	if err != nil {
		return OffloadResponse{}, err
	}

	job := Job{ImportID: importID, Role: role}
	for _, v := range summary.Valid() {
		job.Rows = append(job.Rows, v.Row)
	}
	result := s.batch.Provision(ctx, job, nil)

	rec := NewImportRecord(RecordInput{
		ImportID:    uuid.NewString(),
		Role:        role,
		Strategy:    StrategyRemote,
		OperatorID:  OperatorIDFromContext(ctx),
		Summary:     summary,
		Result:      result,
		StartedAt:   started,
		CompletedAt: s.now(),
	})
	if err := s.insertRecord(ctx, &rec); err == nil {
		s.publish(ctx, EventImportCompleted, rec)
	}

	resp := OffloadResponse{
		Success: result.SuccessCount,
		Failed:  summary.InvalidRows + result.FailureCount,
		Errors:  make([]string, 0, summary.InvalidRows+len(result.Errors)),
	}
	for _, v := range summary.Invalid() {
		resp.Errors = append(resp.Errors, fmt.Sprintf("line %d: %s", v.Row.LineNumber, strings.Join(v.Errors, "; ")))
	}
	resp.Errors = append(resp.Errors, result.Errors...)

	logger.Info("remote import processed",
		"success", resp.Success,
		"failed", resp.Failed,
		"duration", time.Since(started),
	)
	return resp, nil
}
