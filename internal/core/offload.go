package core

import (
	"context"

	"github.com/JonMunkholm/onboard/internal/logging"
)

// OffloadRequest is the payload sent to the remote import function.
type OffloadRequest struct {
	CSVContent string `json:"csvContent"`
	Role       Role   `json:"role,omitempty"`
	ImportID   string `json:"importId,omitempty"`
}

// OffloadResponse is the remote import function's reply.
type OffloadResponse struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// Invoker calls the remote import function.
type Invoker interface {
	Invoke(ctx context.Context, req OffloadRequest) (OffloadResponse, error)
}

// CloudOffloadProvisioner hands the whole file to a remote function that
// re-parses, re-validates and writes it. It cannot report progress.
type CloudOffloadProvisioner struct {
	invoker Invoker
}

// NewCloudOffloadProvisioner creates an offload provisioner.
func NewCloudOffloadProvisioner(invoker Invoker) *CloudOffloadProvisioner {
	return &CloudOffloadProvisioner{invoker: invoker}
}

// Strategy implements Provisioner.
func (p *CloudOffloadProvisioner) Strategy() Strategy { return StrategyOffload }

// Progress implements Provisioner.
func (p *CloudOffloadProvisioner) Progress() ProgressMode { return ProgressIndeterminate }

// Provision implements Provisioner. The progress callback is never called.
// Any invocation error becomes a single synthetic failure.
func (p *CloudOffloadProvisioner) Provision(ctx context.Context, job Job, _ ProgressFunc) UploadResult {
	logger := logging.ForImport(ctx, job.ImportID, string(job.Role))

	resp, err := p.invoker.Invoke(ctx, OffloadRequest{
		CSVContent: string(job.Content),
		Role:       job.Role,
		ImportID:   job.ImportID,
	})
	if err != nil {
		logger.Error("offload invocation failed", "error", err)
		return UploadResult{
			IsComplete:   true,
			SuccessCount: 0,
			FailureCount: 1,
			TotalCount:   1,
			Errors:       []string{err.Error()},
			Aborted:      true,
		}
	}

	errs := resp.Errors
	if errs == nil {
		errs = []string{}
	}

	logger.Info("offload finished", "success", resp.Success, "failed", resp.Failed)
	return UploadResult{
		IsComplete:   true,
		SuccessCount: resp.Success,
		FailureCount: resp.Failed,
		TotalCount:   resp.Success + resp.Failed,
		Errors:       errs,
	}
}
