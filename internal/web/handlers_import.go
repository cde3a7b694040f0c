package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/onboard/internal/core"
	"github.com/JonMunkholm/onboard/internal/logging"
)

var errNoFile = errors.New("no file provided")

// readUpload reads the multipart "file" field within the configured size.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, core.ErrFileTooLarge
		}
		return nil, fmt.Errorf("%w: %v", errNoFile, err)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errNoFile
	}
	defer file.Close()

	return core.ReadContent(file, maxSize)
}

// handleValidate parses and validates an uploaded file without writing.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	content, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	summary, err := s.service.Validate(r.Context(), content)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleStartImport starts an asynchronous import run.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	role, err := core.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	strategy, ok := core.ParseStrategy(r.URL.Query().Get("strategy"))
	if !ok {
		s.respondError(w, r, fmt.Errorf("%w: %q", core.ErrUnknownStrategy, r.URL.Query().Get("strategy")), 0)
		return
	}

	content, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	importID, err := s.service.StartImport(ctx, core.ImportRequest{
		Role:       role,
		Content:    content,
		OperatorID: operatorID(r),
		Strategy:   strategy,
	})
	if err != nil {
		if errors.Is(err, core.ErrTooManyImports) {
			w.Header().Set("Retry-After", "30")
		}
		s.respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"import_id": importID})
}

// handleImportProgress streams import progress via Server-Sent Events.
// Supports resumption via the lastEventId query parameter.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	progressCh, err := s.service.SubscribeProgress(importID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Event IDs count processed rows; indeterminate runs never advance.
	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			terminal := progress.Phase == core.PhaseComplete || progress.Phase == core.PhaseFailed
			if progress.Processed <= lastEventID && !terminal {
				continue
			}
			if progress.Processed > lastEventID {
				lastEventID = progress.Processed
			}

			data, _ := json.Marshal(progressEvent{ImportProgress: progress, Percent: progress.Percent()})
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Processed, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

type progressEvent struct {
	core.ImportProgress
	Percent int `json:"percent"`
}

// handleImportResult waits for a run to finish and returns its outcome.
// With wait=false it returns 202 and the current progress while running.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	if r.URL.Query().Get("wait") == "false" {
		progress, err := s.service.GetProgress(importID)
		if err != nil {
			s.respondError(w, r, err, 0)
			return
		}
		if progress.Phase != core.PhaseComplete && progress.Phase != core.PhaseFailed {
			writeJSON(w, http.StatusAccepted, progress)
			return
		}
	}

	outcome, err := s.service.GetOutcome(r.Context(), importID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// handleCancelImport cancels a running import between batches.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")
	if err := s.service.CancelImport(importID); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	logging.FromContext(r.Context()).Info("import cancel requested",
		"import_id", importID,
		"operator_id", operatorID(r),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleLimiterStatus reports run slot usage.
func (s *Server) handleLimiterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"limiter":          s.service.LimiterStatus(),
		"offloadAvailable": s.service.OffloadAvailable(),
	})
}

// handleProcessImport is the remote import function: it provisions a file
// sent by another instance's offload provisioner.
func (s *Server) handleProcessImport(w http.ResponseWriter, r *http.Request) {
	var req core.OffloadRequest
	body := http.MaxBytesReader(w, r.Body, 2*s.cfg.Import.MaxFileSize+1<<20)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CSVContent == "" {
		writeError(w, http.StatusBadRequest, "csvContent is required")
		return
	}

	resp, err := s.service.ProcessRemote(WithRequestMetadata(r.Context(), r), req)
	if err != nil {
		logging.FromContext(r.Context()).Error("remote import failed", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
