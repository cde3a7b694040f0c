package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/onboard/internal/core"
	"github.com/JonMunkholm/onboard/internal/logging"
)

// handleListImports returns recent audit records, newest first.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := s.service.ListImports(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if records == nil {
		records = []core.ImportRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleImportRecord returns one audit record with its row errors.
func (s *Server) handleImportRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.GetImportRecord(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleRetract deletes every bulk-created identity and profile. It runs in
// the request; progress is logged per batch.
func (s *Server) handleRetract(w http.ResponseWriter, r *http.Request) {
	ctx := WithRequestMetadata(r.Context(), r)
	logger := logging.FromContext(ctx)

	result, err := s.service.Retract(ctx, func(processed, total int) {
		logger.Info("retraction progress", "processed", processed, "total", total)
	})
	if err != nil && result.Deleted == 0 {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDownloadTemplate serves the CSV template for a role.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	roleParam := r.URL.Query().Get("role")
	if roleParam == "" {
		roleParam = string(core.RoleStartup)
	}
	role, err := core.ParseRole(roleParam)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, core.TemplateFileName(role)))
	_, _ = w.Write(core.TemplateCSV(role))
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
