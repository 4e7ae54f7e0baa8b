package server

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/export"
	"github.com/TobiSchelling/nscreview/internal/notify"
)

func (s *Server) handleStakeholderExport(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	exportType := params.Get("export_type")
	if exportType == "" {
		s.render(w, "export.html", map[string]any{
			"Types":     export.Types,
			"Countries": database.Countries,
		})
		return
	}
	if !database.IsChoice(export.Types, exportType) {
		s.renderStatus(w, http.StatusBadRequest, "export.html", map[string]any{
			"Types":     export.Types,
			"Countries": database.Countries,
			"Errors":    map[string]string{"export_type": "Select a valid export type"},
		})
		return
	}

	filter := export.Filter{
		Name:      params.Get("name"),
		Condition: params.Get("condition"),
		Country:   params.Get("country"),
	}
	var buf bytes.Buffer
	if err := s.exporter.Write(r.Context(), &buf, exportType, filter); err != nil {
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(exportType)))
	w.Write(buf.Bytes())
}

const emailPageSize = 100

func (s *Server) handleEmails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := s.db.Emails().Newest().Limit(emailPageSize)
	status := r.URL.Query().Get("status")
	if notify.Status(status).Valid() {
		q = q.Statuses(status)
	} else {
		status = ""
	}

	emails, err := q.List(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	counts, err := s.db.EmailStatusCounts(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.render(w, "emails.html", map[string]any{
		"Emails":   emails,
		"Counts":   counts,
		"Statuses": notify.Statuses,
		"Status":   status,
	})
}
