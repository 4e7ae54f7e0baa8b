package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/TobiSchelling/nscreview/internal/notify"
)

// receipt is the delivery callback payload. The provider posts JSON; form
// encoding is accepted too.
type receipt struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

func parseReceipt(r *http.Request) (receipt, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var rc receipt
		err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&rc)
		return rc, err
	}
	if err := r.ParseForm(); err != nil {
		return receipt{}, err
	}
	return receipt{Reference: r.PostForm.Get("reference"), Status: r.PostForm.Get("status")}, nil
}

// handleReceipt records a delivery status reported by the provider. The
// caller authenticates with "Authorization: bearer <token>" against the
// stored receipt tokens.
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "bearer" || parts[1] == "" {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	known, err := s.db.ReceiptTokenExists(ctx, parts[1])
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if !known {
		s.log.Warn().Str("ip", clientIP(r)).Msg("receipt with unknown token")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	rc, err := parseReceipt(r)
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseInt(strings.TrimSpace(rc.Reference), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	email, err := s.db.GetEmail(ctx, id)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if email == nil {
		http.NotFound(w, r)
		return
	}

	status := notify.Status(rc.Status)
	if !status.Valid() {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if !notify.CanTransition(notify.Status(email.Status), status) {
		s.log.Warn().Int64("email_id", email.ID).Str("from", email.Status).Str("status", string(status)).
			Msg("unexpected delivery status transition")
	}
	if err := s.db.SetEmailStatus(ctx, email.ID, string(status)); err != nil {
		s.serverError(w, r, err)
		return
	}
	s.log.Debug().Int64("email_id", email.ID).Str("status", string(status)).Msg("delivery receipt recorded")
	w.WriteHeader(http.StatusOK)
}
