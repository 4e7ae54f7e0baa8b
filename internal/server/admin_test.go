package server

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/notify"
)

func TestExportForm(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get("/admin/stakeholders/export/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Individual contacts") {
		t.Error("expected the export types on the form")
	}
}

func TestExportConditionsCSV(t *testing.T) {
	e := newTestEnv(t)
	p := e.policy(t, "Sickle cell", "sickle-cell")
	s := &database.Stakeholder{
		Name:      "Screening Society",
		Type:      database.StakeholderPatientGroup,
		Countries: []string{database.CountryEngland},
		IsPublic:  true,
	}
	if err := e.db.CreateStakeholder(context.Background(), s, []int64{p.ID}); err != nil {
		t.Fatalf("create stakeholder: %v", err)
	}

	rec := e.get("/admin/stakeholders/export/?export_type=conditions")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected a CSV content type, got %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "stakeholders-conditions.csv") {
		t.Errorf("unexpected disposition %q", cd)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "Stakeholder name,Stakeholder Type,Country: England") {
		t.Errorf("unexpected header line in %q", body)
	}
	if !strings.Contains(body, "Screening Society") || !strings.Contains(body, "Sickle cell") {
		t.Error("expected the stakeholder row")
	}
}

func TestExportRejectsUnknownType(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get("/admin/stakeholders/export/?export_type=everything")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Select a valid export type") {
		t.Error("expected the export type error")
	}
}

func TestEmailsPage(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	emails := []database.Email{
		{Address: "sent@example.com", TemplateID: "tpl", Status: string(notify.Delivered)},
		{Address: "queued@example.com", TemplateID: "tpl", Status: string(notify.Pending)},
	}
	if err := e.db.CreateEmails(ctx, emails); err != nil {
		t.Fatalf("create emails: %v", err)
	}

	body := e.get("/admin/emails/").Body.String()
	if !strings.Contains(body, "sent@example.com") || !strings.Contains(body, "queued@example.com") {
		t.Error("expected every email without a filter")
	}

	body = e.get("/admin/emails/?status=delivered").Body.String()
	if !strings.Contains(body, "sent@example.com") || strings.Contains(body, "queued@example.com") {
		t.Error("expected only delivered emails")
	}

	body = e.get("/admin/emails/?status=bogus").Body.String()
	if !strings.Contains(body, "queued@example.com") {
		t.Error("expected an unknown status to be ignored")
	}
}
