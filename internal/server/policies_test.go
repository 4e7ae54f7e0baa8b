package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestPolicyListAndDetail(t *testing.T) {
	e := newTestEnv(t)
	e.openConsultation(t)
	e.policy(t, "Sickle cell", "sickle-cell")

	list := e.get("/admin/policies/?q=bowel").Body.String()
	if !strings.Contains(list, "Bowel cancer") || strings.Contains(list, "Sickle cell") {
		t.Error("expected the search to filter the list")
	}

	rec := e.get("/admin/policies/bowel-cancer/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Bowel cancer 2026") {
		t.Error("expected the condition's reviews on the detail page")
	}
	if rec := e.get("/admin/policies/missing/"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestPolicyEdit(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.policy(t, "Sickle cell", "sickle-cell")

	if body := e.get("/admin/policies/sickle-cell/edit/").Body.String(); !strings.Contains(body, `value="Sickle cell"`) {
		t.Error("expected the edit form to be prefilled")
	}
	// Warm the public page so the edit has to invalidate it.
	e.get("/condition/sickle-cell/")

	rec := e.post("/admin/policies/sickle-cell/edit/", url.Values{"name": {""}})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Enter the name of the condition") {
		t.Fatalf("expected the form with errors, got %d", rec.Code)
	}

	rec = e.post("/admin/policies/sickle-cell/edit/", url.Values{
		"name":           {"Sickle cell disease"},
		"recommendation": {"yes"},
		"ages":           {"antenatal", "newborn"},
		"next_review":    {"2029-03-01"},
		"summary":        {"Screening is **recommended**."},
	})
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/admin/policies/sickle-cell/" {
		t.Fatalf("expected a redirect to the detail page, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	p, _ := e.db.GetPolicyBySlug(ctx, "sickle-cell")
	if p.Name != "Sickle cell disease" || !p.Recommendation || len(p.Ages) != 2 {
		t.Errorf("unexpected policy %+v", p)
	}
	if body := e.get("/condition/sickle-cell/").Body.String(); !strings.Contains(body, "Sickle cell disease") {
		t.Error("expected the public page to show the new name")
	}
}

func TestPolicyArchiveAndRestore(t *testing.T) {
	e := newTestEnv(t)
	e.policy(t, "Sickle cell", "sickle-cell")

	if rec := e.get("/condition/sickle-cell/"); rec.Code != http.StatusOK {
		t.Fatalf("expected the public page, got %d", rec.Code)
	}

	rec := e.post("/admin/policies/sickle-cell/archive/", url.Values{"action": {"archive"}})
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if rec := e.get("/condition/sickle-cell/"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an archived condition, got %d", rec.Code)
	}
	if body := e.get("/admin/policies/sickle-cell/").Body.String(); !strings.Contains(body, "Restore condition") {
		t.Error("expected the admin page to offer a restore")
	}

	e.post("/admin/policies/sickle-cell/archive/", url.Values{"action": {"restore"}})
	if rec := e.get("/condition/sickle-cell/"); rec.Code != http.StatusOK {
		t.Errorf("expected the restored page, got %d", rec.Code)
	}
}
