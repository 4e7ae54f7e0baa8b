package server

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/TobiSchelling/nscreview/internal/database"
)

func TestReviewList(t *testing.T) {
	e := newTestEnv(t)
	e.openConsultation(t)
	e.review(t, &database.Review{Name: "Old review", Slug: "old-review", IsLegacy: true, ReviewStart: ptr("2015-01-01")})

	rec := e.get("/review/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Bowel cancer 2026") || !strings.Contains(body, "In consultation") {
		t.Error("expected the review with its derived status")
	}
	if strings.Contains(body, "Old review") {
		t.Error("expected legacy reviews to be hidden")
	}

	body = e.get("/review/?q=nothing-like-it").Body.String()
	if strings.Contains(body, "Bowel cancer 2026") {
		t.Error("expected the search to filter reviews")
	}
}

func TestReviewAdd(t *testing.T) {
	e := newTestEnv(t)
	p := e.policy(t, "Sickle cell", "sickle-cell")

	if rec := e.get("/review/add/"); rec.Code != http.StatusOK {
		t.Fatalf("expected the form, got %d", rec.Code)
	}

	rec := e.post("/review/add/", url.Values{
		"name":        {"Sickle cell 2026"},
		"review_type": {"evidence", "cost"},
		"policies":    {strconv.FormatInt(p.ID, 10)},
		"summary":     {"## Outcome\n\nPending."},
	})
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/review/sickle-cell-2026/" {
		t.Errorf("unexpected redirect %q", loc)
	}

	r, err := e.db.GetReviewBySlug(context.Background(), "sickle-cell-2026")
	if err != nil || r == nil {
		t.Fatalf("expected the review to be stored: %v", err)
	}
	if r.ReviewStart == nil || *r.ReviewStart != "2026-06-15" {
		t.Errorf("expected review start to default to today, got %v", r.ReviewStart)
	}

	detail := e.get("/review/sickle-cell-2026/")
	if detail.Code != http.StatusOK {
		t.Fatalf("expected the detail page, got %d", detail.Code)
	}
	for _, want := range []string{"Sickle cell 2026", "In review", "Cover sheet", "govuk-heading-l"} {
		if !strings.Contains(detail.Body.String(), want) {
			t.Errorf("expected %q on the detail page", want)
		}
	}
}

func TestReviewAddValidation(t *testing.T) {
	e := newTestEnv(t)
	e.policy(t, "Sickle cell", "sickle-cell")

	rec := e.post("/review/add/", url.Values{"name": {""}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected the form again, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Enter the name of the review", "Select at least one type of review", "Select at least one condition"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q", want)
		}
	}
}

func TestReviewDetailUnknownSlug(t *testing.T) {
	e := newTestEnv(t)

	if rec := e.get("/review/missing/"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := e.post("/review/missing/dates/", url.Values{}); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a step, got %d", rec.Code)
	}
}

func TestReviewDates(t *testing.T) {
	e := newTestEnv(t)
	p := e.policy(t, "Sickle cell", "sickle-cell")
	e.review(t, &database.Review{Name: "Sickle cell 2026", Slug: "sickle-cell-2026", ReviewStart: ptr("2026-01-01")}, p)

	rec := e.post("/review/sickle-cell-2026/dates/", url.Values{
		"review_start":       {"2026-01-01"},
		"consultation_start": {"2026-07-01"},
		"dates_confirmed":    {"yes"},
	})
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}

	r, _ := e.db.GetReviewBySlug(context.Background(), "sickle-cell-2026")
	if !r.DatesConfirmed {
		t.Error("expected dates to be confirmed")
	}
	if r.ConsultationEnd == nil || *r.ConsultationEnd != "2026-10-01" {
		t.Errorf("expected consultation end to default to three months, got %v", r.ConsultationEnd)
	}

	rec = e.post("/review/sickle-cell-2026/dates/", url.Values{
		"consultation_start": {"2026-07-01"},
		"consultation_end":   {"2026-06-01"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected the form again, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "The consultation end date must be after the start date") {
		t.Error("expected the date order error")
	}
}

func TestReviewStakeholders(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.policy(t, "Sickle cell", "sickle-cell")
	r := e.review(t, &database.Review{Name: "Sickle cell 2026", Slug: "sickle-cell-2026"}, p)
	s := &database.Stakeholder{Name: "Screening Society", Type: database.StakeholderProfessional}
	if err := e.db.CreateStakeholder(ctx, s, []int64{p.ID}); err != nil {
		t.Fatalf("create stakeholder: %v", err)
	}

	if body := e.get("/review/sickle-cell-2026/stakeholders/").Body.String(); !strings.Contains(body, "Screening Society") {
		t.Error("expected the policy's stakeholders to be offered")
	}

	rec := e.post("/review/sickle-cell-2026/stakeholders/", url.Values{"stakeholders": {strconv.FormatInt(s.ID, 10)}})
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	linked, _ := e.db.GetReviewStakeholders(ctx, r.ID)
	if len(linked) != 1 || linked[0].ID != s.ID {
		t.Errorf("expected the stakeholder to be linked, got %+v", linked)
	}
}

func TestReviewRecommendationAndPublish(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.policy(t, "Sickle cell", "sickle-cell")
	e.review(t, &database.Review{Name: "Sickle cell 2026", Slug: "sickle-cell-2026"}, p)

	rec := e.post("/review/sickle-cell-2026/publish/", url.Values{})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Add a recommendation before publishing") {
		t.Fatalf("expected publishing without a recommendation to be refused, got %d", rec.Code)
	}

	prefix := "policy-" + strconv.FormatInt(p.ID, 10) + "-"
	rec = e.post("/review/sickle-cell-2026/recommendation/", url.Values{
		"recommendation":          {"yes"},
		"summary":                 {"Screening is recommended."},
		prefix + "summary":        {"New sickle cell summary."},
		prefix + "recommendation": {"yes"},
	})
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.post("/review/sickle-cell-2026/publish/", url.Values{})
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}

	got, _ := e.db.GetPolicy(ctx, p.ID)
	if !got.Recommendation || got.Summary != "New sickle cell summary." {
		t.Errorf("expected the decision on the policy, got %+v", got)
	}
	if got.LastReview == nil || *got.LastReview != "2026-06-15" {
		t.Errorf("expected last review today, got %v", got.LastReview)
	}
	r, _ := e.db.GetReviewBySlug(ctx, "sickle-cell-2026")
	if !r.IsPublished() {
		t.Error("expected the review to be published")
	}
}

func TestReviewRecommendationRequiresChoice(t *testing.T) {
	e := newTestEnv(t)
	p := e.policy(t, "Sickle cell", "sickle-cell")
	e.review(t, &database.Review{Name: "Sickle cell 2026", Slug: "sickle-cell-2026"}, p)

	rec := e.post("/review/sickle-cell-2026/recommendation/", url.Values{"summary": {"Undecided."}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected the form again, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Select a recommendation") {
		t.Error("expected the recommendation error")
	}
}

func TestReviewDelete(t *testing.T) {
	e := newTestEnv(t)
	p := e.policy(t, "Sickle cell", "sickle-cell")
	e.review(t, &database.Review{Name: "Sickle cell 2026", Slug: "sickle-cell-2026"}, p)

	if rec := e.get("/review/sickle-cell-2026/delete/"); rec.Code != http.StatusOK {
		t.Fatalf("expected the confirmation page, got %d", rec.Code)
	}
	rec := e.post("/review/sickle-cell-2026/delete/", url.Values{})
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/review/" {
		t.Fatalf("expected a redirect to the list, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	r, _ := e.db.GetReviewBySlug(context.Background(), "sickle-cell-2026")
	if r != nil {
		t.Error("expected the review to be deleted")
	}
}

func (e *testEnv) upload(t *testing.T, slug, docType, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("document_type", docType)
	fw, err := mw.CreateFormFile("upload", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(content)
	mw.Close()

	req := httptest.NewRequest("POST", "/review/"+slug+"/documents/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestReviewDocuments(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.policy(t, "Sickle cell", "sickle-cell")
	r := e.review(t, &database.Review{Name: "Sickle cell 2026", Slug: "sickle-cell-2026"}, p)

	rec := e.upload(t, "sickle-cell-2026", database.DocCoverSheet, "cover.pdf", []byte("%PDF-1.4 cover"))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}
	docs, _ := e.db.ListReviewDocuments(ctx, r.ID)
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	download := e.get("/document/" + strconv.FormatInt(docs[0].ID, 10) + "/")
	if download.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", download.Code)
	}
	if download.Body.String() != "%PDF-1.4 cover" {
		t.Errorf("unexpected download body %q", download.Body.String())
	}
	if cd := download.Header().Get("Content-Disposition"); !strings.Contains(cd, "cover.pdf") {
		t.Errorf("expected the file name in %q", cd)
	}

	rec = e.post("/review/sickle-cell-2026/documents/"+strconv.FormatInt(docs[0].ID, 10)+"/delete/", url.Values{})
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	docs, _ = e.db.ListReviewDocuments(ctx, r.ID)
	if len(docs) != 0 {
		t.Errorf("expected the document to be removed, got %d", len(docs))
	}
}

func TestReviewDocumentRejectsExtension(t *testing.T) {
	e := newTestEnv(t)
	p := e.policy(t, "Sickle cell", "sickle-cell")
	e.review(t, &database.Review{Name: "Sickle cell 2026", Slug: "sickle-cell-2026"}, p)

	rec := e.upload(t, "sickle-cell-2026", database.DocCoverSheet, "cover.exe", []byte("MZ"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected the form again, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "The selected file must be a PDF or ODT") {
		t.Error("expected the extension error")
	}
}

func TestDocumentDownloadUnknown(t *testing.T) {
	e := newTestEnv(t)

	if rec := e.get("/document/42/"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
