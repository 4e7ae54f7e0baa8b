package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TobiSchelling/nscreview/internal/cache"
	"github.com/TobiSchelling/nscreview/internal/config"
	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/notify"
	"github.com/TobiSchelling/nscreview/internal/review"
	"github.com/TobiSchelling/nscreview/internal/scan"
	"github.com/TobiSchelling/nscreview/internal/signer"
	"github.com/TobiSchelling/nscreview/internal/storage"
)

var testToday = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

// httptest requests come from 192.0.2.1.
const allowedNet = "192.0.2.0/24"

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	db.SetClock(func() time.Time { return testToday })
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

type fakeNotify struct {
	mu   sync.Mutex
	sent []notify.SendRequest
	err  error
}

func (f *fakeNotify) SendEmail(_ context.Context, req notify.SendRequest) (*notify.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, req)
	return &notify.SendResponse{ID: "notify-id"}, nil
}

func (f *fakeNotify) GetNotification(context.Context, string) (*notify.Notification, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeNotify) requests() []notify.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.SendRequest(nil), f.sent...)
}

type testEnv struct {
	db     *database.DB
	srv    *Server
	notify *fakeNotify
	signer *signer.Signer
	pages  *cache.Cache
	store  *storage.Store
}

func testConfig() *config.Config {
	return &config.Config{
		Admin:     config.Admin{AllowedIPs: []string{allowedNet}},
		Cache:     config.Cache{Size: 64, TTL: time.Hour},
		RateLimit: config.RateLimit{CommentsPerDay: 10},
		Notify: config.Notify{
			CommentEmail: "comments@example.com",
			Templates: config.Templates{
				PublicComment:      "tpl-public",
				StakeholderComment: "tpl-stakeholder",
			},
		},
	}
}

func newTestEnv(t *testing.T, configure ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, fn := range configure {
		fn(cfg)
	}
	e := &testEnv{
		db:     openTestDB(t),
		notify: &fakeNotify{},
		signer: signer.New("test-secret"),
		pages:  cache.New(64, time.Hour),
		store:  storage.New(t.TempDir()),
	}
	reviews := review.NewService(e.db, e.store, scan.Disabled{}, nil, e.pages, zerolog.Nop())
	srv, err := New(Deps{
		DB:      e.db,
		Reviews: reviews,
		Store:   e.store,
		Notify:  e.notify,
		Signer:  e.signer,
		Pages:   e.pages,
		Config:  cfg,
		Log:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	e.srv = srv
	return e
}

func (e *testEnv) get(target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) post(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) policy(t *testing.T, name, slug string) *database.Policy {
	t.Helper()
	p := &database.Policy{Name: name, Slug: slug, IsActive: true, Ages: []string{"adult"}, Summary: name + " summary"}
	if err := e.db.CreatePolicy(context.Background(), p); err != nil {
		t.Fatalf("create policy: %v", err)
	}
	return p
}

func (e *testEnv) review(t *testing.T, r *database.Review, policies ...*database.Policy) *database.Review {
	t.Helper()
	ctx := context.Background()
	if err := e.db.CreateReview(ctx, r); err != nil {
		t.Fatalf("create review: %v", err)
	}
	ids := make([]int64, len(policies))
	for i, p := range policies {
		ids[i] = p.ID
	}
	if err := e.db.SetReviewPolicies(ctx, r.ID, ids); err != nil {
		t.Fatalf("link policies: %v", err)
	}
	return r
}

// openConsultation creates a policy with a review open for comments today.
func (e *testEnv) openConsultation(t *testing.T) (*database.Policy, *database.Review) {
	t.Helper()
	p := e.policy(t, "Bowel cancer", "bowel-cancer")
	r := e.review(t, &database.Review{
		Name:              "Bowel cancer 2026",
		Slug:              "bowel-cancer-2026",
		ReviewType:        []string{database.ReviewTypeEvidence},
		DatesConfirmed:    true,
		ReviewStart:       ptr("2026-01-01"),
		ConsultationStart: ptr("2026-06-01"),
		ConsultationEnd:   ptr("2026-09-01"),
	}, p)
	return p, r
}

func TestRootRedirectsToConditions(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get("/")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/condition/" {
		t.Errorf("expected redirect to /condition/, got %q", loc)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get("/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %q", rec.Body.String())
	}
}

func TestStaticFiles(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get("/static/style.css")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "govuk-button") {
		t.Error("expected stylesheet content")
	}
}

func TestUnknownPageIsNotFound(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get("/condition/missing/")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Page not found") {
		t.Error("expected the not found page")
	}
}

func TestEveryPageTemplateParses(t *testing.T) {
	pages, err := parseTemplates()
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}
	for _, name := range []string{
		"not_found.html", "limit_exceeded.html", "review_list.html", "review_add.html",
		"review_detail.html", "review_dates.html", "review_stakeholders.html",
		"review_recommendation.html", "review_publish.html", "review_delete.html",
		"review_documents.html", "condition_list.html", "condition_detail.html",
		"consultation.html", "public_comment.html", "stakeholder_comment.html",
		"comment_submitted.html", "subscribe.html", "subscription_complete.html",
		"subscription_manage.html", "subscription_deleted.html", "export.html", "emails.html",
	} {
		if _, ok := pages[name]; !ok {
			t.Errorf("missing template %s", name)
		}
	}
}
