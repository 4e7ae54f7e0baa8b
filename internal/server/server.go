// Package server serves the review manager, the public condition pages,
// subscriptions, admin exports and the delivery receipt webhook.
package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TobiSchelling/nscreview/internal/cache"
	"github.com/TobiSchelling/nscreview/internal/config"
	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/export"
	"github.com/TobiSchelling/nscreview/internal/notify"
	"github.com/TobiSchelling/nscreview/internal/review"
	"github.com/TobiSchelling/nscreview/internal/signer"
	"github.com/TobiSchelling/nscreview/internal/storage"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// restrictedPrefixes are only reachable from the admin allow-list.
var restrictedPrefixes = []string{"/admin/", "/review/", "/document/"}

// Deps are the collaborators the server needs.
type Deps struct {
	DB       *database.DB
	Reviews  *review.Service
	Store    *storage.Store
	Notify   notify.Client
	Signer   *signer.Signer
	Pages    *cache.Cache
	Exporter *export.Exporter
	Config   *config.Config
	Log      zerolog.Logger
}

// Server is the HTTP server.
type Server struct {
	db       *database.DB
	reviews  *review.Service
	store    *storage.Store
	notify   notify.Client
	signer   *signer.Signer
	cache    *cache.Cache
	exporter *export.Exporter
	cfg      *config.Config
	log      zerolog.Logger

	pages    map[string]*template.Template
	mux      *http.ServeMux
	allow    *AllowList
	comments *dailyLimiter
	handler  http.Handler
}

// New creates a server.
func New(d Deps) (*Server, error) {
	pages, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	allow, err := NewAllowList(d.Config.AdminAllowedIPs())
	if err != nil {
		return nil, fmt.Errorf("admin allow-list: %w", err)
	}
	pageCache := d.Pages
	if pageCache == nil {
		pageCache = cache.New(d.Config.Cache.Size, d.Config.Cache.TTL)
	}
	exporter := d.Exporter
	if exporter == nil {
		exporter = export.New(d.DB)
	}

	s := &Server{
		db:       d.DB,
		reviews:  d.Reviews,
		store:    d.Store,
		notify:   d.Notify,
		signer:   d.Signer,
		cache:    pageCache,
		exporter: exporter,
		cfg:      d.Config,
		log:      d.Log,
		pages:    pages,
		mux:      http.NewServeMux(),
		allow:    allow,
		comments: newDailyLimiter(d.Config.RateLimit.CommentsPerDay),
	}
	s.routes()

	var h http.Handler = s.mux
	h = restrict(s.allow, s.log, restrictedPrefixes...)(h)
	h = recovery(s.log)(h)
	h = accessLog(s.log)(h)
	h = requestID(h)
	s.handler = h
	return s, nil
}

func parseTemplates() (map[string]*template.Template, error) {
	funcMap := template.FuncMap{
		"date":  database.FormatDateDisplay,
		"deref": deref,
		"html": func(s string) template.HTML {
			return template.HTML(s) //nolint: gosec
		},
		"yesno": func(b *bool) string {
			switch {
			case b == nil:
				return "Not decided"
			case *b:
				return "Yes"
			default:
				return "No"
			}
		},
		"reviewType":      func(v string) string { return database.ChoiceLabel(database.ReviewTypes, v) },
		"documentType":    func(v string) string { return database.ChoiceLabel(database.DocumentTypes, v) },
		"stakeholderType": func(v string) string { return database.ChoiceLabel(database.StakeholderTypes, v) },
		"ageGroup":        func(v string) string { return database.ChoiceLabel(database.AgeGroups, v) },
		"country":         func(v string) string { return database.ChoiceLabel(database.Countries, v) },
		"has": func(items []string, v string) bool {
			for _, item := range items {
				if item == v {
					return true
				}
			}
			return false
		},
		"hasID":    func(ids map[int64]bool, id int64) bool { return ids[id] },
		"errorFor": func(errs map[string]string, field string) string { return errs[field] },
		"value":    func(v url.Values, field string) string { return v.Get(field) },
		"isYes":    func(b *bool) bool { return b != nil && *b },
		"isNo":     func(b *bool) bool { return b != nil && !*b },
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so every page can define
	// "title" and "content".
	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(names))
	for _, path := range names {
		name := strings.TrimPrefix(path, "templates/")
		if name == "base.html" {
			continue
		}
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, path); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}
	return pages, nil
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetAdminAllowList replaces the admin CIDR allow-list.
func (s *Server) SetAdminAllowList(cidrs []string) error {
	return s.allow.Set(cidrs)
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/condition/", http.StatusFound)
	})
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// Review manager
	s.mux.HandleFunc("GET /review/{$}", s.handleReviewList)
	s.mux.HandleFunc("GET /review/add/{$}", s.handleReviewAdd)
	s.mux.HandleFunc("POST /review/add/{$}", s.handleReviewAdd)
	s.mux.HandleFunc("GET /review/{slug}/{$}", s.handleReviewDetail)
	s.mux.HandleFunc("/review/{slug}/dates/{$}", s.handleReviewDates)
	s.mux.HandleFunc("/review/{slug}/stakeholders/{$}", s.handleReviewStakeholders)
	s.mux.HandleFunc("/review/{slug}/recommendation/{$}", s.handleReviewRecommendation)
	s.mux.HandleFunc("/review/{slug}/publish/{$}", s.handleReviewPublish)
	s.mux.HandleFunc("/review/{slug}/delete/{$}", s.handleReviewDelete)
	s.mux.HandleFunc("/review/{slug}/documents/{$}", s.handleReviewDocuments)
	s.mux.HandleFunc("POST /review/{slug}/documents/{id}/delete/{$}", s.handleReviewDocumentDelete)
	s.mux.HandleFunc("GET /document/{id}/{$}", s.handleDocumentDownload)

	// Public
	s.mux.Handle("GET /condition/{$}", s.cached(s.handleConditionList))
	s.mux.Handle("GET /condition/{slug}/{$}", s.cached(s.handleConditionDetail))
	s.mux.Handle("GET /condition/{slug}/consultation/{$}", s.cached(s.handleConsultation))
	s.mux.HandleFunc("GET /condition/{slug}/consultation/document/{id}/{$}", s.handleConsultationDocument)
	s.mux.HandleFunc("/condition/{slug}/public/comment/{$}", s.handlePublicComment)
	s.mux.HandleFunc("/condition/{slug}/stakeholder/comment/{$}", s.handleStakeholderComment)
	s.mux.HandleFunc("GET /condition/{slug}/comment/submitted/{$}", s.handleCommentSubmitted)

	// Subscriptions
	s.mux.HandleFunc("/subscription/{$}", s.handleSubscribe)
	s.mux.HandleFunc("GET /subscription/complete/{token}/{$}", s.handleSubscriptionComplete)
	s.mux.HandleFunc("/subscription/manage/{token}/{$}", s.handleSubscriptionManage)

	// Admin
	s.mux.HandleFunc("GET /admin/stakeholders/{$}", s.handleStakeholderList)
	s.mux.HandleFunc("GET /admin/stakeholders/add/{$}", s.handleStakeholderAdd)
	s.mux.HandleFunc("POST /admin/stakeholders/add/{$}", s.handleStakeholderAdd)
	s.mux.HandleFunc("GET /admin/stakeholders/export/{$}", s.handleStakeholderExport)
	s.mux.HandleFunc("GET /admin/stakeholders/{id}/{$}", s.handleStakeholderDetail)
	s.mux.HandleFunc("/admin/stakeholders/{id}/edit/{$}", s.handleStakeholderEdit)
	s.mux.HandleFunc("/admin/stakeholders/{id}/delete/{$}", s.handleStakeholderDelete)
	s.mux.HandleFunc("/admin/stakeholders/{id}/contacts/add/{$}", s.handleContactAdd)
	s.mux.HandleFunc("/admin/contacts/{id}/edit/{$}", s.handleContactEdit)
	s.mux.HandleFunc("POST /admin/contacts/{id}/delete/{$}", s.handleContactDelete)
	s.mux.HandleFunc("GET /admin/policies/{$}", s.handlePolicyList)
	s.mux.HandleFunc("GET /admin/policies/{slug}/{$}", s.handlePolicyDetail)
	s.mux.HandleFunc("/admin/policies/{slug}/edit/{$}", s.handlePolicyEdit)
	s.mux.HandleFunc("POST /admin/policies/{slug}/archive/{$}", s.handlePolicyArchive)
	s.mux.HandleFunc("GET /admin/emails/{$}", s.handleEmails)

	// Delivery receipts
	s.mux.HandleFunc("/notify/receipt/{$}", s.handleReceipt)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("health check failed")
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

func (s *Server) render(w http.ResponseWriter, name string, data map[string]any) {
	s.renderStatus(w, http.StatusOK, name, data)
}

// renderStatus executes a page into a buffer first so a template error
// still produces a clean 500.
func (s *Server) renderStatus(w http.ResponseWriter, status int, name string, data map[string]any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Error().Str("template", name).Msg("template not found")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.log.Error().Err(err).Str("template", name).Msg("error rendering template")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func (s *Server) notFound(w http.ResponseWriter) {
	s.renderStatus(w, http.StatusNotFound, "not_found.html", map[string]any{})
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", RequestID(r.Context())).Msg("request failed")
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

// fail maps service errors to responses. It returns false when err is a
// validation error the caller should render.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) bool {
	if _, ok := review.AsValidation(err); ok {
		return false
	}
	if errors.Is(err, review.ErrNotFound) {
		s.notFound(w)
		return true
	}
	s.serverError(w, r, err)
	return true
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}

func parseIDs(values []string) []int64 {
	var ids []int64
	for _, v := range values {
		if id, ok := parseID(v); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	sc := s.cfg.Server
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", sc.Host, sc.Port),
		Handler:           s.Handler(),
		ReadTimeout:       sc.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      sc.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", "http://"+srv.Addr).Msg("server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
