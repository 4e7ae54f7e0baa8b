package server

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/TobiSchelling/nscreview/internal/cache"
	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/notify"
	"github.com/TobiSchelling/nscreview/internal/review"
)

// pageRecorder buffers a response so it can be cached.
type pageRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (p *pageRecorder) Header() http.Header { return p.header }

func (p *pageRecorder) WriteHeader(status int) {
	if p.status == 0 {
		p.status = status
	}
}

func (p *pageRecorder) Write(b []byte) (int, error) {
	if p.status == 0 {
		p.status = http.StatusOK
	}
	return p.body.Write(b)
}

// cached serves public GET pages through the page cache. Only 200
// responses are stored.
func (s *Server) cached(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.RequestURI()
		if page, ok := s.cache.Get(key); ok {
			w.Header().Set("Content-Type", page.ContentType)
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(page.Status)
			w.Write(page.Body)
			return
		}

		rec := &pageRecorder{header: make(http.Header)}
		h(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		for k, v := range rec.header {
			w.Header()[k] = v
		}
		w.Header().Set("X-Cache", "MISS")
		w.WriteHeader(rec.status)
		w.Write(rec.body.Bytes())

		if rec.status == http.StatusOK {
			s.cache.Set(key, cache.Page{
				Status:      rec.status,
				ContentType: rec.header.Get("Content-Type"),
				Body:        bytes.Clone(rec.body.Bytes()),
			})
		}
	})
}

type conditionRow struct {
	Policy         database.Policy
	InConsultation bool
}

func (s *Server) handleConditionList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	today := s.db.Today()
	params := r.URL.Query()

	q := s.db.Policies().Active()
	if name := strings.TrimSpace(params.Get("name")); name != "" {
		q = q.Search(name)
	}
	switch params.Get("comments") {
	case "open":
		q = q.OpenForComments(today)
	case "closed":
		q = q.ClosedForComments(today)
	}
	if age := params.Get("affects"); database.IsChoice(database.AgeGroups, age) {
		q = q.Affects(age)
	}
	if screen := parseYesNo(params.Get("screen")); screen != nil {
		q = q.Recommended(*screen)
	}

	policies, err := q.List(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	open, err := s.db.Policies().Active().OpenForComments(today).List(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	inConsultation := make(map[int64]bool, len(open))
	for _, p := range open {
		inConsultation[p.ID] = true
	}

	rows := make([]conditionRow, len(policies))
	for i, p := range policies {
		rows[i] = conditionRow{Policy: p, InConsultation: inConsultation[p.ID]}
	}
	s.render(w, "condition_list.html", map[string]any{
		"Conditions": rows,
		"Filter":     params,
		"AgeGroups":  database.AgeGroups,
	})
}

// loadPolicy fetches the active condition named in the path. Archived
// conditions are 404 on the public site.
func (s *Server) loadPolicy(w http.ResponseWriter, r *http.Request) (*database.Policy, bool) {
	p, err := s.db.GetPolicyBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		s.serverError(w, r, err)
		return nil, false
	}
	if p == nil || !p.IsActive {
		s.notFound(w)
		return nil, false
	}
	return p, true
}

func (s *Server) handleConditionDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := s.loadPolicy(w, r)
	if !ok {
		return
	}
	today := s.db.Today()

	reviews, err := s.db.Reviews().ForPolicy(p.ID).List(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	memo := review.NewStatusMemo(s.db, today)
	rows := make([]reviewRow, 0, len(reviews))
	for _, rv := range reviews {
		status, err := memo.Status(ctx, &rv)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		rows = append(rows, reviewRow{Review: rv, Status: status})
	}
	current, err := s.db.Reviews().ForPolicy(p.ID).OpenForComments(today).First(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	s.render(w, "condition_detail.html", map[string]any{
		"Policy":       p,
		"Reviews":      rows,
		"Consultation": current,
	})
}

// loadConsultation resolves the policy in the path and the review currently
// open for comments on it. Either missing is a 404.
func (s *Server) loadConsultation(w http.ResponseWriter, r *http.Request) (*database.Policy, *database.Review, bool) {
	p, ok := s.loadPolicy(w, r)
	if !ok {
		return nil, nil, false
	}
	rv, err := s.db.Reviews().ForPolicy(p.ID).OpenForComments(s.db.Today()).First(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return nil, nil, false
	}
	if rv == nil {
		s.notFound(w)
		return nil, nil, false
	}
	return p, rv, true
}

func (s *Server) handleConsultation(w http.ResponseWriter, r *http.Request) {
	p, rv, ok := s.loadConsultation(w, r)
	if !ok {
		return
	}
	docs, err := s.db.ListReviewDocuments(r.Context(), rv.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.render(w, "consultation.html", map[string]any{
		"Policy":    p,
		"Review":    rv,
		"Documents": docs,
		"Email":     s.cfg.Notify.CommentEmail,
	})
}

// handleConsultationDocument serves a document of the review currently
// open for comments on the condition.
func (s *Server) handleConsultationDocument(w http.ResponseWriter, r *http.Request) {
	_, rv, ok := s.loadConsultation(w, r)
	if !ok {
		return
	}
	id, ok := parseID(r.PathValue("id"))
	if !ok {
		s.notFound(w)
		return
	}
	doc, err := s.db.GetDocument(r.Context(), id)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if doc == nil || doc.ReviewID == nil || *doc.ReviewID != rv.ID {
		s.notFound(w)
		return
	}
	s.serveDocument(w, r, doc)
}

// commentField is one free-text question on the public comment form.
type commentField struct {
	Name  string
	Label string
}

var publicCommentFields = []commentField{
	{"comment_affected", "Please tell us if this condition has affected you, your family or your friends?"},
	{"comment_evidence", "Do you have any comments on the evidence considered by the UK NSC in the review? For instance, was any important evidence missed?"},
	{"comment_discussion", "Do you have any comments on the discussion, conclusion or recommendation in the review?"},
	{"comment_recommendation", "Do you think screening should or should not be recommended? Why?"},
	{"comment_alternatives", "There could be many alternatives to a screening programme. How else do you think the NHS or the government could help people with the condition?"},
	{"comment_other", "Do you have any other recommendations?"},
}

const (
	honeypotField = "backup_email"

	limitHeadline = "You've reached the daily form submission limit."
	limitDetail   = "You can try again tomorrow, or Please email uknsc@dhsc.gov.uk if you have any queries."
	providerLimit = "You've reached the daily form submission limit.\n You can try again tomorrow, or go back to the previous page to download the form and submit it via email."

	submitFailed = "There was a problem submitting your comment. Please try again."
)

// commentForm collects field and form-level errors for a comment submission.
type commentForm struct {
	values url.Values
	fields map[string]string
	form   []string
}

func newCommentForm(values url.Values) *commentForm {
	f := &commentForm{values: values, fields: map[string]string{}}
	if strings.TrimSpace(values.Get(honeypotField)) != "" {
		f.form = append(f.form, "Invalid email address")
	}
	return f
}

func (f *commentForm) get(name string) string {
	return strings.TrimSpace(f.values.Get(name))
}

func (f *commentForm) required(name, msg string) {
	if f.get(name) == "" {
		f.fields[name] = msg
	}
}

func (f *commentForm) email() {
	v := f.get("email")
	if v == "" {
		f.fields["email"] = "Enter your email address"
		return
	}
	if !validEmail(v) {
		f.fields["email"] = "Enter an email address in the correct format, like name@example.com."
	}
}

func (f *commentForm) yesNo(name, msg string) {
	if parseYesNo(f.get(name)) == nil {
		f.fields[name] = msg
	}
}

func (f *commentForm) valid() bool {
	return len(f.fields) == 0 && len(f.form) == 0
}

func yesNoText(v string) string {
	if b := parseYesNo(v); b != nil && *b {
		return "yes"
	}
	return "no"
}

func (s *Server) handlePublicComment(w http.ResponseWriter, r *http.Request) {
	s.handleComment(w, r, "public_comment.html", s.cfg.Notify.Templates.PublicComment,
		func(f *commentForm, p *database.Policy) map[string]any {
			f.required("name", "Enter your full name.")
			f.email()
			f.yesNo("notify", "Select yes if you would to be notified when the NSC have completed the review.")
			commented := false
			for _, c := range publicCommentFields {
				if f.get(c.Name) != "" {
					commented = true
					break
				}
			}
			if !commented {
				f.form = append(f.form, "Please submit at least one comment.")
			}

			personalisation := map[string]any{
				"name":      f.get("name"),
				"email":     f.get("email"),
				"notify":    yesNoText(f.get("notify")),
				"condition": p.Name,
			}
			for _, c := range publicCommentFields {
				personalisation[c.Name] = f.get(c.Name)
			}
			return personalisation
		})
}

func (s *Server) handleStakeholderComment(w http.ResponseWriter, r *http.Request) {
	s.handleComment(w, r, "stakeholder_comment.html", s.cfg.Notify.Templates.StakeholderComment,
		func(f *commentForm, p *database.Policy) map[string]any {
			f.required("name", "Enter your full name.")
			f.email()
			f.yesNo("publish", "Select yes if you would like to shown as a contributor to this consultation.")
			f.yesNo("behalf", "Select yes if this is an official response on behalf of your organisation.")
			f.required("comment", "Enter your comment")

			return map[string]any{
				"name":         f.get("name"),
				"email":        f.get("email"),
				"organisation": f.get("organisation"),
				"role":         f.get("role"),
				"publish":      yesNoText(f.get("publish")),
				"behalf":       yesNoText(f.get("behalf")),
				"comment":      f.get("comment"),
				"condition":    p.Name,
			}
		})
}

// handleComment runs a consultation comment form. validate records errors
// on the form and returns the personalisation sent to the comment inbox.
func (s *Server) handleComment(w http.ResponseWriter, r *http.Request, page, templateID string,
	validate func(*commentForm, *database.Policy) map[string]any) {
	p, rv, ok := s.loadConsultation(w, r)
	if !ok {
		return
	}
	data := map[string]any{
		"Policy":        p,
		"Review":        rv,
		"CommentFields": publicCommentFields,
		"Form":          url.Values{"condition": {p.Name}},
		"Errors":        map[string]string{},
	}

	switch r.Method {
	case http.MethodGet:
		s.render(w, page, data)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.comments.Allow(clientIP(r)) {
		s.log.Warn().Str("ip", clientIP(r)).Str("condition", p.Slug).Msg("comment rate limit exceeded")
		s.limitExceeded(w, limitHeadline, limitDetail)
		return
	}

	r.ParseForm()
	form := newCommentForm(r.PostForm)
	personalisation := validate(form, p)
	if form.valid() {
		err := s.submitComment(r.Context(), templateID, personalisation)
		if err == nil {
			http.Redirect(w, r, "/condition/"+p.Slug+"/comment/submitted/", http.StatusFound)
			return
		}
		if notify.IsRateLimited(err) {
			s.log.Warn().Err(err).Str("condition", p.Slug).Msg("notify rate limit reached")
			headline, detail, _ := strings.Cut(providerLimit, "\n")
			s.limitExceeded(w, headline, strings.TrimSpace(detail))
			return
		}
		s.log.Error().Err(err).Str("condition", p.Slug).Msg("comment submission failed")
		form.form = append(form.form, submitFailed)
	}

	data["Form"] = form.values
	data["Errors"] = form.fields
	data["FormErrors"] = form.form
	s.render(w, page, data)
}

func (s *Server) submitComment(ctx context.Context, templateID string, personalisation map[string]any) error {
	_, err := s.notify.SendEmail(ctx, notify.SendRequest{
		EmailAddress:    s.cfg.Notify.CommentEmail,
		TemplateID:      templateID,
		Personalisation: personalisation,
	})
	return err
}

func (s *Server) limitExceeded(w http.ResponseWriter, headline, detail string) {
	s.renderStatus(w, http.StatusTooManyRequests, "limit_exceeded.html", map[string]any{
		"Headline": headline,
		"Detail":   detail,
	})
}

func (s *Server) handleCommentSubmitted(w http.ResponseWriter, r *http.Request) {
	p, rv, ok := s.loadConsultation(w, r)
	if !ok {
		return
	}
	s.render(w, "comment_submitted.html", map[string]any{"Policy": p, "Review": rv})
}
