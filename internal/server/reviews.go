package server

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/review"
)

type reviewRow struct {
	Review database.Review
	Status review.Status
}

func (s *Server) handleReviewList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := s.db.Reviews().ExcludeLegacy().OrderBy("r.review_start DESC, r.name")
	search := strings.TrimSpace(r.URL.Query().Get("q"))
	if search != "" {
		q = q.Search(search)
	}
	reviews, err := q.List(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	memo := review.NewStatusMemo(s.db, s.db.Today())
	rows := make([]reviewRow, 0, len(reviews))
	for _, rv := range reviews {
		status, err := memo.Status(ctx, &rv)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		rows = append(rows, reviewRow{Review: rv, Status: status})
	}

	s.render(w, "review_list.html", map[string]any{
		"Reviews": rows,
		"Query":   search,
	})
}

func (s *Server) handleReviewAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policies, err := s.db.Policies().Active().List(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	data := map[string]any{
		"Policies":    policies,
		"ReviewTypes": database.ReviewTypes,
		"Form":        review.CreateInput{},
		"Selected":    map[int64]bool{},
	}

	switch r.Method {
	case http.MethodGet:
		s.render(w, "review_add.html", data)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.ParseForm()
	in := review.CreateInput{
		Name:        r.PostForm.Get("name"),
		ReviewTypes: r.PostForm["review_type"],
		PolicyIDs:   parseIDs(r.PostForm["policies"]),
		Summary:     r.PostForm.Get("summary"),
		Background:  r.PostForm.Get("background"),
		Manager:     r.PostForm.Get("manager"),
		ReviewStart: r.PostForm.Get("review_start"),
	}
	rv, err := s.reviews.Create(ctx, in)
	if err != nil {
		if s.fail(w, r, err) {
			return
		}
		ve, _ := review.AsValidation(err)
		data["Errors"] = ve.Fields
		data["Form"] = in
		data["Selected"] = idSet(in.PolicyIDs)
		s.render(w, "review_add.html", data)
		return
	}
	http.Redirect(w, r, reviewURL(rv.Slug), http.StatusFound)
}

func reviewURL(slug string, parts ...string) string {
	u := "/review/" + slug + "/"
	for _, p := range parts {
		u += p + "/"
	}
	return u
}

// loadReview fetches the review named in the path, writing a 404 when it
// does not exist.
func (s *Server) loadReview(w http.ResponseWriter, r *http.Request) (*database.Review, bool) {
	rv, err := s.reviews.Get(r.Context(), r.PathValue("slug"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return rv, true
}

func (s *Server) handleReviewDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rv, ok := s.loadReview(w, r)
	if !ok {
		return
	}

	in, err := review.LoadStatusInput(ctx, s.db, rv)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	docs, err := s.db.ListReviewDocuments(ctx, rv.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	stakeholders, err := s.db.GetReviewStakeholders(ctx, rv.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	openSent, err := s.db.Emails().ForReview(rv.ID, database.KindOpenConsultation).Count(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	decisionSent, err := s.db.Emails().ForReview(rv.ID, database.KindDecisionPublished).Count(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	s.render(w, "review_detail.html", map[string]any{
		"Review":         rv,
		"Status":         review.DeriveStatus(in, s.db.Today()),
		"Policies":       in.Policies,
		"Documents":      docs,
		"Stakeholders":   stakeholders,
		"OpenEmails":     openSent,
		"DecisionEmails": decisionSent,
		"Missing":        missingDocuments(rv, in.DocumentTypes),
	})
}

func missingDocuments(rv *database.Review, have []string) []string {
	present := make(map[string]bool, len(have))
	for _, t := range have {
		present[t] = true
	}
	var missing []string
	for _, t := range review.RequiredDocumentTypes(rv.ReviewType) {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	return missing
}

func (s *Server) handleReviewDates(w http.ResponseWriter, r *http.Request) {
	rv, ok := s.loadReview(w, r)
	if !ok {
		return
	}
	form := review.DatesInput{
		ReviewStart:       deref(rv.ReviewStart),
		ReviewEnd:         deref(rv.ReviewEnd),
		ConsultationStart: deref(rv.ConsultationStart),
		ConsultationEnd:   deref(rv.ConsultationEnd),
		NSCMeetingDate:    deref(rv.NSCMeetingDate),
		Confirmed:         rv.DatesConfirmed,
	}
	data := map[string]any{"Review": rv, "Form": form}

	if r.Method != http.MethodPost {
		s.render(w, "review_dates.html", data)
		return
	}

	r.ParseForm()
	form = review.DatesInput{
		ReviewStart:       r.PostForm.Get("review_start"),
		ReviewEnd:         r.PostForm.Get("review_end"),
		ConsultationStart: r.PostForm.Get("consultation_start"),
		ConsultationEnd:   r.PostForm.Get("consultation_end"),
		NSCMeetingDate:    r.PostForm.Get("nsc_meeting_date"),
		Confirmed:         checked(r.PostForm.Get("dates_confirmed")),
	}
	if _, err := s.reviews.UpdateDates(r.Context(), rv.Slug, form); err != nil {
		if s.fail(w, r, err) {
			return
		}
		ve, _ := review.AsValidation(err)
		data["Errors"] = ve.Fields
		data["Form"] = form
		s.render(w, "review_dates.html", data)
		return
	}
	http.Redirect(w, r, reviewURL(rv.Slug), http.StatusFound)
}

func (s *Server) handleReviewStakeholders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rv, ok := s.loadReview(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost {
		r.ParseForm()
		if err := s.reviews.ConfirmStakeholders(ctx, rv.Slug, parseIDs(r.PostForm["stakeholders"])); err != nil {
			s.fail(w, r, err)
			return
		}
		http.Redirect(w, r, reviewURL(rv.Slug), http.StatusFound)
		return
	}

	candidates, err := s.db.GetPolicyStakeholders(ctx, rv.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	linked, err := s.db.GetReviewStakeholders(ctx, rv.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	selected := make(map[int64]bool, len(linked))
	for _, st := range linked {
		selected[st.ID] = true
	}
	s.render(w, "review_stakeholders.html", map[string]any{
		"Review":       rv,
		"Stakeholders": candidates,
		"Selected":     selected,
	})
}

func (s *Server) handleReviewRecommendation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rv, ok := s.loadReview(w, r)
	if !ok {
		return
	}
	links, err := s.db.GetReviewPolicies(ctx, rv.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	if r.Method == http.MethodPost {
		r.ParseForm()
		in := review.RecommendationInput{
			Recommendation: parseYesNo(r.PostForm.Get("recommendation")),
			Summary:        r.PostForm.Get("summary"),
		}
		for _, l := range links {
			prefix := fmt.Sprintf("policy-%d-", l.PolicyID)
			in.Policies = append(in.Policies, review.PolicyDraft{
				PolicyID:       l.PolicyID,
				Summary:        r.PostForm.Get(prefix + "summary"),
				Recommendation: parseYesNo(r.PostForm.Get(prefix + "recommendation")),
			})
		}
		if err := s.reviews.SetRecommendation(ctx, rv.Slug, in); err != nil {
			if s.fail(w, r, err) {
				return
			}
			ve, _ := review.AsValidation(err)
			s.render(w, "review_recommendation.html", map[string]any{
				"Review": rv, "Policies": links, "Errors": ve.Fields,
			})
			return
		}
		http.Redirect(w, r, reviewURL(rv.Slug), http.StatusFound)
		return
	}

	s.render(w, "review_recommendation.html", map[string]any{"Review": rv, "Policies": links})
}

func (s *Server) handleReviewPublish(w http.ResponseWriter, r *http.Request) {
	rv, ok := s.loadReview(w, r)
	if !ok {
		return
	}
	if r.Method == http.MethodPost {
		if err := s.reviews.Publish(r.Context(), rv.Slug); err != nil {
			if s.fail(w, r, err) {
				return
			}
			ve, _ := review.AsValidation(err)
			s.render(w, "review_publish.html", map[string]any{"Review": rv, "Errors": ve.Fields})
			return
		}
		http.Redirect(w, r, reviewURL(rv.Slug), http.StatusFound)
		return
	}
	s.render(w, "review_publish.html", map[string]any{"Review": rv})
}

func (s *Server) handleReviewDelete(w http.ResponseWriter, r *http.Request) {
	rv, ok := s.loadReview(w, r)
	if !ok {
		return
	}
	if r.Method == http.MethodPost {
		if err := s.reviews.Delete(r.Context(), rv.Slug); err != nil {
			s.fail(w, r, err)
			return
		}
		http.Redirect(w, r, "/review/", http.StatusFound)
		return
	}
	s.render(w, "review_delete.html", map[string]any{"Review": rv})
}

const maxUploadBytes = 32 << 20

func (s *Server) handleReviewDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rv, ok := s.loadReview(w, r)
	if !ok {
		return
	}
	data := map[string]any{"Review": rv, "DocumentTypes": database.DocumentTypes}

	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		errs := map[string]string{}
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			errs["upload"] = "The selected file must be smaller than 32MB"
		} else if file, header, err := r.FormFile("upload"); err != nil {
			errs["upload"] = "Select a file to upload"
		} else {
			defer file.Close()
			_, err := s.reviews.AddDocument(ctx, rv.Slug, r.FormValue("document_type"), header.Filename, file)
			if err == nil {
				http.Redirect(w, r, reviewURL(rv.Slug, "documents"), http.StatusFound)
				return
			}
			if s.fail(w, r, err) {
				return
			}
			ve, _ := review.AsValidation(err)
			errs = ve.Fields
		}
		data["Errors"] = errs
	}

	docs, err := s.db.ListReviewDocuments(ctx, rv.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	data["Documents"] = docs
	s.render(w, "review_documents.html", data)
}

func (s *Server) handleReviewDocumentDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r.PathValue("id"))
	if !ok {
		s.notFound(w)
		return
	}
	slug := r.PathValue("slug")
	if err := s.reviews.DeleteDocument(r.Context(), slug, id); err != nil {
		s.fail(w, r, err)
		return
	}
	http.Redirect(w, r, reviewURL(slug, "documents"), http.StatusFound)
}

func (s *Server) handleDocumentDownload(w http.ResponseWriter, r *http.Request) {
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
	if doc == nil {
		s.notFound(w)
		return
	}
	s.serveDocument(w, r, doc)
}

// serveDocument streams a stored upload as an attachment named after the
// original file.
func (s *Server) serveDocument(w http.ResponseWriter, r *http.Request, doc *database.Document) {
	f, err := s.store.Open(doc.Upload)
	if err != nil {
		s.log.Warn().Err(err).Str("upload", doc.Upload).Msg("document file missing")
		s.notFound(w)
		return
	}
	defer f.Close()

	name := doc.Name
	if name == "" {
		name = path.Base(doc.Upload)
	}
	contentType := "application/pdf"
	if strings.HasSuffix(strings.ToLower(name), ".odt") {
		contentType = "application/vnd.oasis.opendocument.text"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := io.Copy(w, f); err != nil {
		s.log.Warn().Err(err).Int64("document", doc.ID).Str("request_id", RequestID(r.Context())).Msg("document download interrupted")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func checked(v string) bool {
	switch strings.ToLower(v) {
	case "on", "yes", "true", "1":
		return true
	}
	return false
}

func parseYesNo(v string) *bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true":
		b := true
		return &b
	case "no", "false":
		b := false
		return &b
	}
	return nil
}
