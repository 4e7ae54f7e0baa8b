package server

import (
	"net/http"
	"strings"

	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/review"
)

func (s *Server) handlePolicyList(w http.ResponseWriter, r *http.Request) {
	q := s.db.Policies()
	search := strings.TrimSpace(r.URL.Query().Get("q"))
	if search != "" {
		q = q.Search(search)
	}
	policies, err := q.List(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.render(w, "policy_list.html", map[string]any{
		"Policies": policies,
		"Query":    search,
	})
}

// loadAdminPolicy fetches the condition named in the path, archived or not.
func (s *Server) loadAdminPolicy(w http.ResponseWriter, r *http.Request) (*database.Policy, bool) {
	p, err := s.reviews.GetPolicy(r.Context(), r.PathValue("slug"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return p, true
}

func (s *Server) handlePolicyDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := s.loadAdminPolicy(w, r)
	if !ok {
		return
	}
	reviews, err := s.db.Reviews().ForPolicy(p.ID).OrderBy("r.review_start DESC, r.name").List(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	stakeholders, err := s.db.InterestedStakeholders(ctx, p.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.render(w, "policy_detail.html", map[string]any{
		"Policy":       p,
		"Reviews":      reviews,
		"Stakeholders": stakeholders,
	})
}

func (s *Server) handlePolicyEdit(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadAdminPolicy(w, r)
	if !ok {
		return
	}
	recommendation := p.Recommendation
	data := map[string]any{
		"Policy": p,
		"Ages":   database.AgeGroups,
		"Form": review.PolicyInput{
			Name:           p.Name,
			Condition:      p.Condition,
			Summary:        p.Summary,
			Keywords:       p.Keywords,
			Ages:           p.Ages,
			NextReview:     deref(p.NextReview),
			Recommendation: &recommendation,
		},
	}

	switch r.Method {
	case http.MethodGet:
		s.render(w, "policy_edit.html", data)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.ParseForm()
	in := review.PolicyInput{
		Name:           r.PostForm.Get("name"),
		Condition:      r.PostForm.Get("condition"),
		Summary:        r.PostForm.Get("summary"),
		Keywords:       r.PostForm.Get("keywords"),
		Ages:           r.PostForm["ages"],
		NextReview:     r.PostForm.Get("next_review"),
		Recommendation: parseYesNo(r.PostForm.Get("recommendation")),
	}
	if _, err := s.reviews.UpdatePolicy(r.Context(), p.Slug, in); err != nil {
		if s.fail(w, r, err) {
			return
		}
		ve, _ := review.AsValidation(err)
		data["Errors"] = ve.Fields
		data["Form"] = in
		s.render(w, "policy_edit.html", data)
		return
	}
	http.Redirect(w, r, "/admin/policies/"+p.Slug+"/", http.StatusFound)
}

// handlePolicyArchive archives a condition, or restores it when the form
// posts action=restore.
func (s *Server) handlePolicyArchive(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	active := r.PostForm.Get("action") == "restore"
	p, err := s.reviews.SetPolicyActive(r.Context(), r.PathValue("slug"), active)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/admin/policies/"+p.Slug+"/", http.StatusFound)
}
