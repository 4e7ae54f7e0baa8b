package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/review"
)

func stakeholderURL(id int64, parts ...string) string {
	u := "/admin/stakeholders/" + strconv.FormatInt(id, 10) + "/"
	for _, p := range parts {
		u += p + "/"
	}
	return u
}

func (s *Server) handleStakeholderList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, err := s.db.ListStakeholders(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	names, err := s.db.StakeholderPolicyNames(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	search := strings.TrimSpace(r.URL.Query().Get("q"))
	items := all
	if search != "" {
		items = nil
		term := strings.ToLower(search)
		for _, st := range all {
			if strings.Contains(strings.ToLower(st.Name), term) {
				items = append(items, st)
			}
		}
	}
	s.render(w, "stakeholder_list.html", map[string]any{
		"Stakeholders": items,
		"Policies":     names,
		"Query":        search,
	})
}

func stakeholderForm(r *http.Request) review.StakeholderInput {
	return review.StakeholderInput{
		Name:      r.PostForm.Get("name"),
		Type:      r.PostForm.Get("type"),
		Countries: r.PostForm["countries"],
		URL:       r.PostForm.Get("url"),
		Twitter:   r.PostForm.Get("twitter"),
		Comments:  r.PostForm.Get("comments"),
		IsPublic:  parseYesNo(r.PostForm.Get("is_public")),
		PolicyIDs: parseIDs(r.PostForm["policies"]),
	}
}

// stakeholderEditor serves the shared add and edit form. save receives the
// posted input and returns the stored stakeholder.
func (s *Server) stakeholderEditor(w http.ResponseWriter, r *http.Request, heading, action string, form review.StakeholderInput,
	save func(review.StakeholderInput) (*database.Stakeholder, error)) {
	policies, err := s.db.Policies().Active().List(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	data := map[string]any{
		"Heading":   heading,
		"Action":    action,
		"Form":      form,
		"Selected":  idSet(form.PolicyIDs),
		"Policies":  policies,
		"Types":     database.StakeholderTypes,
		"Countries": database.Countries,
	}

	switch r.Method {
	case http.MethodGet:
		s.render(w, "stakeholder_form.html", data)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.ParseForm()
	in := stakeholderForm(r)
	st, err := save(in)
	if err != nil {
		if s.fail(w, r, err) {
			return
		}
		ve, _ := review.AsValidation(err)
		data["Errors"] = ve.Fields
		data["Form"] = in
		data["Selected"] = idSet(in.PolicyIDs)
		s.render(w, "stakeholder_form.html", data)
		return
	}
	http.Redirect(w, r, stakeholderURL(st.ID), http.StatusFound)
}

func (s *Server) handleStakeholderAdd(w http.ResponseWriter, r *http.Request) {
	s.stakeholderEditor(w, r, "Add a stakeholder", "/admin/stakeholders/add/", review.StakeholderInput{},
		func(in review.StakeholderInput) (*database.Stakeholder, error) {
			return s.reviews.CreateStakeholder(r.Context(), in)
		})
}

// loadStakeholder fetches the stakeholder named in the path, writing a 404
// when it does not exist.
func (s *Server) loadStakeholder(w http.ResponseWriter, r *http.Request) (*database.Stakeholder, bool) {
	id, ok := parseID(r.PathValue("id"))
	if !ok {
		s.notFound(w)
		return nil, false
	}
	st, err := s.reviews.GetStakeholder(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return st, true
}

func (s *Server) handleStakeholderDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, ok := s.loadStakeholder(w, r)
	if !ok {
		return
	}
	ids, err := s.db.StakeholderPolicyIDs(ctx, st.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	var policies []database.Policy
	if len(ids) > 0 {
		if policies, err = s.db.Policies().IDs(ids).List(ctx); err != nil {
			s.serverError(w, r, err)
			return
		}
	}
	contacts, err := s.db.StakeholderContacts(ctx, st.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.render(w, "stakeholder_detail.html", map[string]any{
		"Stakeholder": st,
		"Policies":    policies,
		"Contacts":    contacts,
	})
}

func (s *Server) handleStakeholderEdit(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStakeholder(w, r)
	if !ok {
		return
	}
	ids, err := s.db.StakeholderPolicyIDs(r.Context(), st.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	public := st.IsPublic
	form := review.StakeholderInput{
		Name:      st.Name,
		Type:      st.Type,
		Countries: st.Countries,
		URL:       st.URL,
		Twitter:   st.Twitter,
		Comments:  st.Comments,
		IsPublic:  &public,
		PolicyIDs: ids,
	}
	s.stakeholderEditor(w, r, "Edit "+st.Name, stakeholderURL(st.ID, "edit"), form,
		func(in review.StakeholderInput) (*database.Stakeholder, error) {
			return s.reviews.UpdateStakeholder(r.Context(), st.ID, in)
		})
}

func (s *Server) handleStakeholderDelete(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStakeholder(w, r)
	if !ok {
		return
	}
	if r.Method == http.MethodPost {
		if err := s.reviews.DeleteStakeholder(r.Context(), st.ID); err != nil {
			s.fail(w, r, err)
			return
		}
		http.Redirect(w, r, "/admin/stakeholders/", http.StatusFound)
		return
	}
	s.render(w, "stakeholder_delete.html", map[string]any{"Stakeholder": st})
}

func contactForm(r *http.Request) review.ContactInput {
	return review.ContactInput{
		Name:  r.PostForm.Get("name"),
		Role:  r.PostForm.Get("role"),
		Email: r.PostForm.Get("email"),
		Phone: r.PostForm.Get("phone"),
	}
}

func (s *Server) contactEditor(w http.ResponseWriter, r *http.Request, st *database.Stakeholder, heading, action string, form review.ContactInput,
	save func(review.ContactInput) (*database.Contact, error)) {
	data := map[string]any{
		"Stakeholder": st,
		"Heading":     heading,
		"Action":      action,
		"Form":        form,
	}
	switch r.Method {
	case http.MethodGet:
		s.render(w, "contact_form.html", data)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.ParseForm()
	in := contactForm(r)
	if _, err := save(in); err != nil {
		if s.fail(w, r, err) {
			return
		}
		ve, _ := review.AsValidation(err)
		data["Errors"] = ve.Fields
		data["Form"] = in
		s.render(w, "contact_form.html", data)
		return
	}
	http.Redirect(w, r, stakeholderURL(st.ID), http.StatusFound)
}

func (s *Server) handleContactAdd(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStakeholder(w, r)
	if !ok {
		return
	}
	s.contactEditor(w, r, st, "Add a contact", stakeholderURL(st.ID, "contacts", "add"), review.ContactInput{},
		func(in review.ContactInput) (*database.Contact, error) {
			return s.reviews.AddContact(r.Context(), st.ID, in)
		})
}

func (s *Server) loadContact(w http.ResponseWriter, r *http.Request) (*database.Contact, bool) {
	id, ok := parseID(r.PathValue("id"))
	if !ok {
		s.notFound(w)
		return nil, false
	}
	c, err := s.reviews.GetContact(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return c, true
}

func (s *Server) handleContactEdit(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContact(w, r)
	if !ok {
		return
	}
	st := &database.Stakeholder{ID: c.StakeholderID, Name: c.StakeholderName}
	form := review.ContactInput{Name: c.Name, Role: c.Role, Email: c.Email, Phone: c.Phone}
	action := "/admin/contacts/" + strconv.FormatInt(c.ID, 10) + "/edit/"
	s.contactEditor(w, r, st, "Edit contact", action, form, func(in review.ContactInput) (*database.Contact, error) {
		return s.reviews.UpdateContact(r.Context(), c.ID, in)
	})
}

func (s *Server) handleContactDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r.PathValue("id"))
	if !ok {
		s.notFound(w)
		return
	}
	c, err := s.reviews.DeleteContact(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.Redirect(w, r, stakeholderURL(c.StakeholderID), http.StatusFound)
}
