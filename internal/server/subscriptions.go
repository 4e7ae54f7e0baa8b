package server

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/signer"
)

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policies, err := s.db.Policies().Active().List(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	data := map[string]any{
		"Policies": policies,
		"Selected": idSet(parseIDs(r.URL.Query()["policies"])),
		"Email":    "",
		"Errors":   map[string]string{},
	}

	switch r.Method {
	case http.MethodGet:
		s.render(w, "subscribe.html", data)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.ParseForm()
	email := strings.TrimSpace(r.PostForm.Get("email"))
	confirm := strings.TrimSpace(r.PostForm.Get("email_confirmation"))
	ids := activeIDs(policies, parseIDs(r.PostForm["policies"]))

	errs := map[string]string{}
	if !validEmail(email) {
		errs["email"] = "Enter an email address in the correct format, like name@example.com."
	}
	if !strings.EqualFold(email, confirm) {
		errs["email_confirmation"] = "Your email and email confirmation do not match"
	}
	if len(ids) == 0 {
		errs["policies"] = "Select at least one condition"
	}
	if len(errs) > 0 {
		data["Errors"] = errs
		data["Email"] = email
		data["Selected"] = idSet(ids)
		s.render(w, "subscribe.html", data)
		return
	}

	sub, err := s.db.GetSubscriptionByEmail(ctx, email)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if sub == nil {
		sub, err = s.db.CreateSubscription(ctx, email, ids)
	} else {
		err = s.db.UpdateSubscriptionPolicies(ctx, sub.ID, append(sub.PolicyIDs, ids...))
	}
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	token, err := s.signer.SignSubscription(sub.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.log.Info().Int64("subscription", sub.ID).Int("count", len(ids)).Msg("subscription saved")
	http.Redirect(w, r, "/subscription/complete/"+token+"/", http.StatusFound)
}

// loadSubscription resolves the signed token in the path. An invalid token
// and a deleted subscription are both 404.
func (s *Server) loadSubscription(w http.ResponseWriter, r *http.Request) (*database.Subscription, bool) {
	id, err := s.signer.VerifySubscription(r.PathValue("token"))
	if err != nil {
		if !errors.Is(err, signer.ErrInvalidToken) {
			s.log.Warn().Err(err).Msg("subscription token rejected")
		}
		s.notFound(w)
		return nil, false
	}
	sub, err := s.db.GetSubscription(r.Context(), id)
	if err != nil {
		s.serverError(w, r, err)
		return nil, false
	}
	if sub == nil {
		s.notFound(w)
		return nil, false
	}
	return sub, true
}

func (s *Server) handleSubscriptionComplete(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.loadSubscription(w, r)
	if !ok {
		return
	}
	policies, err := s.db.Policies().IDs(sub.PolicyIDs).List(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.render(w, "subscription_complete.html", map[string]any{
		"Subscription": sub,
		"Policies":     policies,
		"Token":        r.PathValue("token"),
	})
}

func (s *Server) handleSubscriptionManage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub, ok := s.loadSubscription(w, r)
	if !ok {
		return
	}
	token := r.PathValue("token")
	policies, err := s.db.Policies().Active().List(ctx)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	data := map[string]any{
		"Subscription": sub,
		"Policies":     policies,
		"Selected":     idSet(sub.PolicyIDs),
		"Token":        token,
		"Errors":       map[string]string{},
	}

	if r.Method != http.MethodPost {
		s.render(w, "subscription_manage.html", data)
		return
	}

	r.ParseForm()
	if r.PostForm.Get("action") == "delete" {
		if err := s.db.DeleteSubscription(ctx, sub.ID); err != nil {
			s.serverError(w, r, err)
			return
		}
		s.log.Info().Int64("subscription", sub.ID).Msg("subscription deleted")
		s.render(w, "subscription_deleted.html", map[string]any{})
		return
	}

	ids := activeIDs(policies, parseIDs(r.PostForm["policies"]))
	if len(ids) == 0 {
		data["Errors"] = map[string]string{"policies": "Select at least one condition"}
		s.render(w, "subscription_manage.html", data)
		return
	}
	if err := s.db.UpdateSubscriptionPolicies(ctx, sub.ID, ids); err != nil {
		s.serverError(w, r, err)
		return
	}
	http.Redirect(w, r, "/subscription/complete/"+token+"/", http.StatusFound)
}

// activeIDs keeps the requested ids that name one of policies.
func activeIDs(policies []database.Policy, requested []int64) []int64 {
	known := make(map[int64]bool, len(policies))
	for _, p := range policies {
		known[p.ID] = true
	}
	var ids []int64
	for _, id := range requested {
		if known[id] {
			ids = append(ids, id)
			known[id] = false
		}
	}
	return ids
}

func validEmail(v string) bool {
	addr, err := mail.ParseAddress(v)
	return err == nil && addr.Address == v && strings.Contains(v, "@")
}
