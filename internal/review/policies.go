package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/markdown"
)

// PolicyInput is the condition edit form. The slug never changes so public
// links stay stable.
type PolicyInput struct {
	Name           string
	Condition      string
	Summary        string
	Keywords       string
	Ages           []string
	NextReview     string
	Recommendation *bool
}

// GetPolicy returns a policy by slug or an error wrapping ErrNotFound.
func (s *Service) GetPolicy(ctx context.Context, slug string) (*database.Policy, error) {
	p, err := s.db.GetPolicyBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("condition %q: %w", slug, ErrNotFound)
	}
	return p, nil
}

// UpdatePolicy validates and saves the editable fields of a condition.
func (s *Service) UpdatePolicy(ctx context.Context, slug string, in PolicyInput) (*database.Policy, error) {
	p, err := s.GetPolicy(ctx, slug)
	if err != nil {
		return nil, err
	}

	errs := fieldErrors{}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		errs.add("name", "Enter the name of the condition")
	}
	var ages []string
	for _, a := range in.Ages {
		if !database.IsChoice(database.AgeGroups, a) {
			errs.add("ages", fmt.Sprintf("%s is not a valid choice", a))
			continue
		}
		ages = append(ages, a)
	}
	if len(ages) == 0 {
		errs.add("ages", "Select at least one age group")
	}
	if in.Recommendation == nil {
		errs.add("recommendation", "Select whether screening is recommended")
	}
	var next *string
	if v := strings.TrimSpace(in.NextReview); v != "" {
		if _, err := database.ParseDate(v); err != nil {
			errs.add("next_review", "Enter a real date")
		} else {
			next = &v
		}
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	p.Name = name
	p.Ages = ages
	p.Recommendation = *in.Recommendation
	p.NextReview = next
	p.Condition = in.Condition
	p.ConditionHTML = markdown.Convert(in.Condition)
	p.Summary = in.Summary
	p.SummaryHTML = markdown.Convert(in.Summary)
	p.Keywords = strings.TrimSpace(in.Keywords)
	if err := s.db.UpdatePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("updating condition: %w", err)
	}

	s.log.Info().Str("policy", p.Slug).Msg("condition updated")
	if s.pages != nil {
		s.pages.InvalidatePolicies(p.Slug)
	}
	return p, nil
}

// SetPolicyActive archives a condition, hiding it from the public pages
// and subscription forms, or restores it.
func (s *Service) SetPolicyActive(ctx context.Context, slug string, active bool) (*database.Policy, error) {
	p, err := s.GetPolicy(ctx, slug)
	if err != nil {
		return nil, err
	}
	if p.IsActive == active {
		return p, nil
	}
	p.IsActive = active
	if err := s.db.UpdatePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("updating condition: %w", err)
	}

	s.log.Info().Str("policy", p.Slug).Bool("active", active).Msg("condition archive state changed")
	if s.pages != nil {
		s.pages.InvalidatePolicies(p.Slug)
	}
	return p, nil
}
