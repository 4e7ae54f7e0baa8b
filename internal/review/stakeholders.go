package review

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"github.com/TobiSchelling/nscreview/internal/database"
)

// StakeholderInput is the add and edit stakeholder form.
type StakeholderInput struct {
	Name      string
	Type      string
	Countries []string
	URL       string
	Twitter   string
	Comments  string
	IsPublic  *bool
	PolicyIDs []int64
}

func (in StakeholderInput) validate() (*database.Stakeholder, error) {
	errs := fieldErrors{}
	st := &database.Stakeholder{
		Name:     strings.TrimSpace(in.Name),
		Type:     in.Type,
		URL:      strings.TrimSpace(in.URL),
		Twitter:  strings.TrimSpace(in.Twitter),
		Comments: strings.TrimSpace(in.Comments),
	}
	if st.Name == "" {
		errs.add("name", "Enter the name of the stakeholder")
	}
	if !database.IsChoice(database.StakeholderTypes, st.Type) {
		errs.add("type", "Select the type of stakeholder")
	}
	for _, c := range in.Countries {
		if !database.IsChoice(database.Countries, c) {
			errs.add("countries", fmt.Sprintf("%s is not a valid choice", c))
			continue
		}
		st.Countries = append(st.Countries, c)
	}
	if st.URL != "" {
		if u, err := url.Parse(st.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs.add("url", "Enter a valid URL")
		}
	}
	if in.IsPublic == nil {
		errs.add("is_public", "Select whether to publish this organisation online")
	} else {
		st.IsPublic = *in.IsPublic
	}
	return st, errs.err()
}

// GetStakeholder returns a stakeholder or an error wrapping ErrNotFound.
func (s *Service) GetStakeholder(ctx context.Context, id int64) (*database.Stakeholder, error) {
	st, err := s.db.GetStakeholder(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("stakeholder %d: %w", id, ErrNotFound)
	}
	return st, nil
}

// CreateStakeholder validates and stores a stakeholder with its conditions
// of interest.
func (s *Service) CreateStakeholder(ctx context.Context, in StakeholderInput) (*database.Stakeholder, error) {
	st, err := in.validate()
	if err != nil {
		return nil, err
	}
	if err := s.db.CreateStakeholder(ctx, st, in.PolicyIDs); err != nil {
		return nil, fmt.Errorf("creating stakeholder: %w", err)
	}
	s.log.Info().Int64("stakeholder", st.ID).Str("name", st.Name).Msg("stakeholder created")
	return st, nil
}

// UpdateStakeholder replaces a stakeholder's details and conditions.
func (s *Service) UpdateStakeholder(ctx context.Context, id int64, in StakeholderInput) (*database.Stakeholder, error) {
	existing, err := s.GetStakeholder(ctx, id)
	if err != nil {
		return nil, err
	}
	st, err := in.validate()
	if err != nil {
		return nil, err
	}
	st.ID = existing.ID
	st.CreatedAt = existing.CreatedAt
	if err := s.db.UpdateStakeholder(ctx, st, in.PolicyIDs); err != nil {
		return nil, fmt.Errorf("updating stakeholder: %w", err)
	}
	s.log.Info().Int64("stakeholder", st.ID).Msg("stakeholder updated")
	return st, nil
}

// DeleteStakeholder removes a stakeholder, its contacts and its review links.
func (s *Service) DeleteStakeholder(ctx context.Context, id int64) error {
	removed, err := s.db.DeleteStakeholder(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("stakeholder %d: %w", id, ErrNotFound)
	}
	s.log.Info().Int64("stakeholder", id).Msg("stakeholder deleted")
	return nil
}

// ContactInput is the add and edit contact form. Only the name is required.
type ContactInput struct {
	Name  string
	Role  string
	Email string
	Phone string
}

func (in ContactInput) validate() (*database.Contact, error) {
	errs := fieldErrors{}
	c := &database.Contact{
		Name:  strings.TrimSpace(in.Name),
		Role:  strings.TrimSpace(in.Role),
		Email: strings.TrimSpace(in.Email),
		Phone: strings.TrimSpace(in.Phone),
	}
	if c.Name == "" {
		errs.add("name", "Enter the name of the contact")
	}
	if c.Email != "" {
		if a, err := mail.ParseAddress(c.Email); err != nil || a.Address != c.Email {
			errs.add("email", "Enter an email address in the correct format, like name@example.com.")
		}
	}
	return c, errs.err()
}

// GetContact returns a contact or an error wrapping ErrNotFound.
func (s *Service) GetContact(ctx context.Context, id int64) (*database.Contact, error) {
	c, err := s.db.GetContact(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("contact %d: %w", id, ErrNotFound)
	}
	return c, nil
}

// AddContact stores a new contact for the stakeholder.
func (s *Service) AddContact(ctx context.Context, stakeholderID int64, in ContactInput) (*database.Contact, error) {
	st, err := s.GetStakeholder(ctx, stakeholderID)
	if err != nil {
		return nil, err
	}
	c, err := in.validate()
	if err != nil {
		return nil, err
	}
	c.StakeholderID = st.ID
	c.StakeholderName = st.Name
	if err := s.db.CreateContact(ctx, c); err != nil {
		return nil, fmt.Errorf("creating contact: %w", err)
	}
	s.log.Info().Int64("stakeholder", st.ID).Int64("contact", c.ID).Msg("contact added")
	return c, nil
}

// UpdateContact replaces a contact's details.
func (s *Service) UpdateContact(ctx context.Context, id int64, in ContactInput) (*database.Contact, error) {
	existing, err := s.GetContact(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := in.validate()
	if err != nil {
		return nil, err
	}
	c.ID = existing.ID
	c.StakeholderID = existing.StakeholderID
	c.StakeholderName = existing.StakeholderName
	if err := s.db.UpdateContact(ctx, c); err != nil {
		return nil, fmt.Errorf("updating contact: %w", err)
	}
	return c, nil
}

// DeleteContact removes a contact and returns it, so callers can go back
// to its stakeholder.
func (s *Service) DeleteContact(ctx context.Context, id int64) (*database.Contact, error) {
	c, err := s.GetContact(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.DeleteContact(ctx, id); err != nil {
		return nil, err
	}
	s.log.Info().Int64("stakeholder", c.StakeholderID).Int64("contact", id).Msg("contact deleted")
	return c, nil
}
