// Package review implements the review lifecycle: status derivation, the
// manager wizard steps, publication, documents and notification dispatch.
package review

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/TobiSchelling/nscreview/internal/cache"
	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/events"
	"github.com/TobiSchelling/nscreview/internal/markdown"
	"github.com/TobiSchelling/nscreview/internal/scan"
	"github.com/TobiSchelling/nscreview/internal/storage"
)

// Service applies manager actions to reviews.
type Service struct {
	db      *database.DB
	store   *storage.Store
	scanner scan.Scanner
	events  events.Publisher
	pages   *cache.Cache
	log     zerolog.Logger
}

// NewService creates a review service. pages may be nil.
func NewService(db *database.DB, store *storage.Store, scanner scan.Scanner, pub events.Publisher, pages *cache.Cache, log zerolog.Logger) *Service {
	if scanner == nil {
		scanner = scan.Disabled{}
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{db: db, store: store, scanner: scanner, events: pub, pages: pages, log: log}
}

// Get returns a review by slug or ErrNotFound.
func (s *Service) Get(ctx context.Context, slug string) (*database.Review, error) {
	r, err := s.db.GetReviewBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNotFound
	}
	return r, nil
}

// CreateInput is the add-review form.
type CreateInput struct {
	Name        string
	ReviewTypes []string
	PolicyIDs   []int64
	Summary     string
	Background  string
	Manager     string
	ReviewStart string
}

// Create validates and stores a new review linked to its policies.
func (s *Service) Create(ctx context.Context, in CreateInput) (*database.Review, error) {
	errs := fieldErrors{}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		errs.add("name", "Enter the name of the review")
	}
	if len(in.ReviewTypes) == 0 {
		errs.add("review_type", "Select at least one type of review")
	}
	for _, t := range in.ReviewTypes {
		if !database.IsChoice(database.ReviewTypes, t) {
			errs.add("review_type", fmt.Sprintf("%s is not a valid choice", t))
		}
	}
	if len(in.PolicyIDs) == 0 {
		errs.add("policies", "Select at least one condition")
	}
	start := strings.TrimSpace(in.ReviewStart)
	if start != "" {
		if _, err := database.ParseDate(start); err != nil {
			errs.add("review_start", "Enter a real date")
		}
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	slug := Slugify(name)
	if slug == "" {
		return nil, &ValidationError{Fields: map[string]string{"name": "The name must contain letters or numbers"}}
	}
	taken, err := s.db.ReviewSlugExists(ctx, slug)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, &ValidationError{
			Fields: map[string]string{"name": "A review with this name already exists"},
			Err:    ErrSlugTaken,
		}
	}

	if start == "" {
		start = s.db.Today()
	}
	r := &database.Review{
		Name:           name,
		Slug:           slug,
		ReviewType:     in.ReviewTypes,
		ReviewStart:    &start,
		Summary:        in.Summary,
		SummaryHTML:    markdown.Convert(in.Summary),
		Background:     in.Background,
		BackgroundHTML: markdown.Convert(in.Background),
		Manager:        strings.TrimSpace(in.Manager),
	}

	err = s.db.WithTx(ctx, func(tx *database.DB) error {
		if err := tx.CreateReview(ctx, r); err != nil {
			return fmt.Errorf("creating review: %w", err)
		}
		return tx.SetReviewPolicies(ctx, r.ID, in.PolicyIDs)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("review", r.Slug).Msg("review created")
	s.invalidate(ctx, r.ID)
	return r, nil
}

// DatesInput is the review dates step. Blank fields clear the date.
type DatesInput struct {
	ReviewStart       string
	ReviewEnd         string
	ConsultationStart string
	ConsultationEnd   string
	NSCMeetingDate    string
	Confirmed         bool
}

// UpdateDates stores the review's dates. A blank consultation end defaults
// to three months after the consultation start.
func (s *Service) UpdateDates(ctx context.Context, slug string, in DatesInput) (*database.Review, error) {
	r, err := s.Get(ctx, slug)
	if err != nil {
		return nil, err
	}

	errs := fieldErrors{}
	parse := func(field, value string) *string {
		value = strings.TrimSpace(value)
		if value == "" {
			return nil
		}
		if _, err := database.ParseDate(value); err != nil {
			errs.add(field, "Enter a real date")
			return nil
		}
		return &value
	}

	reviewStart := parse("review_start", in.ReviewStart)
	reviewEnd := parse("review_end", in.ReviewEnd)
	consultStart := parse("consultation_start", in.ConsultationStart)
	consultEnd := parse("consultation_end", in.ConsultationEnd)
	meeting := parse("nsc_meeting_date", in.NSCMeetingDate)

	if consultStart != nil && consultEnd == nil && strings.TrimSpace(in.ConsultationEnd) == "" {
		end, err := database.AddMonths(*consultStart, 3)
		if err == nil {
			consultEnd = &end
		}
	}
	if consultStart != nil && consultEnd != nil && *consultEnd < *consultStart {
		errs.add("consultation_end", "The consultation end date must be after the start date")
	}
	if consultEnd != nil && consultStart == nil {
		errs.add("consultation_start", "Enter the consultation start date")
	}
	if reviewStart != nil && reviewEnd != nil && *reviewEnd < *reviewStart {
		errs.add("review_end", "The review end date must be after the start date")
	}
	if in.Confirmed && consultStart == nil {
		errs.add("consultation_start", "Enter the consultation start date before confirming")
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	r.ReviewStart = reviewStart
	r.ReviewEnd = reviewEnd
	r.ConsultationStart = consultStart
	r.ConsultationEnd = consultEnd
	r.NSCMeetingDate = meeting
	r.DatesConfirmed = in.Confirmed
	if err := s.db.UpdateReview(ctx, r); err != nil {
		return nil, err
	}

	s.log.Info().Str("review", r.Slug).Bool("confirmed", r.DatesConfirmed).Msg("review dates updated")
	s.invalidate(ctx, r.ID)
	return r, nil
}

// ConfirmStakeholders records the stakeholders consulted on the review.
func (s *Service) ConfirmStakeholders(ctx context.Context, slug string, stakeholderIDs []int64) error {
	r, err := s.Get(ctx, slug)
	if err != nil {
		return err
	}
	return s.db.WithTx(ctx, func(tx *database.DB) error {
		if err := tx.SetReviewStakeholders(ctx, r.ID, stakeholderIDs); err != nil {
			return err
		}
		r.StakeholdersConfirmed = true
		return tx.UpdateReview(ctx, r)
	})
}

// PolicyDraft is the per-condition part of the recommendation step.
type PolicyDraft struct {
	PolicyID       int64
	Summary        string
	Recommendation *bool
}

// RecommendationInput is the recommendation step.
type RecommendationInput struct {
	Recommendation *bool
	Summary        string
	Policies       []PolicyDraft
}

// SetRecommendation stores the review's recommendation and the drafts that
// will be copied onto each policy when the review is published.
func (s *Service) SetRecommendation(ctx context.Context, slug string, in RecommendationInput) error {
	r, err := s.Get(ctx, slug)
	if err != nil {
		return err
	}
	if in.Recommendation == nil {
		return &ValidationError{Fields: map[string]string{"recommendation": "Select a recommendation"}}
	}

	links, err := s.db.GetReviewPolicies(ctx, r.ID)
	if err != nil {
		return err
	}
	linked := make(map[int64]bool, len(links))
	for _, l := range links {
		linked[l.PolicyID] = true
	}

	err = s.db.WithTx(ctx, func(tx *database.DB) error {
		for _, d := range in.Policies {
			if !linked[d.PolicyID] {
				continue
			}
			summary := strings.TrimSpace(d.Summary)
			if err := tx.UpdateReviewPolicyDraft(ctx, r.ID, d.PolicyID, summary, summary != "", d.Recommendation); err != nil {
				return err
			}
		}
		r.Recommendation = in.Recommendation
		r.Summary = in.Summary
		r.SummaryHTML = markdown.Convert(in.Summary)
		return tx.UpdateReview(ctx, r)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, r.ID)
	return nil
}

// Publish marks the review published and, in the same transaction, copies
// each policy's recommendation and summary draft onto the policy.
func (s *Service) Publish(ctx context.Context, slug string) error {
	r, err := s.Get(ctx, slug)
	if err != nil {
		return err
	}
	if r.Recommendation == nil {
		return &ValidationError{Fields: map[string]string{"recommendation": "Add a recommendation before publishing"}}
	}

	today := s.db.Today()
	err = s.db.WithTx(ctx, func(tx *database.DB) error {
		links, err := tx.GetReviewPolicies(ctx, r.ID)
		if err != nil {
			return err
		}
		for _, l := range links {
			p, err := tx.GetPolicy(ctx, l.PolicyID)
			if err != nil {
				return err
			}
			if p == nil {
				continue
			}
			rec := *r.Recommendation
			if l.Recommendation != nil {
				rec = *l.Recommendation
			}
			summary := p.Summary
			if l.SummaryUpdated {
				summary = l.SummaryDraft
			}
			if err := tx.ApplyPolicyDecision(ctx, p.ID, rec, summary, markdown.Convert(summary), today); err != nil {
				return fmt.Errorf("updating policy %s: %w", p.Slug, err)
			}
		}

		published := true
		r.Published = &published
		if r.ReviewEnd == nil {
			r.ReviewEnd = &today
		}
		return tx.UpdateReview(ctx, r)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("review", r.Slug).Msg("review published")
	s.events.Publish(events.ReviewPublished, events.Event{Review: r.Slug})
	s.invalidate(ctx, r.ID)
	return nil
}

// Delete removes the review and then its document folder. Folder removal
// is best-effort.
func (s *Service) Delete(ctx context.Context, slug string) error {
	r, err := s.Get(ctx, slug)
	if err != nil {
		return err
	}
	slugs := s.policySlugs(ctx, r.ID)

	if err := s.db.DeleteReview(ctx, r.ID); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.DeleteFolder(DocumentFolder(r.Slug)); err != nil {
			s.log.Warn().Err(err).Str("review", r.Slug).Msg("failed to delete review documents")
		}
	}

	s.log.Info().Str("review", r.Slug).Msg("review deleted")
	if s.pages != nil {
		s.pages.InvalidatePolicies(slugs...)
	}
	return nil
}

// DocumentFolder is the storage folder holding a review's uploads.
func DocumentFolder(slug string) string {
	return path.Join("reviews", slug)
}

// AddDocument validates, scans and stores an upload for the review.
func (s *Service) AddDocument(ctx context.Context, slug, docType, filename string, body io.Reader) (*database.Document, error) {
	r, err := s.Get(ctx, slug)
	if err != nil {
		return nil, err
	}

	errs := fieldErrors{}
	if !database.IsChoice(database.DocumentTypes, docType) {
		errs.add("document_type", "Select the type of document")
	}
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if base == "" || base == "." || base == "/" {
		errs.add("upload", "Select a file to upload")
	} else if err := storage.ValidateExtension(base); err != nil {
		return nil, &ValidationError{
			Fields: map[string]string{"upload": "The selected file must be a PDF or ODT"},
			Err:    err,
		}
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if !s.scanner.IsClean(ctx, bytes.NewReader(data)) {
		return nil, &ValidationError{Fields: map[string]string{"upload": "The selected file contains a virus"}}
	}

	key, err := s.store.Save(path.Join(DocumentFolder(r.Slug), base), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	doc := &database.Document{
		Name:         base,
		DocumentType: docType,
		ReviewID:     &r.ID,
		Upload:       key,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.log.Info().Str("review", r.Slug).Str("document_type", docType).Msg("document uploaded")
	s.invalidate(ctx, r.ID)
	return doc, nil
}

// DeleteDocument removes one of the review's documents and its file.
func (s *Service) DeleteDocument(ctx context.Context, slug string, docID int64) error {
	r, err := s.Get(ctx, slug)
	if err != nil {
		return err
	}
	doc, err := s.db.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if doc == nil || doc.ReviewID == nil || *doc.ReviewID != r.ID {
		return ErrNotFound
	}
	if err := s.db.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	if err := s.store.Delete(doc.Upload); err != nil {
		s.log.Warn().Err(err).Str("review", r.Slug).Str("upload", doc.Upload).Msg("failed to delete document file")
	}
	s.invalidate(ctx, r.ID)
	return nil
}

func (s *Service) policySlugs(ctx context.Context, reviewID int64) []string {
	links, err := s.db.GetReviewPolicies(ctx, reviewID)
	if err != nil {
		s.log.Warn().Err(err).Int64("review_id", reviewID).Msg("failed to load policies for cache invalidation")
		return nil
	}
	slugs := make([]string, len(links))
	for i, l := range links {
		slugs[i] = l.PolicySlug
	}
	return slugs
}

func (s *Service) invalidate(ctx context.Context, reviewIDs ...int64) {
	if s.pages == nil {
		return
	}
	var slugs []string
	for _, id := range reviewIDs {
		slugs = append(slugs, s.policySlugs(ctx, id)...)
	}
	s.pages.InvalidatePolicies(slugs...)
}
