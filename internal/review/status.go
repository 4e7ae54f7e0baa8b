package review

import (
	"strings"

	"github.com/TobiSchelling/nscreview/internal/database"
)

// Status is the derived lifecycle stage of a review.
type Status string

const (
	Development      Status = "development"
	InConsultation   Status = "in_consultation"
	PostConsultation Status = "post_consultation"
	Completed        Status = "completed"
)

var statusLabels = map[Status]string{
	Development:      "In review",
	InConsultation:   "In consultation",
	PostConsultation: "Post-consultation",
	Completed:        "Completed",
}

// Label returns the display name of the status.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// documentForType maps a review type to the supporting document it needs.
var documentForType = map[string]string{
	database.ReviewTypeEvidence:   database.DocEvidenceReview,
	database.ReviewTypeMap:        database.DocEvidenceMap,
	database.ReviewTypeCost:       database.DocCost,
	database.ReviewTypeSystematic: database.DocSystematic,
}

// RequiredDocumentTypes returns the cover sheet plus the document implied by
// each review type, in a stable order.
func RequiredDocumentTypes(reviewTypes []string) []string {
	required := []string{database.DocCoverSheet}
	for _, c := range database.ReviewTypes {
		if doc, ok := documentForType[c.Value]; ok && contains(reviewTypes, c.Value) {
			required = append(required, doc)
		}
	}
	return required
}

// StatusInput is the stored state status derivation reads.
type StatusInput struct {
	Review        *database.Review
	DocumentTypes []string
	Policies      []database.ReviewPolicy
}

// HasSupportingDocuments reports whether every required document is uploaded.
func (in StatusInput) HasSupportingDocuments() bool {
	for _, doc := range RequiredDocumentTypes(in.Review.ReviewType) {
		if !contains(in.DocumentTypes, doc) {
			return false
		}
	}
	return true
}

// HasPolicySummaries reports whether the review links at least one policy
// and each has an updated, non-empty summary draft.
func (in StatusInput) HasPolicySummaries() bool {
	if len(in.Policies) == 0 {
		return false
	}
	for _, p := range in.Policies {
		if !p.SummaryUpdated || strings.TrimSpace(p.SummaryDraft) == "" {
			return false
		}
	}
	return true
}

// DeriveStatus computes a review's status for the given date.
func DeriveStatus(in StatusInput, today string) Status {
	r := in.Review
	switch {
	case in.HasSupportingDocuments() && in.HasPolicySummaries():
		return Completed
	case r.DatesConfirmed && r.ConsultationEnd != nil && *r.ConsultationEnd < today:
		return PostConsultation
	case r.DatesConfirmed && r.ConsultationStart != nil && *r.ConsultationStart <= today:
		return InConsultation
	default:
		return Development
	}
}

func contains(items []string, v string) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}
