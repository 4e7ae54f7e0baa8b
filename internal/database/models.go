package database

// Review types.
const (
	ReviewTypeEvidence   = "evidence"
	ReviewTypeMap        = "map"
	ReviewTypeCost       = "cost"
	ReviewTypeSystematic = "systematic"
	ReviewTypeOther      = "other"
)

// ReviewTypes lists the valid review types with their display labels.
var ReviewTypes = []Choice{
	{ReviewTypeEvidence, "Evidence review"},
	{ReviewTypeMap, "Evidence map"},
	{ReviewTypeCost, "Cost-effective model"},
	{ReviewTypeSystematic, "Systematic review"},
	{ReviewTypeOther, "Other"},
}

// Document types.
const (
	DocCoverSheet     = "cover_sheet"
	DocEvidenceReview = "evidence_review"
	DocEvidenceMap    = "evidence_map"
	DocCost           = "cost"
	DocSystematic     = "systematic"
	DocOther          = "other"
	DocSubmissionForm = "submission_form"
	DocExternalReview = "external_review"
)

var DocumentTypes = []Choice{
	{DocCoverSheet, "Cover sheet"},
	{DocEvidenceReview, "Evidence review"},
	{DocEvidenceMap, "Evidence map"},
	{DocCost, "Cost-effective model"},
	{DocSystematic, "Systematic review"},
	{DocOther, "Other"},
	{DocSubmissionForm, "Submission form"},
	{DocExternalReview, "External review"},
}

// Stakeholder types.
const (
	StakeholderProfessional = "professional"
	StakeholderAcademic     = "academic"
	StakeholderPatientGroup = "patient_group"
	StakeholderIndividual   = "individual"
	StakeholderCommercial   = "commercial"
	StakeholderOther        = "other"
)

var StakeholderTypes = []Choice{
	{StakeholderProfessional, "Royal College or other professional organisation"},
	{StakeholderAcademic, "Academic"},
	{StakeholderPatientGroup, "Patient group"},
	{StakeholderIndividual, "Individual"},
	{StakeholderCommercial, "Commercial organisation"},
	{StakeholderOther, "Other"},
}

// Countries a stakeholder can operate in.
const (
	CountryEngland         = "england"
	CountryNorthernIreland = "northern_ireland"
	CountryScotland        = "scotland"
	CountryWales           = "wales"
	CountryUK              = "uk"
	CountryInternational   = "international"
)

var Countries = []Choice{
	{CountryEngland, "England"},
	{CountryNorthernIreland, "Northern Ireland"},
	{CountryScotland, "Scotland"},
	{CountryWales, "Wales"},
	{CountryUK, "UK"},
	{CountryInternational, "International"},
}

var AgeGroups = []Choice{
	{"antenatal", "Antenatal"},
	{"newborn", "Newborn"},
	{"child", "Child"},
	{"adult", "Adult"},
	{"all", "All ages"},
}

// Notification kinds linking emails to reviews.
const (
	KindOpenConsultation  = "open_consultation"
	KindDecisionPublished = "decision_published"
)

// Choice is a stored value and its display label.
type Choice struct {
	Value string
	Label string
}

// ChoiceLabel returns the label for value, or value itself when unknown.
func ChoiceLabel(choices []Choice, value string) string {
	for _, c := range choices {
		if c.Value == value {
			return c.Label
		}
	}
	return value
}

// IsChoice reports whether value is one of choices.
func IsChoice(choices []Choice, value string) bool {
	for _, c := range choices {
		if c.Value == value {
			return true
		}
	}
	return false
}

// Review is one screening-policy review cycle. Its status is derived,
// never stored.
type Review struct {
	ID                    int64
	Name                  string
	Slug                  string
	ReviewType            []string
	IsLegacy              bool
	DatesConfirmed        bool
	ReviewStart           *string
	ReviewEnd             *string
	ConsultationStart     *string
	ConsultationEnd       *string
	NSCMeetingDate        *string
	Published             *bool
	Recommendation        *bool
	Summary               string
	SummaryHTML           string
	Background            string
	BackgroundHTML        string
	StakeholdersConfirmed bool
	Manager               string
	CreatedAt             string
	ModifiedAt            string
}

// HasType reports whether the review covers the given review type.
func (r *Review) HasType(t string) bool {
	for _, rt := range r.ReviewType {
		if rt == t {
			return true
		}
	}
	return false
}

// IsPublished reports whether a publish decision of true has been made.
func (r *Review) IsPublished() bool {
	return r.Published != nil && *r.Published
}

// ReviewPolicy is the link between a review and one of its policies,
// carrying the per-policy drafts applied on publish.
type ReviewPolicy struct {
	ReviewID       int64
	PolicyID       int64
	PolicyName     string
	PolicySlug     string
	SummaryDraft   string
	SummaryUpdated bool
	Recommendation *bool
}

// Policy is a screening condition and its current recommendation.
type Policy struct {
	ID             int64
	Name           string
	Slug           string
	IsActive       bool
	Recommendation bool
	LastReview     *string
	NextReview     *string
	Ages           []string
	Condition      string
	ConditionHTML  string
	Summary        string
	SummaryHTML    string
	Keywords       string
	CreatedAt      string
	ModifiedAt     string
}

// Stakeholder is an organisation interested in one or more policies.
type Stakeholder struct {
	ID         int64
	Name       string
	Type       string
	Countries  []string
	URL        string
	Twitter    string
	Comments   string
	IsPublic   bool
	CreatedAt  string
	ModifiedAt string
}

// InCountry reports whether the stakeholder operates in country.
func (s *Stakeholder) InCountry(country string) bool {
	for _, c := range s.Countries {
		if c == country {
			return true
		}
	}
	return false
}

// Contact is a person at a stakeholder organisation.
type Contact struct {
	ID              int64
	StakeholderID   int64
	StakeholderName string
	Name            string
	Role            string
	Email           string
	Phone           string
}

// Subscription registers an address for decision notices on policies.
type Subscription struct {
	ID         int64
	Email      string
	PolicyIDs  []int64
	CreatedAt  string
	ModifiedAt string
}

// Document is an uploaded file attached to a review and/or policy.
type Document struct {
	ID           int64
	Name         string
	DocumentType string
	ReviewID     *int64
	PolicyID     *int64
	Upload       string
	CreatedAt    string
}

// Email is a queued outbound message.
type Email struct {
	ID         int64
	Address    string
	TemplateID string
	Context    map[string]any
	Status     string
	Attempts   int
	NotifyID   string
	CreatedAt  string
	ModifiedAt string
}

// ReceiptToken authenticates delivery receipt callbacks.
type ReceiptToken struct {
	ID        int64
	Token     string
	Label     string
	CreatedAt string
}

// Stats contains aggregate database statistics.
type Stats struct {
	Reviews        int
	LegacyReviews  int
	Policies       int
	ActivePolicies int
	Stakeholders   int
	Contacts       int
	Subscriptions  int
	EmailsByStatus map[string]int
}
