// Package legacy imports conditions and past reviews from the legacy
// site's condition feed.
package legacy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"

	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/markdown"
	"github.com/TobiSchelling/nscreview/internal/review"
)

const userAgent = "nscreview/1.0 (legacy import)"

// ErrNoFeed is returned when no feed URL is configured.
var ErrNoFeed = errors.New("legacy feed url not configured")

// Result counts what an import did.
type Result struct {
	Created int
	Skipped int
	Failed  int
}

// Importer pulls legacy data into the database.
type Importer struct {
	db      *database.DB
	feedURL string
	client  *http.Client
	log     zerolog.Logger
}

// New creates an importer reading feedURL.
func New(db *database.DB, feedURL string, timeout time.Duration, log zerolog.Logger) *Importer {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Importer{
		db:      db,
		feedURL: feedURL,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		log: log,
	}
}

func (im *Importer) entries(ctx context.Context) ([]Entry, error) {
	if im.feedURL == "" {
		return nil, ErrNoFeed
	}
	entries, err := im.parseFeed(ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing legacy feed: %w", err)
	}
	im.log.Info().Int("count", len(entries)).Str("url", im.feedURL).Msg("parsed legacy feed")
	return entries, nil
}

// ImportConditions creates a policy for every feed entry whose slug is not
// already taken. The condition text is extracted from the entry's page;
// pages that cannot be fetched leave it empty.
func (im *Importer) ImportConditions(ctx context.Context) (*Result, error) {
	entries, err := im.entries(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	failedHosts := make(map[string]bool)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		slug := review.Slugify(e.Name)
		exists, err := im.db.PolicySlugExists(ctx, slug)
		if err != nil {
			return res, err
		}
		if exists {
			res.Skipped++
			continue
		}

		host := hostOf(e.URL)
		var condition string
		if !failedHosts[host] {
			condition, err = im.fetchText(ctx, e.URL)
			if err != nil {
				failedHosts[host] = true
				im.log.Warn().Err(err).Str("url", e.URL).Msg("skipping remaining pages from host")
			}
		}

		p := &database.Policy{
			Name:           e.Name,
			Slug:           slug,
			IsActive:       true,
			Recommendation: e.Recommendation,
			Ages:           e.Ages,
			Condition:      condition,
			ConditionHTML:  markdown.Convert(condition),
			Summary:        e.Summary,
			SummaryHTML:    markdown.Convert(e.Summary),
		}
		if err := im.db.CreatePolicy(ctx, p); err != nil {
			im.log.Error().Err(err).Str("policy", slug).Msg("failed to create policy")
			res.Failed++
			continue
		}
		res.Created++
	}
	im.log.Info().Int("created", res.Created).Int("skipped", res.Skipped).Msg("legacy conditions imported")
	return res, nil
}

// ImportReviews records the last completed review of every feed entry as a
// published legacy review named "<condition> <year>", starting six months
// before it completed, and links it to the condition's policy. The policy's
// next review falls three years after completion.
func (im *Importer) ImportReviews(ctx context.Context) (*Result, error) {
	entries, err := im.entries(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if e.LastReview == "" {
			res.Skipped++
			continue
		}
		created, err := im.importReview(ctx, e)
		switch {
		case err != nil:
			im.log.Error().Err(err).Str("review", e.Name).Msg("failed to import review")
			res.Failed++
		case created:
			res.Created++
		default:
			res.Skipped++
		}
	}
	im.log.Info().Int("created", res.Created).Int("skipped", res.Skipped).Int("failed", res.Failed).Msg("legacy reviews imported")
	return res, nil
}

func (im *Importer) importReview(ctx context.Context, e Entry) (bool, error) {
	policy, err := im.db.GetPolicyBySlug(ctx, review.Slugify(e.Name))
	if err != nil {
		return false, err
	}
	if policy == nil {
		return false, fmt.Errorf("no policy for %q", e.Name)
	}

	end := e.LastReview
	start, err := database.AddMonths(end, -6)
	if err != nil {
		return false, err
	}
	nextReview, err := database.AddMonths(end, 36)
	if err != nil {
		return false, err
	}
	name := fmt.Sprintf("%s %s", e.Name, start[:4])
	slug := review.Slugify(name)

	exists, err := im.db.ReviewSlugExists(ctx, slug)
	if err != nil || exists {
		return false, err
	}

	published := true
	recommendation := e.Recommendation
	r := &database.Review{
		Name:           name,
		Slug:           slug,
		ReviewType:     []string{database.ReviewTypeOther},
		IsLegacy:       true,
		ReviewStart:    &start,
		ReviewEnd:      &end,
		Published:      &published,
		Recommendation: &recommendation,
		Summary:        e.Summary,
		SummaryHTML:    markdown.Convert(e.Summary),
	}

	err = im.db.WithTx(ctx, func(tx *database.DB) error {
		if err := tx.CreateReview(ctx, r); err != nil {
			return err
		}
		if err := tx.SetReviewPolicies(ctx, r.ID, []int64{policy.ID}); err != nil {
			return err
		}
		if err := tx.UpdateReviewPolicyDraft(ctx, r.ID, policy.ID, e.Summary, e.Summary != "", &recommendation); err != nil {
			return err
		}
		policy.LastReview = &end
		policy.NextReview = &nextReview
		if e.Summary != "" {
			policy.Summary = e.Summary
			policy.SummaryHTML = r.SummaryHTML
		}
		return tx.UpdatePolicy(ctx, policy)
	})
	return err == nil, err
}

// fetchText downloads a page and returns its readable text.
func (im *Importer) fetchText(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := im.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetching %s: %s", pageURL, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	parsed, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(article.TextContent), nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
