package review

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/nscreview/internal/cache"
	"github.com/TobiSchelling/nscreview/internal/database"
)

func yes() *bool {
	v := true
	return &v
}

func TestCreateStakeholderValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateStakeholder(context.Background(), StakeholderInput{
		Name:      "  ",
		Type:      "bogus",
		Countries: []string{"atlantis"},
		URL:       "not a url",
	})
	v, ok := AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, v.Fields, "name")
	assert.Contains(t, v.Fields, "type")
	assert.Contains(t, v.Fields, "countries")
	assert.Contains(t, v.Fields, "url")
	assert.Contains(t, v.Fields, "is_public")
}

func TestStakeholderLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := f.policy(t, "Alpha")
	beta := f.policy(t, "Beta")

	st, err := f.service.CreateStakeholder(ctx, StakeholderInput{
		Name:      " Screening Society ",
		Type:      database.StakeholderPatientGroup,
		Countries: []string{database.CountryEngland},
		URL:       "https://society.example",
		IsPublic:  yes(),
		PolicyIDs: []int64{alpha.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "Screening Society", st.Name)

	updated, err := f.service.UpdateStakeholder(ctx, st.ID, StakeholderInput{
		Name:      "Screening Society UK",
		Type:      database.StakeholderPatientGroup,
		IsPublic:  new(bool),
		PolicyIDs: []int64{beta.ID},
	})
	require.NoError(t, err)
	assert.False(t, updated.IsPublic)
	ids, err := f.db.StakeholderPolicyIDs(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{beta.ID}, ids)

	c, err := f.service.AddContact(ctx, st.ID, ContactInput{Name: "Jo", Email: "jo@example.com"})
	require.NoError(t, err)
	assert.Equal(t, st.ID, c.StakeholderID)

	require.NoError(t, f.service.DeleteStakeholder(ctx, st.ID))
	_, err = f.service.GetContact(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.service.DeleteStakeholder(ctx, st.ID), ErrNotFound)
}

func TestContactEditAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st, err := f.service.CreateStakeholder(ctx, StakeholderInput{
		Name: "Royal College", Type: database.StakeholderProfessional, IsPublic: yes(),
	})
	require.NoError(t, err)

	_, err = f.service.AddContact(ctx, st.ID, ContactInput{Name: "Sam", Email: "not-an-email"})
	v, ok := AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, v.Fields, "email")

	_, err = f.service.AddContact(ctx, 9999, ContactInput{Name: "Sam"})
	assert.ErrorIs(t, err, ErrNotFound)

	c, err := f.service.AddContact(ctx, st.ID, ContactInput{Name: "Sam"})
	require.NoError(t, err)

	c, err = f.service.UpdateContact(ctx, c.ID, ContactInput{Name: "Sam Smith", Role: "Chair", Email: "sam@example.com"})
	require.NoError(t, err)
	got, err := f.db.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Chair", got.Role)
	assert.Equal(t, "sam@example.com", got.Email)

	deleted, err := f.service.DeleteContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, st.ID, deleted.StakeholderID)
	_, err = f.service.DeleteContact(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.policy(t, "Alpha")
	f.pages.Set("/condition/alpha/", cache.Page{Status: 200})

	_, err := f.service.UpdatePolicy(ctx, p.Slug, PolicyInput{Name: "", NextReview: "2026-02-30"})
	v, ok := AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, v.Fields, "name")
	assert.Contains(t, v.Fields, "ages")
	assert.Contains(t, v.Fields, "recommendation")
	assert.Contains(t, v.Fields, "next_review")

	got, err := f.service.UpdatePolicy(ctx, p.Slug, PolicyInput{
		Name:           "Alpha thalassaemia",
		Condition:      "A *blood* disorder.",
		Summary:        "Screening is not recommended.",
		Ages:           []string{"newborn"},
		NextReview:     "2029-01-01",
		Recommendation: new(bool),
	})
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Slug)
	assert.Contains(t, got.ConditionHTML, "<em>blood</em>")

	stored, err := f.db.GetPolicyBySlug(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "Alpha thalassaemia", stored.Name)
	require.NotNil(t, stored.NextReview)
	assert.Equal(t, "2029-01-01", *stored.NextReview)

	_, cached := f.pages.Get("/condition/alpha/")
	assert.False(t, cached, "expected the condition pages to be invalidated")

	_, err = f.service.UpdatePolicy(ctx, "missing", PolicyInput{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetPolicyActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.policy(t, "Alpha")

	got, err := f.service.SetPolicyActive(ctx, p.Slug, false)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	active, err := f.db.Policies().Active().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, active)

	got, err = f.service.SetPolicyActive(ctx, p.Slug, true)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}
