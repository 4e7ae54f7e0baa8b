package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/notify"
)

type fakeSender struct {
	calls   []string
	sendErr error
}

func (f *fakeSender) SendPending(context.Context) (*notify.SendResult, error) {
	f.calls = append(f.calls, SendPending)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &notify.SendResult{Sent: 3, Failed: 1}, nil
}

func (f *fakeSender) UpdateStale(context.Context) (*notify.UpdateResult, error) {
	f.calls = append(f.calls, UpdateStale)
	return &notify.UpdateResult{Checked: 2, Updated: 2}, nil
}

type fakeNotifier struct {
	calls *[]string
}

func (f fakeNotifier) SendOpenReviewNotifications(context.Context) (int, error) {
	*f.calls = append(*f.calls, OpenNotifications)
	return 4, nil
}

func (f fakeNotifier) SendPublishedNotifications(context.Context) (int, error) {
	*f.calls = append(*f.calls, DecisionNotices)
	return 0, nil
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunAllRunsEveryTaskInOrder(t *testing.T) {
	sender := &fakeSender{}
	r := New(openTestDB(t), sender, fakeNotifier{calls: &sender.calls}, 0, zerolog.Nop())

	res := r.RunAll(context.Background())

	assert.Equal(t, Names, sender.calls)
	require.Len(t, res.Tasks, 4)
	assert.False(t, res.Failed())
	assert.Equal(t, "Sent 3 emails, 1 failed, 0 rejected, 0 over attempt limit", res.Tasks[0].Summary)
	assert.Equal(t, "Checked 2 stale emails, 2 updated, 0 failed", res.Tasks[1].Summary)
	assert.Equal(t, "Queued 4 consultation emails", res.Tasks[2].Summary)
}

func TestFailingTaskDoesNotStopOthers(t *testing.T) {
	sender := &fakeSender{sendErr: errors.New("provider down")}
	r := New(openTestDB(t), sender, fakeNotifier{calls: &sender.calls}, 0, zerolog.Nop())

	res := r.RunAll(context.Background())

	assert.True(t, res.Failed())
	assert.EqualError(t, res.Tasks[0].Err, "provider down")
	assert.Len(t, sender.calls, 4)
	for _, tr := range res.Tasks[1:] {
		assert.NoError(t, tr.Err, tr.Name)
	}
}

func TestRunSelectedTasks(t *testing.T) {
	sender := &fakeSender{}
	r := New(openTestDB(t), sender, fakeNotifier{calls: &sender.calls}, 0, zerolog.Nop())

	res, err := r.Run(context.Background(), UpdateStale)
	require.NoError(t, err)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, []string{UpdateStale}, sender.calls)

	_, err = r.Run(context.Background(), "bogus")
	assert.Error(t, err)
	assert.Len(t, sender.calls, 1, "unknown names are rejected before anything runs")
}

func TestRunAfterCancel(t *testing.T) {
	sender := &fakeSender{}
	r := New(openTestDB(t), sender, fakeNotifier{calls: &sender.calls}, 0, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.RunAll(ctx)
	assert.Empty(t, sender.calls)
	for _, tr := range res.Tasks {
		assert.ErrorIs(t, tr.Err, context.Canceled)
	}
}

func TestDryRunCountsWork(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return now })
	ctx := context.Background()

	emails := []database.Email{
		{Address: "a@example.com", TemplateID: "t"},
		{Address: "b@example.com", TemplateID: "t", Status: "temporary-failure"},
		{Address: "c@example.com", TemplateID: "t", Status: "sending", NotifyID: "n-1"},
	}
	require.NoError(t, db.CreateEmails(ctx, emails))
	now = now.Add(10 * time.Minute)

	start := "2026-06-01"
	require.NoError(t, db.CreateReview(ctx, &database.Review{
		Name: "Open", Slug: "open", DatesConfirmed: true, ConsultationStart: &start,
	}))

	sender := &fakeSender{}
	r := New(db, sender, fakeNotifier{calls: &sender.calls}, 5*time.Minute, zerolog.Nop())
	res := r.DryRun(ctx)

	require.Len(t, res.Tasks, 4)
	assert.Empty(t, sender.calls)
	assert.Equal(t, "[dry-run] 2 emails waiting to be sent", res.Tasks[0].Summary)
	assert.Equal(t, "[dry-run] 1 emails with stale status", res.Tasks[1].Summary)
	assert.Equal(t, "[dry-run] 1 reviews due consultation emails", res.Tasks[2].Summary)
	assert.True(t, strings.HasPrefix(res.Tasks[3].Summary, "[dry-run] 0"))
}
