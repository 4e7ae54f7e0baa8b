// Package tasks runs the periodic email and notification jobs.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/notify"
)

// Task names, in the order RunAll executes them.
const (
	SendPending       = "send-pending"
	UpdateStale       = "update-stale"
	OpenNotifications = "notify-open"
	DecisionNotices   = "notify-published"
)

// Names lists every task in run order.
var Names = []string{SendPending, UpdateStale, OpenNotifications, DecisionNotices}

// EmailSender delivers queued emails and reconciles their status.
type EmailSender interface {
	SendPending(ctx context.Context) (*notify.SendResult, error)
	UpdateStale(ctx context.Context) (*notify.UpdateResult, error)
}

// ReviewNotifier queues notifications for reviews that are due them.
type ReviewNotifier interface {
	SendOpenReviewNotifications(ctx context.Context) (int, error)
	SendPublishedNotifications(ctx context.Context) (int, error)
}

// TaskResult holds the result of a single task.
type TaskResult struct {
	Name     string
	Summary  string
	Err      error
	Duration time.Duration
}

// Result holds the results of one run.
type Result struct {
	Tasks []TaskResult
}

// Failed reports whether any task returned an error.
func (r *Result) Failed() bool {
	for _, t := range r.Tasks {
		if t.Err != nil {
			return true
		}
	}
	return false
}

// Runner executes the periodic tasks.
type Runner struct {
	db       *database.DB
	sender   EmailSender
	notifier ReviewNotifier
	staleAge time.Duration
	log      zerolog.Logger
}

// New creates a runner. staleAfter is only used by DryRun.
func New(db *database.DB, sender EmailSender, notifier ReviewNotifier, staleAfter time.Duration, log zerolog.Logger) *Runner {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &Runner{db: db, sender: sender, notifier: notifier, staleAge: staleAfter, log: log}
}

// RunAll executes every task. A failing task does not stop the others.
func (r *Runner) RunAll(ctx context.Context) *Result {
	res, _ := r.Run(ctx, Names...)
	return res
}

// Run executes the named tasks in the order given.
func (r *Runner) Run(ctx context.Context, names ...string) (*Result, error) {
	steps := make([]func(context.Context) TaskResult, 0, len(names))
	for _, name := range names {
		step, ok := r.step(name)
		if !ok {
			return nil, fmt.Errorf("unknown task %q", name)
		}
		steps = append(steps, step)
	}

	res := &Result{}
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			res.Tasks = append(res.Tasks, TaskResult{Name: names[i], Err: err})
			continue
		}
		start := time.Now()
		tr := step(ctx)
		tr.Duration = time.Since(start)

		ev := r.log.Info()
		if tr.Err != nil {
			ev = r.log.Error().Err(tr.Err)
		}
		ev.Str("task", tr.Name).Dur("duration", tr.Duration).Msg(tr.Summary)
		res.Tasks = append(res.Tasks, tr)
	}
	return res, nil
}

func (r *Runner) step(name string) (func(context.Context) TaskResult, bool) {
	switch name {
	case SendPending:
		return r.runSendPending, true
	case UpdateStale:
		return r.runUpdateStale, true
	case OpenNotifications:
		return r.runOpenNotifications, true
	case DecisionNotices:
		return r.runDecisionNotices, true
	}
	return nil, false
}

func (r *Runner) runSendPending(ctx context.Context) TaskResult {
	result, err := r.sender.SendPending(ctx)
	if err != nil {
		return TaskResult{Name: SendPending, Err: err}
	}
	return TaskResult{
		Name: SendPending,
		Summary: fmt.Sprintf("Sent %d emails, %d failed, %d rejected, %d over attempt limit",
			result.Sent, result.Failed, result.Rejected, result.TooManyAttempts),
	}
}

func (r *Runner) runUpdateStale(ctx context.Context) TaskResult {
	result, err := r.sender.UpdateStale(ctx)
	if err != nil {
		return TaskResult{Name: UpdateStale, Err: err}
	}
	return TaskResult{
		Name:    UpdateStale,
		Summary: fmt.Sprintf("Checked %d stale emails, %d updated, %d failed", result.Checked, result.Updated, result.Failed),
	}
}

func (r *Runner) runOpenNotifications(ctx context.Context) TaskResult {
	n, err := r.notifier.SendOpenReviewNotifications(ctx)
	if err != nil {
		return TaskResult{Name: OpenNotifications, Err: err}
	}
	return TaskResult{Name: OpenNotifications, Summary: fmt.Sprintf("Queued %d consultation emails", n)}
}

func (r *Runner) runDecisionNotices(ctx context.Context) TaskResult {
	n, err := r.notifier.SendPublishedNotifications(ctx)
	if err != nil {
		return TaskResult{Name: DecisionNotices, Err: err}
	}
	return TaskResult{Name: DecisionNotices, Summary: fmt.Sprintf("Queued %d decision emails", n)}
}

// DryRun reports what RunAll would pick up without sending anything.
func (r *Runner) DryRun(ctx context.Context) *Result {
	res := &Result{}
	today := r.db.Today()

	pending, err := r.db.Emails().Statuses(string(notify.Pending), string(notify.TemporaryFailure), string(notify.TechnicalFailure)).Count(ctx)
	res.Tasks = append(res.Tasks, TaskResult{
		Name:    SendPending,
		Summary: fmt.Sprintf("[dry-run] %d emails waiting to be sent", pending),
		Err:     err,
	})

	cutoff := database.FormatTimestamp(r.db.Now().Add(-r.staleAge))
	stale, err := r.db.Emails().Statuses(string(notify.Sending), string(notify.Created)).
		WithNotifyID().ModifiedAtOrBefore(cutoff).Count(ctx)
	res.Tasks = append(res.Tasks, TaskResult{
		Name:    UpdateStale,
		Summary: fmt.Sprintf("[dry-run] %d emails with stale status", stale),
		Err:     err,
	})

	open, err := r.db.Reviews().ConsultationOpen(today).ExcludeLegacy().
		WithoutNotifications(database.KindOpenConsultation).Count(ctx)
	res.Tasks = append(res.Tasks, TaskResult{
		Name:    OpenNotifications,
		Summary: fmt.Sprintf("[dry-run] %d reviews due consultation emails", open),
		Err:     err,
	})

	published, err := r.db.Reviews().Published().ExcludeLegacy().
		WithoutNotifications(database.KindDecisionPublished).Count(ctx)
	res.Tasks = append(res.Tasks, TaskResult{
		Name:    DecisionNotices,
		Summary: fmt.Sprintf("[dry-run] %d reviews due decision emails", published),
		Err:     err,
	})
	return res
}
