// Package github is a tracker backed by the issues of one GitHub
// repository. Board columns are modelled as labels; closing an issue
// completes it.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	gh "github.com/google/go-github/v68/github"
	"github.com/workforce-oss/workforce-sub002/internal/daemon"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/tracker"
	"github.com/workforce-oss/workforce-sub002/pkg/slogx"
	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
	"golang.org/x/oauth2"
)

const (
	Subtype = "github-issues-tracker"

	VarOwner            = "owner"
	VarRepo             = "repo"
	VarAccessToken      = "access_token"
	VarToDoColumn       = "to_do_column"
	VarInProgressColumn = "in_progress_column"
	VarDoneColumn       = "done_column"
	// VarPollInterval is a duration string or a number of seconds. A
	// negative interval turns polling off.
	VarPollInterval = "poll_interval"

	DefaultPollInterval = time.Minute
	minPollInterval     = 5 * time.Second
	pageSize            = 100
)

// Issues is the slice of the GitHub issues API the tracker uses.
// *github.IssuesService satisfies it.
type Issues interface {
	Create(ctx context.Context, owner, repo string, req *gh.IssueRequest) (*gh.Issue, *gh.Response, error)
	Edit(ctx context.Context, owner, repo string, number int, req *gh.IssueRequest) (*gh.Issue, *gh.Response, error)
	Get(ctx context.Context, owner, repo string, number int) (*gh.Issue, *gh.Response, error)
	ListByRepo(ctx context.Context, owner, repo string, opts *gh.IssueListByRepoOptions) ([]*gh.Issue, *gh.Response, error)
}

type Option func(*Tracker)

// WithToken sets the access token used when the config carries none.
func WithToken(token string) Option {
	return func(t *Tracker) {
		if t.token == "" {
			t.token = token
		}
	}
}

// WithIssues replaces the GitHub client.
func WithIssues(issues Issues) Option {
	return func(t *Tracker) { t.issues = issues }
}

func WithLogger(log *slog.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

type Tracker struct {
	*tracker.Base

	owner, repo string
	token       string
	columns     map[tracker.TicketStatus]string
	poll        time.Duration
	issues      Issues
	log         *slog.Logger

	mu   sync.Mutex
	seen map[int]tracker.TicketStatus

	pollOnce sync.Once
	stopPoll func()
}

func New(cfg objects.Config, options ...Option) (*Tracker, error) {
	t := &Tracker{
		Base:  tracker.NewBase(cfg),
		owner: cfg.StringVar(VarOwner, ""),
		repo:  cfg.StringVar(VarRepo, ""),
		token: cfg.StringVar(VarAccessToken, ""),
		columns: map[tracker.TicketStatus]string{
			tracker.TicketOpen:       cfg.StringVar(VarToDoColumn, "Todo"),
			tracker.TicketInProgress: cfg.StringVar(VarInProgressColumn, "In Progress"),
			tracker.TicketCompleted:  cfg.StringVar(VarDoneColumn, "Done"),
		},
		seen: make(map[int]tracker.TicketStatus),
	}
	for _, opt := range options {
		opt(t)
	}
	if t.log == nil {
		t.log = slog.Default().With(slogx.LoggerName("workforce.tracker.github"), slogx.ObjectID(cfg.ID))
	}

	var errs []error
	if t.owner == "" {
		errs = append(errs, fmt.Errorf("variable %s is required", VarOwner))
	}
	if t.repo == "" {
		errs = append(errs, fmt.Errorf("variable %s is required", VarRepo))
	}
	if t.issues == nil && t.token == "" {
		errs = append(errs, fmt.Errorf("variable %s is required", VarAccessToken))
	}
	poll, err := pollInterval(cfg.Variables[VarPollInterval])
	if err != nil {
		errs = append(errs, err)
	}
	t.poll = poll
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("github tracker %s: %w", cfg.ID, err)
	}

	if t.issues == nil {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: t.token})
		t.issues = gh.NewClient(oauth2.NewClient(context.Background(), src)).Issues
	}
	return t, nil
}

func pollInterval(v any) (time.Duration, error) {
	var d time.Duration
	switch n := v.(type) {
	case nil:
		return DefaultPollInterval, nil
	case string:
		parsed, err := time.ParseDuration(n)
		if err != nil {
			return 0, fmt.Errorf("variable %s: %w", VarPollInterval, err)
		}
		d = parsed
	case int:
		d = time.Duration(n) * time.Second
	case int64:
		d = time.Duration(n) * time.Second
	case float64:
		d = time.Duration(n * float64(time.Second))
	default:
		return 0, fmt.Errorf("variable %s: unsupported type %T", VarPollInterval, v)
	}
	if d > 0 && d < minPollInterval {
		d = minPollInterval
	}
	return d, nil
}

// Watch also starts polling the repository the first time it is called.
func (t *Tracker) Watch(ctx context.Context, fn func(context.Context, tracker.TicketEvent)) (func(), error) {
	stop, err := t.Base.Watch(ctx, fn)
	if err != nil {
		return nil, err
	}
	var perr error
	t.pollOnce.Do(func() {
		if t.poll <= 0 {
			return
		}
		var stopPoll func()
		stopPoll, perr = daemon.Every(context.WithoutCancel(ctx), t.poll, "github-tracker-"+t.Config().ID, func(ctx context.Context) {
			if err := t.Refresh(ctx); err != nil {
				t.log.ErrorContext(ctx, "refresh failed", slogx.Error(err))
			}
		})
		t.mu.Lock()
		t.stopPoll = stopPoll
		t.mu.Unlock()
	})
	if perr != nil {
		stop()
		return nil, fmt.Errorf("github tracker %s: poll: %w", t.Config().ID, perr)
	}
	return stop, nil
}

// Refresh lists the repository issues and emits an event for every board
// issue whose status changed since it was last seen.
func (t *Tracker) Refresh(ctx context.Context) error {
	opts := &gh.IssueListByRepoOptions{
		State:       "all",
		ListOptions: gh.ListOptions{PerPage: pageSize},
	}
	for {
		issues, resp, err := t.issues.ListByRepo(ctx, t.owner, t.repo, opts)
		if err != nil {
			return fmt.Errorf("github tracker %s: list issues: %w", t.Config().ID, err)
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			status, ok := t.statusOf(issue)
			if !ok || !t.markSeen(issue.GetNumber(), status) {
				continue
			}
			if err := t.Emit(ctx, tracker.TicketEvent{
				TrackerID:     t.Config().ID,
				TicketID:      strconv.Itoa(issue.GetNumber()),
				TicketEventID: uuidx.NewString(),
				Data:          t.ticketData(issue, status),
			}); err != nil {
				return err
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return nil
		}
		opts.Page = resp.NextPage
	}
}

func (t *Tracker) markSeen(number int, status tracker.TicketStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.seen[number]; ok && prev == status {
		return false
	}
	t.seen[number] = status
	return true
}

// statusOf maps an issue to a board status. Open issues without a column
// label are not on the board.
func (t *Tracker) statusOf(issue *gh.Issue) (tracker.TicketStatus, bool) {
	labels := labelNames(issue)
	if issue.GetState() == "closed" {
		if slices.Contains(labels, t.columns[tracker.TicketCompleted]) || issue.GetStateReason() == "completed" {
			return tracker.TicketCompleted, true
		}
		return tracker.TicketClosed, true
	}
	switch {
	case slices.Contains(labels, t.columns[tracker.TicketCompleted]):
		return tracker.TicketCompleted, true
	case slices.Contains(labels, t.columns[tracker.TicketInProgress]):
		return tracker.TicketInProgress, true
	case slices.Contains(labels, t.columns[tracker.TicketOpen]):
		return tracker.TicketOpen, true
	}
	return "", false
}

func (t *Tracker) ticketData(issue *gh.Issue, status tracker.TicketStatus) tracker.TicketData {
	var labels []string
	for _, l := range labelNames(issue) {
		if !t.isColumn(l) {
			labels = append(labels, l)
		}
	}
	return tracker.TicketData{
		Name:        issue.GetTitle(),
		Description: issue.GetBody(),
		Status:      status,
		URL:         issue.GetHTMLURL(),
		Assignee:    issue.GetAssignee().GetLogin(),
		Reporter:    issue.GetUser().GetLogin(),
		Labels:      labels,
	}
}

func (t *Tracker) isColumn(label string) bool {
	for _, c := range t.columns {
		if c == label {
			return true
		}
	}
	return false
}

func labelNames(issue *gh.Issue) []string {
	names := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		names = append(names, l.GetName())
	}
	return names
}

// CreateTicket opens an issue in the to do column.
func (t *Tracker) CreateTicket(ctx context.Context, req tracker.TicketCreateRequest) error {
	in := req.Input
	if in.Name == "" {
		return fmt.Errorf("github tracker %s: ticket name is required", t.Config().ID)
	}
	status := in.Status
	if status == "" {
		status = tracker.TicketOpen
	}
	column, ok := t.columns[status]
	if !ok {
		return fmt.Errorf("github tracker %s: cannot create a %s ticket", t.Config().ID, status)
	}
	labels := append(slices.Clone(in.Labels), column)
	issue := &gh.IssueRequest{
		Title:  gh.Ptr(in.Name),
		Labels: &labels,
	}
	if in.Description != "" {
		issue.Body = gh.Ptr(in.Description)
	}
	if in.Assignee != "" {
		issue.Assignee = gh.Ptr(in.Assignee)
	}
	created, _, err := t.issues.Create(ctx, t.owner, t.repo, issue)
	if err != nil {
		return fmt.Errorf("github tracker %s: create issue: %w", t.Config().ID, err)
	}
	t.log.DebugContext(ctx, "created issue", slog.Int("number", created.GetNumber()))
	return nil
}

// UpdateTicket applies the given title, body and status to an issue. The
// status moves the issue between column labels; completed and closed
// statuses close it.
func (t *Tracker) UpdateTicket(ctx context.Context, req tracker.TicketUpdateRequest) error {
	number, err := strconv.Atoi(req.TicketID)
	if err != nil {
		return fmt.Errorf("github tracker %s: ticket id %q is not an issue number", t.Config().ID, req.TicketID)
	}
	edit := &gh.IssueRequest{}
	if req.Data.Name != "" {
		edit.Title = gh.Ptr(req.Data.Name)
	}
	if req.Data.Description != "" {
		edit.Body = gh.Ptr(req.Data.Description)
	}
	if req.Data.Assignee != "" {
		edit.Assignee = gh.Ptr(req.Data.Assignee)
	}

	if status := req.Data.Status; status != "" {
		current, _, err := t.issues.Get(ctx, t.owner, t.repo, number)
		if err != nil {
			return fmt.Errorf("github tracker %s: get issue %d: %w", t.Config().ID, number, err)
		}
		labels := make([]string, 0, len(current.Labels)+1)
		for _, l := range labelNames(current) {
			if !t.isColumn(l) {
				labels = append(labels, l)
			}
		}
		switch status {
		case tracker.TicketOpen, tracker.TicketInProgress:
			labels = append(labels, t.columns[status])
			edit.State = gh.Ptr("open")
		case tracker.TicketCompleted:
			labels = append(labels, t.columns[status])
			edit.State = gh.Ptr("closed")
			edit.StateReason = gh.Ptr("completed")
		case tracker.TicketClosed, tracker.TicketFailed:
			edit.State = gh.Ptr("closed")
			edit.StateReason = gh.Ptr("not_planned")
		default:
			return fmt.Errorf("github tracker %s: unsupported status %s", t.Config().ID, status)
		}
		edit.Labels = &labels
	}

	if _, _, err := t.issues.Edit(ctx, t.owner, t.repo, number, edit); err != nil {
		return fmt.Errorf("github tracker %s: edit issue %d: %w", t.Config().ID, number, err)
	}
	return nil
}

func (t *Tracker) Destroy(ctx context.Context) error {
	t.mu.Lock()
	stop := t.stopPoll
	t.stopPoll = nil
	t.mu.Unlock()
	if stop != nil {
		stop()
	}
	return t.Base.Destroy(ctx)
}
