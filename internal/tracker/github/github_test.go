package github

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gh "github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/tracker"
)

type fakeIssues struct {
	mu      sync.Mutex
	pages   [][]*gh.Issue
	issues  map[int]*gh.Issue
	created []*gh.IssueRequest
	edits   map[int]*gh.IssueRequest
	listErr error
}

func newFakeIssues() *fakeIssues {
	return &fakeIssues{issues: map[int]*gh.Issue{}, edits: map[int]*gh.IssueRequest{}}
}

func (f *fakeIssues) Create(_ context.Context, _, _ string, req *gh.IssueRequest) (*gh.Issue, *gh.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	return &gh.Issue{Number: gh.Ptr(len(f.created))}, &gh.Response{}, nil
}

func (f *fakeIssues) Edit(_ context.Context, _, _ string, number int, req *gh.IssueRequest) (*gh.Issue, *gh.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[number] = req
	return &gh.Issue{Number: gh.Ptr(number)}, &gh.Response{}, nil
}

func (f *fakeIssues) Get(_ context.Context, _, _ string, number int) (*gh.Issue, *gh.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[number]
	if !ok {
		return nil, nil, errors.New("404 Not Found")
	}
	return issue, &gh.Response{}, nil
}

func (f *fakeIssues) ListByRepo(_ context.Context, _, _ string, opts *gh.IssueListByRepoOptions) ([]*gh.Issue, *gh.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, nil, f.listErr
	}
	page := opts.Page
	if page == 0 {
		page = 1
	}
	if page > len(f.pages) {
		return nil, &gh.Response{}, nil
	}
	resp := &gh.Response{}
	if page < len(f.pages) {
		resp.NextPage = page + 1
	}
	return f.pages[page-1], resp, nil
}

func issue(number int, state string, labels ...string) *gh.Issue {
	i := &gh.Issue{
		Number:  gh.Ptr(number),
		Title:   gh.Ptr("issue"),
		Body:    gh.Ptr("body"),
		State:   gh.Ptr(state),
		HTMLURL: gh.Ptr("https://github.com/acme/app/issues/1"),
	}
	for _, l := range labels {
		i.Labels = append(i.Labels, &gh.Label{Name: gh.Ptr(l)})
	}
	return i
}

func newTracker(t *testing.T, issues *fakeIssues, vars map[string]any) *Tracker {
	t.Helper()
	base := map[string]any{VarOwner: "acme", VarRepo: "app", VarPollInterval: -1}
	for k, v := range vars {
		base[k] = v
	}
	tr, err := New(objects.Config{ID: "tr1", Name: "board", Kind: objects.KindTracker, Subtype: Subtype, Variables: base}, WithIssues(issues))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Destroy(context.Background()) })
	return tr
}

func collect(t *testing.T, tr *Tracker) func() []tracker.TicketEvent {
	t.Helper()
	var mu sync.Mutex
	var got []tracker.TicketEvent
	stop, err := tr.Watch(context.Background(), func(_ context.Context, ev tracker.TicketEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	t.Cleanup(stop)
	return func() []tracker.TicketEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]tracker.TicketEvent(nil), got...)
	}
}

func TestNewValidatesVariables(t *testing.T) {
	_, err := New(objects.Config{ID: "tr1", Variables: map[string]any{VarPollInterval: "soon"}})
	require.Error(t, err)
	for _, want := range []string{VarOwner, VarRepo, VarAccessToken, VarPollInterval} {
		assert.Contains(t, err.Error(), want)
	}

	tr, err := New(objects.Config{ID: "tr1", Variables: map[string]any{VarOwner: "acme", VarRepo: "app"}}, WithToken("ghp-1"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, tr.poll)
}

func TestPollInterval(t *testing.T) {
	tests := []struct {
		in   any
		want time.Duration
	}{
		{nil, DefaultPollInterval},
		{"2m", 2 * time.Minute},
		{30, 30 * time.Second},
		{float64(1), minPollInterval},
		{-1, -time.Second},
	}
	for _, tc := range tests {
		got, err := pollInterval(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.in)
	}
	_, err := pollInterval(true)
	assert.Error(t, err)
}

func TestRefreshEmitsChangedIssues(t *testing.T) {
	issues := newFakeIssues()
	issues.pages = [][]*gh.Issue{
		{issue(1, "open", "Todo", "bug"), issue(2, "open", "unrelated")},
		{issue(3, "open", "In Progress"), issue(4, "closed")},
	}
	pr := issue(5, "open", "Todo")
	pr.PullRequestLinks = &gh.PullRequestLinks{URL: gh.Ptr("https://api.github.com/pulls/5")}
	issues.pages[1] = append(issues.pages[1], pr)

	tr := newTracker(t, issues, nil)
	events := collect(t, tr)
	ctx := context.Background()

	require.NoError(t, tr.Refresh(ctx))
	require.Eventually(t, func() bool { return len(events()) == 3 }, time.Second, 10*time.Millisecond)

	byID := map[string]tracker.TicketEvent{}
	for _, ev := range events() {
		byID[ev.TicketID] = ev
		assert.Equal(t, "tr1", ev.TrackerID)
	}
	assert.Equal(t, tracker.TicketOpen, byID["1"].Data.Status)
	assert.Equal(t, []string{"bug"}, byID["1"].Data.Labels)
	assert.Equal(t, tracker.TicketInProgress, byID["3"].Data.Status)
	assert.Equal(t, tracker.TicketClosed, byID["4"].Data.Status)

	require.NoError(t, tr.Refresh(ctx))
	issues.mu.Lock()
	issues.pages[0][0] = issue(1, "open", "In Progress")
	issues.mu.Unlock()
	require.NoError(t, tr.Refresh(ctx))
	require.Eventually(t, func() bool { return len(events()) == 4 }, time.Second, 10*time.Millisecond)
	last := events()[3]
	assert.Equal(t, "1", last.TicketID)
	assert.Equal(t, tracker.TicketInProgress, last.Data.Status)
}

func TestRefreshListError(t *testing.T) {
	issues := newFakeIssues()
	issues.listErr = errors.New("rate limited")
	tr := newTracker(t, issues, nil)
	assert.ErrorContains(t, tr.Refresh(context.Background()), "rate limited")
}

func TestCreateTicket(t *testing.T) {
	issues := newFakeIssues()
	tr := newTracker(t, issues, map[string]any{VarToDoColumn: "Backlog"})
	ctx := context.Background()

	require.NoError(t, tr.CreateTicket(ctx, tracker.TicketCreateRequest{
		Input: tracker.TicketData{Name: "Fix login", Description: "oauth fails", Labels: []string{"bug"}},
	}))
	require.Len(t, issues.created, 1)
	req := issues.created[0]
	assert.Equal(t, "Fix login", req.GetTitle())
	assert.Equal(t, "oauth fails", req.GetBody())
	assert.Equal(t, []string{"bug", "Backlog"}, req.GetLabels())

	assert.Error(t, tr.CreateTicket(ctx, tracker.TicketCreateRequest{}))
	assert.Error(t, tr.CreateTicket(ctx, tracker.TicketCreateRequest{Input: tracker.TicketData{Name: "x", Status: tracker.TicketArchived}}))
}

func TestUpdateTicketMovesColumns(t *testing.T) {
	issues := newFakeIssues()
	issues.issues[7] = issue(7, "open", "Todo", "bug")
	tr := newTracker(t, issues, nil)
	ctx := context.Background()

	require.NoError(t, tr.UpdateTicket(ctx, tracker.TicketUpdateRequest{
		TicketID: "7",
		Data:     tracker.TicketData{Status: tracker.TicketInProgress},
	}))
	edit := issues.edits[7]
	assert.Equal(t, []string{"bug", "In Progress"}, edit.GetLabels())
	assert.Equal(t, "open", edit.GetState())

	require.NoError(t, tr.UpdateTicket(ctx, tracker.TicketUpdateRequest{
		TicketID: "7",
		Data:     tracker.TicketData{Status: tracker.TicketCompleted, Name: "renamed"},
	}))
	edit = issues.edits[7]
	assert.Equal(t, "closed", edit.GetState())
	assert.Equal(t, "completed", edit.GetStateReason())
	assert.Equal(t, "renamed", edit.GetTitle())

	require.NoError(t, tr.UpdateTicket(ctx, tracker.TicketUpdateRequest{TicketID: "7", Data: tracker.TicketData{Description: "more"}}))
	assert.Nil(t, issues.edits[7].Labels)

	assert.Error(t, tr.UpdateTicket(ctx, tracker.TicketUpdateRequest{TicketID: "abc"}))
	assert.Error(t, tr.UpdateTicket(ctx, tracker.TicketUpdateRequest{TicketID: "9", Data: tracker.TicketData{Status: tracker.TicketOpen}}))
	assert.Error(t, tr.UpdateTicket(ctx, tracker.TicketUpdateRequest{TicketID: "7", Data: tracker.TicketData{Status: tracker.TicketDeleted}}))
}

func TestWatchStartsPolling(t *testing.T) {
	issues := newFakeIssues()
	issues.pages = [][]*gh.Issue{{issue(1, "open", "Todo")}}
	tr := newTracker(t, issues, map[string]any{VarPollInterval: 5})
	events := collect(t, tr)
	require.Eventually(t, func() bool { return len(events()) == 1 }, 8*time.Second, 50*time.Millisecond)
}
