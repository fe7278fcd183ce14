package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	_, err := Open("oracle", "x")
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestChannelMessages(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	msg := &ChannelMessage{ID: "m1", ChannelID: "c1", Status: StatusAwaitingResponse}
	require.NoError(t, db.CreateChannelMessage(ctx, msg))
	require.NoError(t, db.UpdateChannelMessageStatus(ctx, "m1", StatusResponseReceived))

	got, err := db.FindChannelMessage(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusResponseReceived, got.Status)

	created, err := db.FindOrCreateChannelMessage(ctx, &ChannelMessage{ID: "m1", Status: "other"})
	require.NoError(t, err)
	assert.False(t, created)
	created, err = db.FindOrCreateChannelMessage(ctx, &ChannelMessage{ID: "m2"})
	require.NoError(t, err)
	assert.True(t, created)

	missing, err := db.FindChannelMessage(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestChannelSessions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s, created, err := db.FindOrCreateChannelSession(ctx, "c1", "t1", StatusStarted)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusStarted, s.Status)

	again, created, err := db.FindOrCreateChannelSession(ctx, "c1", "t1", StatusStarted)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, s.ID, again.ID)

	require.NoError(t, db.UpdateChannelSessionStatus(ctx, "c1", "t1", StatusError))
	got, err := db.FindChannelSession(ctx, "c1", "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)

	assert.NoError(t, db.UpdateChannelSessionStatus(ctx, "c1", "unknown", StatusError))
}

func TestToolState(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	none, err := db.LatestToolState(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, db.UpsertToolState(ctx, &ToolStateSnapshot{ToolID: "a", TaskExecutionID: "t1", MachineState: `{"v":1}`}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, db.UpsertToolState(ctx, &ToolStateSnapshot{ToolID: "b", TaskExecutionID: "t1", MachineState: `{"v":2}`}))
	require.NoError(t, db.UpsertToolState(ctx, &ToolStateSnapshot{ToolID: "a", TaskExecutionID: "t1", MachineState: `{"v":3}`}))

	latest, err := db.LatestToolState(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "b", latest.ToolID)

	var count int64
	require.NoError(t, db.Gorm().Model(&ToolStateSnapshot{}).Where("tool_id = ?", "a").Count(&count).Error)
	assert.EqualValues(t, 1, count)

	var a ToolStateSnapshot
	require.NoError(t, db.Gorm().Where("tool_id = ?", "a").First(&a).Error)
	assert.Equal(t, `{"v":3}`, a.MachineState)
}

func TestTickets(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateTicketRequest(ctx, &TicketRequest{ID: "r1", TrackerID: "tr", Type: TicketRequestTypeCreate, Status: StatusStarted}))
	require.NoError(t, db.UpdateTicketRequestStatus(ctx, "r1", StatusCompleted, ""))
	req, err := db.FindTicketRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, req.Status)

	require.NoError(t, db.UpsertTicket(ctx, &Ticket{ID: "42", TrackerID: "tr", Status: "open", Data: `{}`}))
	require.NoError(t, db.UpsertTicket(ctx, &Ticket{ID: "42", TrackerID: "tr", Status: "closed", Data: `{"x":1}`}))
	got, err := db.FindTicket(ctx, "tr", "42")
	require.NoError(t, err)
	assert.Equal(t, "closed", got.Status)
	assert.Equal(t, `{"x":1}`, got.Data)
}

func TestDocuments(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	doc, created, err := db.FindOrCreateDocument(ctx, &Document{ID: "d1", RepositoryID: "r1", Status: StatusUploaded})
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = db.FindOrCreateDocument(ctx, &Document{ID: "d1"})
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, db.UpdateDocumentStatus(ctx, doc.ID, StatusDeleted))
	deleted, err := db.DocumentsByStatus(ctx, StatusDeleted)
	require.NoError(t, err)
	assert.Len(t, deleted, 1)

	require.NoError(t, db.CreateDocumentRepository(ctx, &DocumentRepository{ID: "r1", Status: StatusDeleted}))
	repos, err := db.DocumentRepositoriesByStatus(ctx, StatusDeleted)
	require.NoError(t, err)
	assert.Len(t, repos, 1)

	n, err := db.CountDocuments(ctx, "r1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, db.PurgeDocumentRepository(ctx, "r1"))
	left, err := db.FindDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, left)
}

func TestWorkRequests(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateWorkRequest(ctx, &WorkRequest{ID: "w1", WorkerID: "wk", TaskExecutionID: "t1", Status: StatusQueued}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, db.CreateWorkRequest(ctx, &WorkRequest{ID: "w2", WorkerID: "wk", TaskExecutionID: "t2", Status: StatusQueued}))

	next, err := db.NextQueuedWorkRequest(ctx, "wk")
	require.NoError(t, err)
	assert.Equal(t, "w1", next.ID)

	require.NoError(t, db.UpdateWorkRequest(ctx, "w1", map[string]any{"status": StatusInProgress}))
	n, err := db.CountWorkRequests(ctx, "wk", StatusInProgress)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	claimed, err := db.ClaimWorkRequest(ctx, "w2")
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = db.ClaimWorkRequest(ctx, "w2")
	require.NoError(t, err)
	assert.False(t, claimed)

	found, err := db.FindWorkRequestByTaskExecution(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, "w2", found.ID)

	require.NoError(t, db.DeleteWorkRequestsByTaskExecution(ctx, "t2"))
	found, err = db.FindWorkRequestByTaskExecution(ctx, "t2")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestUpsertWorkRequest(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertWorkRequest(ctx, &WorkRequest{ID: "w1", WorkerID: "wk", TaskExecutionID: "t1", Status: StatusError, Response: "first"}))
	require.NoError(t, db.UpsertWorkRequest(ctx, &WorkRequest{ID: "w2", WorkerID: "wk2", TaskExecutionID: "t1", Status: StatusError, Response: "second"}))

	found, err := db.FindWorkRequestByTaskExecution(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "w1", found.ID)
	assert.Equal(t, "wk2", found.WorkerID)
	assert.Equal(t, "second", found.Response)
}

func TestResources(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateResourceWrite(ctx, &ResourceWrite{ID: "w1", ResourceID: "r", Status: StatusStarted}))
	require.NoError(t, db.UpdateResourceWriteStatus(ctx, "w1", StatusSuccess, ""))
	w, err := db.FindResourceWrite(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, w.Status)

	require.NoError(t, db.CreateResourceVersion(ctx, &ResourceVersion{ID: "v1", ResourceID: "r", Data: "a"}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, db.CreateResourceVersion(ctx, &ResourceVersion{ID: "v2", ResourceID: "r", Data: "b"}))
	require.NoError(t, db.CreateResourceVersion(ctx, &ResourceVersion{ID: "v2", ResourceID: "r", Data: "dup"}))
	latest, err := db.LatestResourceVersion(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "v2", latest.ID)
	assert.Equal(t, "b", latest.Data)
}
