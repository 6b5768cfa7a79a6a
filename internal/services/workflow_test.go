package services

import (
	"context"
	"sync"
	"testing"

	"github.com/soochol/nodeflow/internal/catalog"
	"github.com/soochol/nodeflow/internal/flow"
	"github.com/soochol/nodeflow/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// posterDocument is trigger → image-gen (prompt from text-input) → image-output.
func posterDocument(id string) *flow.Document {
	return &flow.Document{
		Version:  flow.DocumentVersion,
		Workflow: flow.WorkflowMeta{ID: id, Name: "Poster"},
		Nodes: []flow.NodeDocument{
			{ID: "t", Type: "trigger", Data: map[string]any{}},
			{ID: "p", Type: "text-input", Data: map[string]any{"text": "a red fox"}},
			{ID: "g", Type: "image-gen", Data: map[string]any{}},
			{ID: "o", Type: "image-output", Data: map[string]any{}},
		},
		Connections: []flow.Connection{
			{ID: "c1", From: flow.Endpoint{NodeID: "t", PortID: "flow", Type: flow.PortFlow}, To: flow.Endpoint{NodeID: "g", PortID: "flow", Type: flow.PortFlow}},
			{ID: "c2", From: flow.Endpoint{NodeID: "p", PortID: "text", Type: flow.PortText}, To: flow.Endpoint{NodeID: "g", PortID: "prompt", Type: flow.PortText}},
			{ID: "c3", From: flow.Endpoint{NodeID: "g", PortID: "image", Type: flow.PortImage}, To: flow.Endpoint{NodeID: "o", PortID: "image", Type: flow.PortImage}},
		},
		Canvas: flow.DefaultCanvas(),
	}
}

type eventCollector struct {
	mu     sync.Mutex
	events []flow.Event
}

func (c *eventCollector) handle(ev flow.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *eventCollector) ofType(typ flow.EventType) []flow.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []flow.Event
	for _, ev := range c.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newWorkflowService(t *testing.T) (*WorkflowService, repository.WorkflowRepository, *eventCollector) {
	t.Helper()
	repo := repository.NewMemory()
	bus := flow.NewEventBus()
	events := &eventCollector{}
	bus.Subscribe(events.handle)
	return NewWorkflowService(repo, catalog.Default(), bus), repo, events
}

func TestWorkflowService_CreateEmpty(t *testing.T) {
	svc, _, _ := newWorkflowService(t)
	ctx := context.Background()

	g, err := svc.Create(ctx, nil)
	require.NoError(t, err)
	meta := g.Meta()
	assert.NotEmpty(t, meta.ID)
	assert.Equal(t, "Untitled workflow", meta.Name)
	assert.Empty(t, g.Nodes())

	same, err := svc.Graph(ctx, meta.ID)
	require.NoError(t, err)
	assert.Same(t, g, same)
}

func TestWorkflowService_CreateRejectsExistingID(t *testing.T) {
	svc, repo, _ := newWorkflowService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, posterDocument("wf-1"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, posterDocument("wf-1"))
	assert.ErrorIs(t, err, ErrWorkflowExists)

	require.NoError(t, repo.Save(ctx, posterDocument("wf-stored")))
	_, err = svc.Create(ctx, posterDocument("wf-stored"))
	assert.ErrorIs(t, err, ErrWorkflowExists)
}

func TestWorkflowService_OpensStoredWorkflowLazily(t *testing.T) {
	svc, repo, _ := newWorkflowService(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, posterDocument("wf-1")))

	doc, err := svc.Document(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 4)
	assert.Len(t, doc.Connections, 3)

	_, err = svc.Graph(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWorkflowService_SavePersistsAndReportsStatus(t *testing.T) {
	svc, repo, events := newWorkflowService(t)
	ctx := context.Background()

	g, err := svc.Create(ctx, posterDocument("wf-1"))
	require.NoError(t, err)
	_, err = repo.Get(ctx, "wf-1")
	assert.ErrorIs(t, err, repository.ErrNotFound, "create does not persist")

	require.True(t, g.RemoveNode("o"))
	saved, err := svc.Save(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, saved.Nodes, 3)

	stored, err := repo.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, stored.Nodes, 3)
	assert.Len(t, stored.Connections, 2)

	statuses := events.ofType(flow.EventSaveStatus)
	require.Len(t, statuses, 2)
	assert.Equal(t, "saving", statuses[0].Payload["status"])
	assert.Equal(t, "saved", statuses[1].Payload["status"])
	assert.Equal(t, "wf-1", statuses[1].WorkflowID)
}

func TestWorkflowService_ListIncludesUnsavedSessions(t *testing.T) {
	svc, repo, _ := newWorkflowService(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, posterDocument("wf-stored")))
	_, err := svc.Create(ctx, posterDocument("wf-b"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, posterDocument("wf-a"))
	require.NoError(t, err)

	metas, err := svc.List(ctx)
	require.NoError(t, err)
	ids := make([]string, len(metas))
	for i, m := range metas {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"wf-stored", "wf-a", "wf-b"}, ids)
}

func TestWorkflowService_ReplaceKeepsID(t *testing.T) {
	svc, _, _ := newWorkflowService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, posterDocument("wf-1"))
	require.NoError(t, err)

	replacement := posterDocument("other-id")
	replacement.Nodes = replacement.Nodes[:2]
	g, err := svc.Replace(ctx, "wf-1", replacement)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", g.Meta().ID)
	assert.Len(t, g.Nodes(), 2)
	assert.Empty(t, g.Connections(), "connections to removed nodes are dropped")
	assert.Equal(t, "other-id", replacement.Workflow.ID, "caller's document is untouched")
}

func TestWorkflowService_Delete(t *testing.T) {
	svc, repo, _ := newWorkflowService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, posterDocument("wf-1"))
	require.NoError(t, err)
	_, err = svc.Save(ctx, "wf-1")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "wf-1"))
	_, err = svc.Graph(ctx, "wf-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.Get(ctx, "wf-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.NoError(t, svc.Delete(ctx, "never-existed"))
}

func TestWorkflowService_Analyzer(t *testing.T) {
	svc, _, _ := newWorkflowService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, posterDocument("wf-1"))
	require.NoError(t, err)

	a, err := svc.Analyzer(ctx, "wf-1")
	require.NoError(t, err)
	assert.True(t, a.Validate().Valid)
	assert.Equal(t, []string{"t", "p", "g", "o"}, a.Plan().Order)
}
