package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/soochol/nodeflow/internal/catalog"
	"github.com/soochol/nodeflow/internal/dag"
	"github.com/soochol/nodeflow/internal/flow"
	"github.com/soochol/nodeflow/internal/graph"
	"github.com/soochol/nodeflow/internal/repository"
)

// WorkflowService owns the editor sessions: one live graph per open
// workflow, loaded lazily from the repository and written back on Save.
type WorkflowService struct {
	repo    repository.WorkflowRepository
	catalog catalog.Catalog
	bus     *flow.EventBus

	mu       sync.Mutex
	sessions map[string]*graph.Graph
}

// NewWorkflowService creates a WorkflowService. Every session publishes on bus.
func NewWorkflowService(repo repository.WorkflowRepository, c catalog.Catalog, bus *flow.EventBus) *WorkflowService {
	return &WorkflowService{
		repo:     repo,
		catalog:  c,
		bus:      bus,
		sessions: make(map[string]*graph.Graph),
	}
}

// Catalog returns the node-type catalog sessions validate against.
func (s *WorkflowService) Catalog() catalog.Catalog { return s.catalog }

// Create opens a new editor session. doc may be nil for an empty workflow.
// A missing workflow ID is generated; an ID that is already open or stored
// is rejected with ErrWorkflowExists.
func (s *WorkflowService) Create(ctx context.Context, doc *flow.Document) (*graph.Graph, error) {
	if doc == nil {
		doc = &flow.Document{Version: flow.DocumentVersion, Canvas: flow.DefaultCanvas()}
	}
	doc = doc.Clone()
	if doc.Workflow.ID == "" {
		doc.Workflow.ID = flow.GenerateID("wf")
	}
	if doc.Workflow.Name == "" {
		doc.Workflow.Name = "Untitled workflow"
	}
	id := doc.Workflow.ID

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, open := s.sessions[id]; open {
		return nil, fmt.Errorf("%w: workflow %s", ErrWorkflowExists, id)
	}
	if _, err := s.repo.Get(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: workflow %s", ErrWorkflowExists, id)
	}

	g, err := graph.FromDocument(doc, s.catalog, s.bus)
	if err != nil {
		return nil, fmt.Errorf("load workflow document: %w", err)
	}
	s.sessions[id] = g
	slog.Info("workflow session created", "workflow_id", id, "nodes", len(doc.Nodes))
	return g, nil
}

// Graph returns the live graph of workflow id, opening it from the
// repository on first use.
func (s *WorkflowService) Graph(ctx context.Context, id string) (*graph.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.sessions[id]; ok {
		return g, nil
	}
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := graph.FromDocument(doc, s.catalog, s.bus)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", id, err)
	}
	s.sessions[id] = g
	return g, nil
}

// Document serializes the current state of workflow id.
func (s *WorkflowService) Document(ctx context.Context, id string) (*flow.Document, error) {
	g, err := s.Graph(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.Serialize(), nil
}

// List returns the metadata of every stored workflow followed by the
// sessions that were never saved.
func (s *WorkflowService) List(ctx context.Context) ([]flow.WorkflowMeta, error) {
	docs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(docs))
	out := make([]flow.WorkflowMeta, 0, len(docs)+len(s.sessions))
	for _, d := range docs {
		meta := d.Workflow
		if g, ok := s.sessions[meta.ID]; ok {
			meta = g.Meta()
		}
		seen[meta.ID] = true
		out = append(out, meta)
	}
	var unsaved []flow.WorkflowMeta
	for id, g := range s.sessions {
		if !seen[id] {
			unsaved = append(unsaved, g.Meta())
		}
	}
	sortMetas(unsaved)
	return append(out, unsaved...), nil
}

// Replace loads doc into the session of workflow id, keeping the ID.
func (s *WorkflowService) Replace(ctx context.Context, id string, doc *flow.Document) (*graph.Graph, error) {
	g, err := s.Graph(ctx, id)
	if err != nil {
		return nil, err
	}
	doc = doc.Clone()
	doc.Workflow.ID = id
	if err := g.Load(doc); err != nil {
		return nil, err
	}
	return g, nil
}

// Delete closes the session and removes the stored workflow. Unknown IDs
// are a no-op.
func (s *WorkflowService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return nil
}

// Save persists the session of workflow id and reports progress through
// save_status events.
func (s *WorkflowService) Save(ctx context.Context, id string) (*flow.Document, error) {
	g, err := s.Graph(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publishSaveStatus(id, "saving", nil)
	doc := g.Serialize()
	if err := s.repo.Save(ctx, doc); err != nil {
		s.publishSaveStatus(id, "error", err)
		return nil, fmt.Errorf("save workflow %s: %w", id, err)
	}
	s.publishSaveStatus(id, "saved", nil)
	return doc, nil
}

// Analyzer snapshots workflow id for analysis.
func (s *WorkflowService) Analyzer(ctx context.Context, id string) (*dag.Analyzer, error) {
	g, err := s.Graph(ctx, id)
	if err != nil {
		return nil, err
	}
	return dag.New(g.Snapshot(), s.catalog), nil
}

func (s *WorkflowService) publishSaveStatus(id, status string, err error) {
	payload := map[string]any{"status": status}
	if err != nil {
		payload["error"] = err.Error()
	}
	ev := flow.NewEvent(flow.EventSaveStatus, payload)
	ev.WorkflowID = id
	s.bus.Publish(ev)
}

func sortMetas(metas []flow.WorkflowMeta) {
	slices.SortFunc(metas, func(a, b flow.WorkflowMeta) int {
		return strings.Compare(a.ID, b.ID)
	})
}
