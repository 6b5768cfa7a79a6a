package flow

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompatible(t *testing.T) {
	for _, a := range PortTypes {
		for _, b := range PortTypes {
			want := a == PortAny || b == PortAny || a == b
			assert.Equal(t, want, Compatible(a, b), "Compatible(%q, %q)", a, b)
		}
	}

	assert.True(t, Compatible(PortImage, PortImage))
	assert.False(t, Compatible(PortImage, PortText))
	assert.True(t, Compatible(PortAny, PortVideo))
	assert.True(t, Compatible(PortAudio, PortAny))
}

func TestNodePriority(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want int
	}{
		{"missing", map[string]any{}, DefaultPriority},
		{"int", map[string]any{"priority": 5}, 5},
		{"float from json", map[string]any{"priority": float64(7)}, 7},
		{"json number", map[string]any{"priority": json.Number("3")}, 3},
		{"numeric string", map[string]any{"priority": "12"}, 12},
		{"garbage", map[string]any{"priority": "high"}, DefaultPriority},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &Node{ID: "n", Data: tt.data}
			assert.Equal(t, tt.want, n.Priority())
		})
	}
}

func TestNodeClone_IndependentMaps(t *testing.T) {
	n := &Node{ID: "a", Data: map[string]any{"prompt": "cat"}}
	cp := n.Clone()
	cp.Data["prompt"] = "dog"
	assert.Equal(t, "cat", n.Data["prompt"])
	assert.NotNil(t, cp.Data)
}

func TestDocument_RoundTripFormats(t *testing.T) {
	doc := &Document{
		Version:  DocumentVersion,
		Workflow: WorkflowMeta{ID: "wf-1", Name: "demo", IsPublic: true},
		Nodes: []NodeDocument{
			{ID: "t", Type: "trigger", Position: Position{X: 10, Y: 20}, Data: map[string]any{"label": "Go"}},
			{ID: "g", Type: "image-gen", Position: Position{X: 200.5, Y: 20}, Data: map[string]any{"prompt": "a fox"}},
		},
		Connections: []Connection{{
			ID:   "c1",
			From: Endpoint{NodeID: "t", PortID: "flow", Type: PortFlow},
			To:   Endpoint{NodeID: "g", PortID: "flow", Type: PortFlow},
		}},
		Canvas: Canvas{Pan: Position{X: -5, Y: 3}, Zoom: 1.5},
	}

	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, EncodeDocument(&buf, doc, format))
			got, err := DecodeDocument(&buf, format)
			require.NoError(t, err)
			assert.Equal(t, doc.Workflow, got.Workflow)
			assert.Equal(t, doc.Connections, got.Connections)
			assert.Equal(t, doc.Canvas, got.Canvas)
			require.Len(t, got.Nodes, 2)
			assert.Equal(t, doc.Nodes[1].Position, got.Nodes[1].Position)
			assert.Equal(t, "a fox", got.Nodes[1].Data["prompt"])
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("flow.YML"))
	assert.Equal(t, FormatYAML, FormatFromPath("a/b/flow.yaml"))
	assert.Equal(t, FormatJSON, FormatFromPath("flow.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("flow"))
}

func TestEventBus_SubscribePublish(t *testing.T) {
	bus := NewEventBus()
	var mu sync.Mutex
	var got []EventType
	bus.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	})
	bus.Publish(NewEvent(EventNodeAdded, nil))
	bus.Publish(NewEvent(EventConnectionCreated, nil))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventNodeAdded, EventConnectionCreated}, got)
}

func TestEventBus_NilIsNoop(t *testing.T) {
	var bus *EventBus
	assert.NotPanics(t, func() { bus.Publish(NewEvent(EventNodeAdded, nil)) })
}

func TestNodeStatusFinished(t *testing.T) {
	assert.True(t, NodeStatusCompleted.Finished())
	assert.True(t, NodeStatusFailed.Finished())
	assert.True(t, NodeStatusError.Finished())
	assert.True(t, NodeStatusSkipped.Finished())
	assert.False(t, NodeStatusRunning.Finished())
	assert.False(t, NodeStatusPending.Finished())
}
