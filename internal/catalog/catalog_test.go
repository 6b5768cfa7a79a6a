package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/soochol/nodeflow/internal/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_LoadsBuiltins(t *testing.T) {
	c := Default()

	def, ok := c.Definition("image-gen")
	require.True(t, ok)
	assert.Equal(t, "generation", def.Category)
	prompt, ok := def.Input("prompt")
	require.True(t, ok)
	assert.Equal(t, flow.PortText, prompt.Type)
	assert.False(t, prompt.Optional)
	out, ok := def.Output("image")
	require.True(t, ok)
	assert.Equal(t, flow.PortImage, out.Type)

	trig, ok := c.Definition("scheduled-trigger")
	require.True(t, ok)
	assert.True(t, trig.IsTrigger)
}

func TestIsTrigger(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(flow.NodeTypeDefinition{Type: "webhook", IsTrigger: true}))
	require.NoError(t, c.Register(flow.NodeTypeDefinition{Type: "text-input"}))

	assert.True(t, IsTrigger(c, "webhook"))
	assert.True(t, IsTrigger(c, "trigger"), "reserved type")
	assert.True(t, IsTrigger(c, "start"), "reserved type")
	assert.False(t, IsTrigger(c, "text-input"))
	assert.False(t, IsTrigger(c, "unknown"))
	assert.True(t, IsTrigger(nil, "start"))
}

func TestRegister_RejectsBadPorts(t *testing.T) {
	tests := []struct {
		name string
		def  flow.NodeTypeDefinition
	}{
		{"no type", flow.NodeTypeDefinition{}},
		{"port without id", flow.NodeTypeDefinition{Type: "x", Inputs: []flow.PortDefinition{{Type: flow.PortText}}}},
		{"duplicate port", flow.NodeTypeDefinition{Type: "x", Outputs: []flow.PortDefinition{
			{ID: "o", Type: flow.PortText}, {ID: "o", Type: flow.PortImage},
		}}},
		{"unknown type", flow.NodeTypeDefinition{Type: "x", Inputs: []flow.PortDefinition{{ID: "i", Type: "pdf"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, New().Register(tt.def))
		})
	}
}

func TestDefinition_ReturnsCopy(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(flow.NodeTypeDefinition{Type: "a", Name: "A"}))
	def, _ := c.Definition("a")
	def.Name = "mutated"
	again, _ := c.Definition("a")
	assert.Equal(t, "A", again.Name)
}

func TestList_SortedByCategoryThenType(t *testing.T) {
	c := New()
	require.NoError(t, c.LoadYAML(strings.NewReader(`
node_types:
  - { type: zeta, category: b }
  - { type: alpha, category: b }
  - { type: mid, category: a }
`)))
	list := c.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"mid", "alpha", "zeta"}, []string{list[0].Type, list[1].Type, list[2].Type})
	assert.Equal(t, "zeta", list[2].Name, "name defaults to type")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
node_types:
  - type: upscale
    category: generation
    inputs:
      - { id: image, type: image }
    outputs:
      - { id: image, type: image }
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c := New()
	require.NoError(t, c.LoadFile(path))
	_, ok := c.Definition("upscale")
	assert.True(t, ok)

	assert.Error(t, c.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}
