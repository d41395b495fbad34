package cards

import (
	"testing"

	"github.com/hyvve/agentmesh/internal/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAppliesDefaultModes(t *testing.T) {
	card := Build("navi", "http://localhost:8080", "agents/navi", nil, "")
	assert.Equal(t, []string{"text"}, card.DefaultInputModes)
	assert.Equal(t, []string{"text", "tool_calls"}, card.DefaultOutputModes)
	assert.Equal(t, "http://localhost:8080/agents/navi", card.URL)
}

func TestJoinURLNormalizesSlashes(t *testing.T) {
	cases := []struct{ base, path, want string }{
		{"http://host", "path", "http://host/path"},
		{"http://host/", "path", "http://host/path"},
		{"http://host", "/path", "http://host/path"},
		{"http://host/", "/path", "http://host/path"},
		{"http://host", "", "http://host"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, JoinURL(c.base, c.path))
	}
}

func TestToJSONLDIncludesContextAndType(t *testing.T) {
	card := Build("navi", "http://host", "a", []mesh.Skill{{ID: "planning"}}, "plans things")
	doc := ToJSONLD(card)

	assert.Equal(t, "https://schema.org", doc["@context"])
	assert.Equal(t, "AIAgent", doc["@type"])
	assert.Equal(t, "plans things", doc["description"])
	require.Contains(t, doc, "skills")
}

func TestToJSONLDSkillsUseCamelCaseModeKeys(t *testing.T) {
	skill := mesh.Skill{ID: "planning", InputModes: []string{"text"}, OutputModes: []string{"text", "tool_calls"}}
	card := Build("navi", "http://host", "a", []mesh.Skill{skill}, "")
	doc := ToJSONLD(card)

	skills, ok := doc["skills"].([]skillDTO)
	require.True(t, ok)
	require.Len(t, skills, 1)
	assert.Equal(t, []string{"text"}, skills[0].InputModes)
	assert.Equal(t, []string{"text", "tool_calls"}, skills[0].OutputModes)
}

func TestToJSONLDOmitsEmptyOptionalFields(t *testing.T) {
	card := mesh.AgentCard{Name: "bare", URL: "http://host/bare"}
	doc := ToJSONLD(card)
	_, hasModule := doc["module"]
	assert.False(t, hasModule)
	_, hasVersion := doc["version"]
	assert.False(t, hasVersion)
}
