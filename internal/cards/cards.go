// Package cards builds and serializes agent capability manifests
// ("cards") — the JSON-LD documents agents publish so Discovery (C3) can
// register them and callers can inspect their skills. Grounded on the
// teacher's pkg/models card-building helpers pattern, generalized to the
// mesh.AgentCard shape.
package cards

import (
	"strings"
	"time"

	"github.com/hyvve/agentmesh/internal/mesh"
)

// DefaultInputModes and DefaultOutputModes are applied when a card omits
// them.
var (
	DefaultInputModes  = []string{"text"}
	DefaultOutputModes = []string{"text", "tool_calls"}
)

// Build constructs a fully populated AgentCard for agentID, served from
// baseURL joined with path.
func Build(agentID, baseURL, path string, customSkills []mesh.Skill, customDescription string) mesh.AgentCard {
	url := JoinURL(baseURL, path)

	description := customDescription
	if description == "" {
		description = "Agent " + agentID
	}

	skills := customSkills
	if skills == nil {
		skills = []mesh.Skill{}
	}

	return mesh.AgentCard{
		Name:               agentID,
		Description:        description,
		URL:                url,
		Version:            "1.0",
		Skills:             skills,
		Capabilities:       mesh.Capabilities{Streaming: true},
		DefaultInputModes:  append([]string(nil), DefaultInputModes...),
		DefaultOutputModes: append([]string(nil), DefaultOutputModes...),
		CreatedAt:          time.Now(),
		LastSeen:           time.Now(),
	}
}

// JoinURL joins base and path with exactly one "/" between them,
// regardless of whether either side carries a trailing or leading slash.
func JoinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return base
	}
	return base + "/" + path
}

// skillDTO is a Skill re-keyed to the camelCase wire shape the rest of the
// JSON-LD envelope uses; mesh.Skill's own tags are snake_case for internal
// registry storage, not for discovery responses.
type skillDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func skillDTOs(skills []mesh.Skill) []skillDTO {
	if len(skills) == 0 {
		return nil
	}
	out := make([]skillDTO, len(skills))
	for i, s := range skills {
		out[i] = skillDTO{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			InputModes:  s.InputModes,
			OutputModes: s.OutputModes,
			Tags:        s.Tags,
		}
	}
	return out
}

// jsonLD is the wire shape for the per-agent discovery endpoint.
type jsonLD struct {
	Context            string            `json:"@context"`
	Type               string            `json:"@type"`
	Name               string            `json:"name"`
	Description        string            `json:"description,omitempty"`
	URL                string            `json:"url"`
	Version            string            `json:"version,omitempty"`
	Module             string            `json:"module,omitempty"`
	Skills             []skillDTO        `json:"skills,omitempty"`
	Capabilities       mesh.Capabilities `json:"capabilities"`
	DefaultInputModes  []string          `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string          `json:"defaultOutputModes,omitempty"`
}

// ToJSONLD wraps an AgentCard in a schema.org AIAgent JSON-LD envelope.
func ToJSONLD(card mesh.AgentCard) map[string]any {
	doc := jsonLD{
		Context:            "https://schema.org",
		Type:               "AIAgent",
		Name:               card.Name,
		Description:        card.Description,
		URL:                card.URL,
		Version:            card.Version,
		Module:             card.Module,
		Skills:             skillDTOs(card.Skills),
		Capabilities:       card.Capabilities,
		DefaultInputModes:  card.DefaultInputModes,
		DefaultOutputModes: card.DefaultOutputModes,
	}
	return structToMap(doc)
}

func structToMap(doc jsonLD) map[string]any {
	m := map[string]any{
		"@context":     doc.Context,
		"@type":        doc.Type,
		"name":         doc.Name,
		"url":          doc.URL,
		"capabilities": doc.Capabilities,
	}
	if doc.Description != "" {
		m["description"] = doc.Description
	}
	if doc.Version != "" {
		m["version"] = doc.Version
	}
	if doc.Module != "" {
		m["module"] = doc.Module
	}
	if len(doc.Skills) > 0 {
		m["skills"] = doc.Skills
	}
	if len(doc.DefaultInputModes) > 0 {
		m["defaultInputModes"] = doc.DefaultInputModes
	}
	if len(doc.DefaultOutputModes) > 0 {
		m["defaultOutputModes"] = doc.DefaultOutputModes
	}
	return m
}
