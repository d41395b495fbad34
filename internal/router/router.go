// Package router selects agents from the mesh for a given task type and
// dispatches requests through the AAP client. Grounded on the pattern of
// the teacher's LLM-provider router (atomic round-robin counter, RWMutex-
// guarded health maps) generalized to serve agent cards instead of model
// providers.
package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/hyvve/agentmesh/internal/aapclient"
	"github.com/hyvve/agentmesh/internal/discovery"
	"github.com/hyvve/agentmesh/internal/mesh"
)

// Decision records why a candidate was (or was not) selected.
type Decision struct {
	Agent     *mesh.AgentCard
	Reasoning string
}

// RouteResult wraps a dispatched call with routing metadata.
type RouteResult struct {
	Agent      string               `json:"agent"`
	Success    bool                 `json:"success"`
	Content    string               `json:"content,omitempty"`
	Error      string               `json:"error,omitempty"`
	DurationMs int64                `json:"duration_ms"`
}

// HealthSummary is the result of refreshing mesh-wide health.
type HealthSummary struct {
	HealthyCount int                                 `json:"healthy_count"`
	TotalCount   int                                 `json:"total_count"`
	HealthyRatio float64                             `json:"healthy_ratio"`
	Agents       map[string]discovery.HealthResult    `json:"agents"`
}

// Router selects candidates from a Registry and dispatches via an AAP Client.
type Router struct {
	registry  *mesh.Registry
	client    *aapclient.Client
	discovery *discovery.Discovery

	mu       sync.Mutex
	rrIndex  map[string]int
}

// New constructs a Router.
func New(registry *mesh.Registry, client *aapclient.Client, disco *discovery.Discovery) *Router {
	return &Router{
		registry:  registry,
		client:    client,
		discovery: disco,
		rrIndex:   make(map[string]int),
	}
}

// FindAgent selects a candidate for taskType following the spec's six-step
// selection algorithm: health filter, preference rule, internal preference,
// capability fallback, overall fallback, round-robin tiebreak. preferredExpr
// is an optional expr-lang boolean expression evaluated per candidate during
// the preference-rule filter step in place of a bare preferredModule match;
// pass "" to skip it.
func (r *Router) FindAgent(taskType, preferredModule, preferredExpr string) Decision {
	healthy := r.registry.ListHealthy()
	if len(healthy) == 0 {
		return Decision{Reasoning: "no healthy agents in mesh"}
	}

	candidates, reasoning := r.applySelection(healthy, taskType, preferredModule, preferredExpr)
	if len(candidates) == 0 {
		return Decision{Reasoning: reasoning}
	}

	chosen := r.roundRobin(taskType, candidates)
	card := chosen
	return Decision{Agent: &card, Reasoning: reasoning}
}

func (r *Router) applySelection(healthy []mesh.AgentCard, taskType, preferredModule, preferredExpr string) ([]mesh.AgentCard, string) {
	// Step 2: preference rule. When preferredExpr is set it replaces the bare
	// module-equality check; each candidate is evaluated once against it.
	var preferred []mesh.AgentCard
	if preferredExpr != "" {
		for _, c := range healthy {
			matched, err := MatchesExpr(c, preferredExpr)
			if err == nil && matched && c.HasSkill(taskType) {
				preferred = append(preferred, c)
			}
		}
	} else if preferredModule != "" {
		for _, c := range healthy {
			if c.Module == preferredModule && c.HasSkill(taskType) {
				preferred = append(preferred, c)
			}
		}
	}
	if len(preferred) > 0 {
		return applyInternalPreference(preferred), "preference rule: module + capability match"
	}

	// Fallback within step 2: any candidate whose skills include task_type.
	var byCapability []mesh.AgentCard
	for _, c := range healthy {
		if c.HasSkill(taskType) {
			byCapability = append(byCapability, c)
		}
	}
	if len(byCapability) > 0 {
		return applyInternalPreference(byCapability), "capability match across all modules"
	}

	// Step 4: capability fallback — any healthy agent of the preferred module.
	if preferredModule != "" {
		var byModule []mesh.AgentCard
		for _, c := range healthy {
			if c.Module == preferredModule {
				byModule = append(byModule, c)
			}
		}
		if len(byModule) > 0 {
			return applyInternalPreference(byModule), "capability fallback: module match only"
		}
	}

	// Step 5: overall fallback — any healthy agent.
	return applyInternalPreference(healthy), "overall fallback: any healthy agent"
}

// applyInternalPreference drops external candidates when at least one
// internal candidate remains, per step 3 of the selection algorithm.
func applyInternalPreference(candidates []mesh.AgentCard) []mesh.AgentCard {
	var internal []mesh.AgentCard
	for _, c := range candidates {
		if !c.IsExternal {
			internal = append(internal, c)
		}
	}
	if len(internal) > 0 {
		return internal
	}
	return candidates
}

// roundRobin advances a monotonic index keyed by taskType and returns the
// candidate at index mod len(candidates), so repeated calls rotate.
// Candidates are ordered by name first, since the registry returns them in
// no fixed order.
func (r *Router) roundRobin(taskType string, candidates []mesh.AgentCard) mesh.AgentCard {
	r.mu.Lock()
	defer r.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })

	idx := r.rrIndex[taskType]
	chosen := candidates[idx%len(candidates)]
	r.rrIndex[taskType] = idx + 1
	return chosen
}

// MatchesExpr evaluates a boolean expr-lang expression against a candidate
// card's fields, for callers supplying a routing expression in place of a
// bare preferred_module string.
func MatchesExpr(card mesh.AgentCard, expression string) (bool, error) {
	if expression == "" {
		return true, nil
	}
	env := map[string]any{
		"module":     card.Module,
		"name":       card.Name,
		"external":   card.IsExternal,
		"tags":       skillTags(card),
	}
	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	v, _ := out.(bool)
	return v, nil
}

func skillTags(card mesh.AgentCard) []string {
	var tags []string
	for _, s := range card.Skills {
		tags = append(tags, s.Tags...)
	}
	return tags
}

// FindAgentsForBroadcast returns every candidate matching moduleFilter and
// capabilityFilter, optionally including external agents.
func (r *Router) FindAgentsForBroadcast(moduleFilter, capabilityFilter string, includeExternal bool) []mesh.AgentCard {
	all := r.registry.ListHealthy()
	var out []mesh.AgentCard
	for _, c := range all {
		if !includeExternal && c.IsExternal {
			continue
		}
		if moduleFilter != "" && c.Module != moduleFilter {
			continue
		}
		if capabilityFilter != "" && !c.HasSkill(capabilityFilter) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// RouteRequest selects an agent for taskType and dispatches message through
// the AAP client, returning a routing-wrapped result. preferredExpr is an
// optional expr-lang expression; see FindAgent.
func (r *Router) RouteRequest(ctx context.Context, taskType, message string, taskContext map[string]any, preferredModule, preferredExpr string, timeout time.Duration) RouteResult {
	decision := r.FindAgent(taskType, preferredModule, preferredExpr)
	if decision.Agent == nil {
		return RouteResult{Success: false, Error: "no agent available: " + decision.Reasoning}
	}

	result := r.client.CallAgent(ctx, decision.Agent.Name, message, taskContext, timeout)
	rr := RouteResult{
		Agent:      decision.Agent.Name,
		Success:    result.Success,
		Content:    result.Content,
		DurationMs: result.DurationMs,
	}
	if result.Error != nil {
		rr.Error = result.Error.Error()
	}
	return rr
}

// BroadcastRequest dispatches message to every agent matching moduleFilter
// in parallel and returns one RouteResult per agent.
func (r *Router) BroadcastRequest(ctx context.Context, message string, taskContext map[string]any, moduleFilter string, includeExternal bool, timeout time.Duration) []RouteResult {
	targets := r.FindAgentsForBroadcast(moduleFilter, "", includeExternal)
	if len(targets) == 0 {
		return nil
	}

	requests := make([]aapclient.Request, len(targets))
	for i, t := range targets {
		requests[i] = aapclient.Request{AgentID: t.Name, Task: message, Context: taskContext}
	}

	results := r.client.CallAgentsParallel(ctx, requests, timeout)
	out := make([]RouteResult, 0, len(results))
	for name, res := range results {
		rr := RouteResult{Agent: name, Success: res.Success, Content: res.Content, DurationMs: res.DurationMs}
		if res.Error != nil {
			rr.Error = res.Error.Error()
		}
		out = append(out, rr)
	}
	return out
}

// RefreshMeshHealth runs Discovery's health sweep and summarizes the result.
func (r *Router) RefreshMeshHealth(ctx context.Context, timeout time.Duration) HealthSummary {
	results := r.discovery.HealthCheckAll(ctx, timeout)

	healthy := 0
	for _, res := range results {
		if res.Healthy {
			healthy++
		}
	}

	total := len(results)
	ratio := 0.0
	if total > 0 {
		ratio = float64(healthy) / float64(total)
	}

	return HealthSummary{
		HealthyCount: healthy,
		TotalCount:   total,
		HealthyRatio: ratio,
		Agents:       results,
	}
}
