package dashboard

import (
	"encoding/json"
	"time"

	"github.com/hyvve/agentmesh/internal/aapclient"
)

// UpdateFromGather bulk-ingests the three well-known collaborator results
// (project status from navi, metrics from pulse, activity from herald),
// replaces the error map in one shot, and emits immediately. A nil result
// leaves its widget untouched. A result that cannot be parsed into its
// widget shape yields widget=nil and an entry in errors rather than a
// panic or partial write.
func (e *Emitter) UpdateFromGather(navi, pulse, herald *aapclient.AAPResult, errors map[string]string) {
	e.mu.Lock()
	defer func() {
		e.emitNowLocked()
		e.mu.Unlock()
	}()

	fresh := make(map[string]string, len(errors))

	if navi != nil {
		if ps, ok := parseProjectStatus(navi); ok {
			e.state.Widgets.ProjectStatus = &ps
		} else {
			e.state.Widgets.ProjectStatus = nil
			fresh["navi"] = "could not parse project status artifact"
		}
	}
	if pulse != nil {
		if m, ok := parseMetrics(pulse); ok {
			e.state.Widgets.Metrics = &m
		} else {
			e.state.Widgets.Metrics = nil
			fresh["pulse"] = "could not parse metrics artifact"
		}
	}
	if herald != nil {
		if items, ok := parseActivity(herald); ok {
			hasMore := false
			if len(items) > e.maxActivities {
				items = items[:e.maxActivities]
				hasMore = true
			}
			e.state.Widgets.Activity = &Activity{Items: items, HasMore: hasMore}
		} else {
			e.state.Widgets.Activity = nil
			fresh["herald"] = "could not parse activity artifact"
		}
	}

	// errors replaces the map in one shot: a fresh map built here, not a
	// mutation of the previous e.state.Errors, so an empty-but-non-nil
	// errors leaves state.Errors empty rather than retaining stale entries.
	for agent, msg := range errors {
		if msg == "" {
			continue
		}
		fresh[agent] = msg
	}
	e.state.Errors = fresh
}

// artifactFields tries, in order: the first artifact's own fields, Content
// parsed as a JSON object, and finally a bare summary built from Content.
func artifactFields(r *aapclient.AAPResult) (map[string]any, bool) {
	if len(r.Artifacts) > 0 {
		if m, ok := r.Artifacts[0].(map[string]any); ok {
			return m, true
		}
	}
	if r.Content != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(r.Content), &m); err == nil {
			return m, true
		}
		return map[string]any{"summary": r.Content}, true
	}
	return nil, false
}

func parseProjectStatus(r *aapclient.AAPResult) (ProjectStatus, bool) {
	fields, ok := artifactFields(r)
	if !ok {
		return ProjectStatus{}, false
	}
	status, _ := fields["status"].(string)
	summary, _ := fields["summary"].(string)
	if status == "" {
		status = "on-track"
	}
	return ProjectStatus{Status: status, Summary: summary, UpdatedAt: time.Now()}, true
}

func parseMetrics(r *aapclient.AAPResult) (Metrics, bool) {
	fields, ok := artifactFields(r)
	if !ok {
		return Metrics{}, false
	}
	values := make(map[string]float64)
	if raw, ok := fields["values"].(map[string]any); ok {
		for k, v := range raw {
			if f, ok := v.(float64); ok {
				values[k] = f
			}
		}
	}
	trend, _ := fields["trend"].(string)
	return Metrics{Values: values, Trend: trend}, true
}

func parseActivity(r *aapclient.AAPResult) ([]ActivityItem, bool) {
	fields, ok := artifactFields(r)
	if !ok {
		return nil, false
	}
	raw, ok := fields["items"].([]any)
	if !ok {
		if summary, ok := fields["summary"].(string); ok {
			return []ActivityItem{{ID: randomID(), Title: summary, Timestamp: time.Now()}}, true
		}
		return nil, false
	}

	items := make([]ActivityItem, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		title, _ := m["title"].(string)
		id, _ := m["id"].(string)
		if id == "" {
			id = randomID()
		}
		items = append(items, ActivityItem{ID: id, Title: title, Timestamp: time.Now()})
	}
	return items, true
}
