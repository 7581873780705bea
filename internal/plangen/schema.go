package plangen

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/beaconhq/growth-engine/internal/model"
)

// planResponse is the strict schema a generation response must satisfy. The
// model's output is untyped only at this boundary; everything downstream
// works with validated structures.
type planResponse struct {
	Strategy []strategyEntry `json:"strategy"`
	Tasks    []string        `json:"tasks"`
}

type strategyEntry struct {
	Goal        string `json:"goal"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

var titleCaser = cases.Title(language.English)

// parsePlanResponse validates raw model output against the plan schema:
// valid JSON, every stated goal covered by exactly one strategy entry, no
// strategy entry for an unstated goal, and a non-empty task list. The
// returned error is embedded verbatim in the repair prompt, so it names the
// specific violation.
func parsePlanResponse(raw string, goals []string, maxTasks int) (*planResponse, error) {
	cleaned := cleanJSON(raw)
	if cleaned == "" {
		return nil, eris.New("response contains no JSON object")
	}

	var resp planResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, eris.Wrap(err, "response is not valid JSON")
	}

	if len(resp.Strategy) == 0 {
		return nil, eris.New("strategy list is empty")
	}

	covered := make(map[string]bool)
	for i := range resp.Strategy {
		e := &resp.Strategy[i]
		e.Goal = strings.TrimSpace(e.Goal)
		e.Description = strings.TrimSpace(e.Description)
		e.Title = titleCaser.String(strings.TrimSpace(e.Title))

		goal, ok := matchGoal(e.Goal, goals)
		if !ok {
			return nil, eris.Errorf("strategy entry %d references unknown goal %q", i+1, e.Goal)
		}
		if covered[goal] {
			return nil, eris.Errorf("goal %q has more than one strategy entry", goal)
		}
		covered[goal] = true
		e.Goal = goal

		if e.Title == "" {
			return nil, eris.Errorf("strategy entry for goal %q has no title", goal)
		}
		if e.Description == "" {
			return nil, eris.Errorf("strategy entry for goal %q has no description", goal)
		}
	}
	for _, g := range goals {
		if !covered[g] {
			return nil, eris.Errorf("goal %q has no strategy entry", g)
		}
	}

	tasks := resp.Tasks[:0]
	for _, t := range resp.Tasks {
		if t = strings.TrimSpace(t); t != "" {
			tasks = append(tasks, t)
		}
	}
	resp.Tasks = tasks
	if len(resp.Tasks) == 0 {
		return nil, eris.New("task list is empty")
	}
	if len(resp.Tasks) > maxTasks {
		resp.Tasks = resp.Tasks[:maxTasks]
	}

	return &resp, nil
}

// focusAreas converts validated strategy entries into the plan outline,
// preserving response order.
func (r *planResponse) focusAreas() []model.FocusArea {
	out := make([]model.FocusArea, 0, len(r.Strategy))
	for _, e := range r.Strategy {
		out = append(out, model.FocusArea{
			Title:       e.Title,
			Description: e.Description,
			Goal:        e.Goal,
		})
	}
	return out
}

// matchGoal resolves a response goal string to a stated goal, tolerating case
// and whitespace drift.
func matchGoal(got string, goals []string) (string, bool) {
	for _, g := range goals {
		if strings.EqualFold(strings.TrimSpace(g), got) {
			return g, true
		}
	}
	return "", false
}

// reevalResponse is the strict schema for the re-evaluation sub-flow.
type reevalResponse struct {
	UpdatedDescription string   `json:"updated_description"`
	RelatedTasks       []string `json:"related_tasks"`
}

// parseReevalResponse validates a re-evaluation response. Both fields may be
// empty; a response that changes nothing is valid.
func parseReevalResponse(raw string) (*reevalResponse, error) {
	cleaned := cleanJSON(raw)
	if cleaned == "" {
		return nil, eris.New("response contains no JSON object")
	}

	var resp reevalResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, eris.Wrap(err, "response is not valid JSON")
	}

	resp.UpdatedDescription = strings.TrimSpace(resp.UpdatedDescription)
	related := resp.RelatedTasks[:0]
	for _, t := range resp.RelatedTasks {
		if t = strings.TrimSpace(t); t != "" {
			related = append(related, t)
		}
	}
	resp.RelatedTasks = related

	return &resp, nil
}

// cleanJSON strips markdown fences and extracts the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}
