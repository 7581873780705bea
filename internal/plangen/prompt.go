package plangen

import (
	"fmt"
	"strings"

	"github.com/beaconhq/growth-engine/internal/model"
)

const planSystemPrompt = `You are a marketing strategist for small and mid-size businesses.
You produce practical, specific marketing plans grounded ONLY in the business
context, website findings, and knowledge passages provided. Never invent facts
about the business. Respond with a single JSON object and nothing else.`

const planResponseShape = `{
  "strategy": [
    {"goal": "<one of the stated goals, verbatim>", "title": "<short focus area title>", "description": "<2-4 sentences>"}
  ],
  "tasks": ["<concrete actionable task>", "..."]
}`

// buildPlanPrompt assembles the single structured prompt for full plan
// generation: business context, at most three goals, tone and guardrails,
// condensed crawl findings for the tenant's site and each competitor, and the
// retrieved knowledge passages with source attribution.
func buildPlanPrompt(tenant model.TenantContext, summaries []model.TargetSummary, snippets []model.RetrievedSnippet) string {
	var sb strings.Builder

	sb.WriteString("## Business\n")
	writeField(&sb, "Name", tenant.BusinessName)
	writeField(&sb, "Description", tenant.Description)
	writeField(&sb, "Industry", tenant.Industry)
	writeField(&sb, "Niche", tenant.Niche)
	writeField(&sb, "Audience", tenant.Audience)
	writeField(&sb, "Website", tenant.TargetURL)

	sb.WriteString("\n## Goals\n")
	for i, g := range tenant.PlanGoals() {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, g)
	}

	if tenant.BrandTone != "" || tenant.Guardrails != "" {
		sb.WriteString("\n## Voice\n")
		writeField(&sb, "Brand tone", tenant.BrandTone)
		writeField(&sb, "Guardrails", tenant.Guardrails)
	}

	if len(summaries) > 0 {
		sb.WriteString("\n## Website findings\n")
		for _, s := range summaries {
			writeSummary(&sb, s)
		}
	}

	if len(snippets) > 0 {
		sb.WriteString("\n## Knowledge passages\n")
		sb.WriteString("Ground your recommendations in these passages and stay consistent with them.\n")
		for _, sn := range snippets {
			fmt.Fprintf(&sb, "[%s] %s\n", sn.SourceDocumentID, strings.TrimSpace(sn.Text))
		}
	}

	sb.WriteString("\n## Output\n")
	sb.WriteString("Return JSON with this exact shape. Every goal above must appear in exactly one strategy entry. The tasks list must not be empty.\n")
	sb.WriteString(planResponseShape)
	sb.WriteString("\n")

	return sb.String()
}

// writeSummary condenses one crawl target into a few prompt lines.
func writeSummary(sb *strings.Builder, s model.TargetSummary) {
	label := "Own site"
	if s.Target.Kind == model.TargetCompetitor {
		label = "Competitor"
	}
	fmt.Fprintf(sb, "### %s: %s\n", label, s.Target.URL)
	if s.Description != "" {
		fmt.Fprintf(sb, "Positioning: %s\n", s.Description)
	}
	if len(s.Topics) > 0 {
		fmt.Fprintf(sb, "Pages/topics: %s\n", strings.Join(s.Topics, "; "))
	}
	if s.PagesFailed > 0 || s.BrokenLinks > 0 {
		fmt.Fprintf(sb, "Site health: %d pages unreachable, %d broken links\n", s.PagesFailed, s.BrokenLinks)
	}
}

// buildRepairPrompt re-issues the original prompt with the invalid response
// and the validation error, asking for a corrected response.
func buildRepairPrompt(original, invalidResponse string, validationErr error) string {
	var sb strings.Builder
	sb.WriteString(original)
	sb.WriteString("\n## Correction required\n")
	sb.WriteString("Your previous response failed validation.\n")
	fmt.Fprintf(&sb, "Previous response:\n%s\n", strings.TrimSpace(invalidResponse))
	fmt.Fprintf(&sb, "Validation error: %s\n", validationErr.Error())
	sb.WriteString("Return a corrected JSON object with the required shape and nothing else.\n")
	return sb.String()
}

const reevalSystemPrompt = `You are a marketing strategist reviewing one task on an existing marketing plan.
Keep the plan's strategy intact. Respond with a single JSON object and nothing else.`

// buildReevalPrompt assembles the narrow re-evaluation prompt: current plan
// outline, sibling tasks, and the changed or added task.
func buildReevalPrompt(plan *model.Plan, siblings []model.Task, changed model.Task) string {
	var sb strings.Builder

	sb.WriteString("## Current plan\n")
	for _, fa := range plan.StrategyOutline {
		fmt.Fprintf(&sb, "- %s: %s\n", fa.Title, fa.Description)
	}

	sb.WriteString("\n## Existing tasks\n")
	for _, t := range siblings {
		if t.ID == changed.ID {
			continue
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", t.Status, t.Description)
	}

	verb := "edited"
	if changed.Origin == model.TaskUserAdded {
		verb = "added"
	}
	fmt.Fprintf(&sb, "\n## Task the user %s\n%s\n", verb, changed.Description)

	sb.WriteString("\n## Output\n")
	sb.WriteString(`Return JSON: {"updated_description": "<improved description, or empty string to keep as-is>", "related_tasks": ["<new related task>", "..."]}`)
	sb.WriteString("\nSuggest related tasks only when they clearly follow from the change; an empty list is fine.\n")

	return sb.String()
}

func writeField(sb *strings.Builder, name, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(sb, "%s: %s\n", name, value)
}
