// Package plangen turns tenant context, crawl findings, and retrieved
// knowledge into a structured marketing plan with an actionable task list.
package plangen

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/beaconhq/growth-engine/internal/model"
)

// TextGenerator abstracts the language-model provider. The concrete provider
// is swappable; the pipeline only ever sees prompt text in and raw text out.
type TextGenerator interface {
	GenerateText(ctx context.Context, system, prompt string) (string, error)
}

// Config bounds one generation pass.
type Config struct {
	// RepairAttempts is how many times a schema-invalid response is
	// re-prompted with the validation error before the stage fails.
	RepairAttempts int
	// MaxTasks caps how many tasks one plan may carry.
	MaxTasks int
}

func (c Config) withDefaults() Config {
	if c.RepairAttempts <= 0 {
		c.RepairAttempts = 1
	}
	if c.MaxTasks <= 0 {
		c.MaxTasks = 12
	}
	return c
}

// Generator produces plans and tasks from a completed crawl and retrieval.
type Generator struct {
	gen     TextGenerator
	cfg     Config
	nowFunc func() time.Time
}

// New creates a Generator.
func New(gen TextGenerator, cfg Config) *Generator {
	return &Generator{gen: gen, cfg: cfg.withDefaults(), nowFunc: time.Now}
}

// Generate invokes the model once with the full structured prompt, validates
// the response against the plan schema, and on a validation failure re-prompts
// once with the validation error embedded. A response that is still invalid
// after the repair attempt fails the stage. An empty task list is a failure,
// never a valid empty plan.
//
// The returned plan's JobID is left empty; the caller owns job identity.
func (g *Generator) Generate(ctx context.Context, tenant model.TenantContext, summaries []model.TargetSummary, snippets []model.RetrievedSnippet) (*model.Plan, []model.Task, error) {
	goals := tenant.PlanGoals()
	if len(goals) == 0 {
		return nil, nil, eris.New("plangen: tenant context has no goals")
	}

	prompt := buildPlanPrompt(tenant, summaries, snippets)

	raw, err := g.gen.GenerateText(ctx, planSystemPrompt, prompt)
	if err != nil {
		return nil, nil, eris.Wrap(err, "plangen: generate")
	}

	parsed, parseErr := parsePlanResponse(raw, goals, g.cfg.MaxTasks)
	for attempt := 0; parseErr != nil && attempt < g.cfg.RepairAttempts; attempt++ {
		zap.L().Warn("plan response failed validation, re-prompting",
			zap.String("tenant_id", tenant.TenantID),
			zap.Int("attempt", attempt+1),
			zap.Error(parseErr),
		)
		raw, err = g.gen.GenerateText(ctx, planSystemPrompt, buildRepairPrompt(prompt, raw, parseErr))
		if err != nil {
			return nil, nil, eris.Wrap(err, "plangen: repair generate")
		}
		parsed, parseErr = parsePlanResponse(raw, goals, g.cfg.MaxTasks)
	}
	if parseErr != nil {
		return nil, nil, eris.Wrap(parseErr, "plangen: response invalid after repair")
	}

	now := g.nowFunc().UTC()
	plan := &model.Plan{
		ID:              uuid.NewString(),
		TenantID:        tenant.TenantID,
		Goals:           goals,
		StrategyOutline: parsed.focusAreas(),
		CreatedAt:       now,
	}

	tasks := make([]model.Task, 0, len(parsed.Tasks))
	for _, desc := range parsed.Tasks {
		tasks = append(tasks, model.Task{
			ID:          uuid.NewString(),
			PlanID:      plan.ID,
			TenantID:    tenant.TenantID,
			Description: desc,
			Status:      model.TaskToDo,
			Origin:      model.TaskAiSuggested,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	zap.L().Info("plan generated",
		zap.String("tenant_id", tenant.TenantID),
		zap.String("plan_id", plan.ID),
		zap.Int("focus_areas", len(plan.StrategyOutline)),
		zap.Int("tasks", len(tasks)),
	)
	return plan, tasks, nil
}
