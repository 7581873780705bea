package plangen

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/growth-engine/internal/model"
)

// fakeGen returns scripted responses in order and records prompts.
type fakeGen struct {
	responses []string
	err       error
	prompts   []string
	systems   []string
}

func (f *fakeGen) GenerateText(_ context.Context, system, prompt string) (string, error) {
	f.systems = append(f.systems, system)
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	i := len(f.prompts) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func genTenant() model.TenantContext {
	return model.TenantContext{
		TenantID:     "t-1",
		BusinessName: "Acme Plumbing",
		Description:  "Family plumbing company",
		TargetURL:    "https://acme.example",
		Industry:     "home services",
		Niche:        "plumbing",
		Goals:        []string{"more leads", "brand awareness"},
		BrandTone:    "friendly, plain-spoken",
		Guardrails:   "no discount promises",
		Tier:         model.TierBasic,
	}
}

func TestGenerate_Success(t *testing.T) {
	gen := &fakeGen{responses: []string{validPlanJSON()}}

	plan, tasks, err := New(gen, Config{}).Generate(context.Background(), genTenant(), nil, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, "t-1", plan.TenantID)
	assert.Empty(t, plan.JobID, "job identity is the caller's")
	assert.Equal(t, []string{"more leads", "brand awareness"}, plan.Goals)
	require.Len(t, plan.StrategyOutline, 2)

	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, plan.ID, task.PlanID)
		assert.Equal(t, model.TaskToDo, task.Status)
		assert.Equal(t, model.TaskAiSuggested, task.Origin)
	}
	require.Len(t, gen.prompts, 1, "valid response needs no repair")
}

func TestGenerate_PromptCarriesContext(t *testing.T) {
	gen := &fakeGen{responses: []string{validPlanJSON()}}

	summaries := []model.TargetSummary{
		{Target: model.CrawlTarget{Kind: model.TargetSite, URL: "https://acme.example"}, Topics: []string{"Drain Cleaning"}, Description: "24/7 plumbing", BrokenLinks: 2},
		{Target: model.CrawlTarget{Kind: model.TargetCompetitor, URL: "https://rival.example"}, Topics: []string{"Water Heaters"}},
	}
	snippets := []model.RetrievedSnippet{
		{SnippetID: "s1", SourceDocumentID: "local-seo", Text: "Claim your business profile.", RelevanceScore: 0.9},
	}

	_, _, err := New(gen, Config{}).Generate(context.Background(), genTenant(), summaries, snippets)
	require.NoError(t, err)

	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "Acme Plumbing")
	assert.Contains(t, prompt, "1. more leads")
	assert.Contains(t, prompt, "friendly, plain-spoken")
	assert.Contains(t, prompt, "no discount promises")
	assert.Contains(t, prompt, "Own site: https://acme.example")
	assert.Contains(t, prompt, "Competitor: https://rival.example")
	assert.Contains(t, prompt, "[local-seo] Claim your business profile.")
	assert.Contains(t, prompt, "2 broken links")
}

func TestGenerate_RepairRecoversInvalidResponse(t *testing.T) {
	gen := &fakeGen{responses: []string{
		`{"strategy":[],"tasks":[]}`,
		validPlanJSON(),
	}}

	plan, tasks, err := New(gen, Config{}).Generate(context.Background(), genTenant(), nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, plan)
	assert.NotEmpty(t, tasks)

	require.Len(t, gen.prompts, 2)
	repair := gen.prompts[1]
	assert.Contains(t, repair, "Correction required")
	assert.Contains(t, repair, "strategy list is empty", "repair prompt embeds the validation error")
}

func TestGenerate_FailsAfterRepairBudget(t *testing.T) {
	gen := &fakeGen{responses: []string{`not json at all`}}

	_, _, err := New(gen, Config{RepairAttempts: 1}).Generate(context.Background(), genTenant(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid after repair")
	assert.Len(t, gen.prompts, 2, "one initial attempt plus one repair")
}

func TestGenerate_EmptyTaskListIsFailure(t *testing.T) {
	noTasks := strings.Replace(validPlanJSON(), `["Set up Google Business Profile", "Write first blog post"]`, `[]`, 1)
	gen := &fakeGen{responses: []string{noTasks, noTasks}}

	_, _, err := New(gen, Config{}).Generate(context.Background(), genTenant(), nil, nil)
	require.Error(t, err)
}

func TestGenerate_ProviderErrorPropagates(t *testing.T) {
	gen := &fakeGen{err: eris.New("overloaded")}

	_, _, err := New(gen, Config{}).Generate(context.Background(), genTenant(), nil, nil)
	require.Error(t, err)
	assert.Len(t, gen.prompts, 1, "provider errors are not repaired in-stage")
}

func TestGenerate_NoGoals(t *testing.T) {
	tenant := genTenant()
	tenant.Goals = nil

	_, _, err := New(&fakeGen{}, Config{}).Generate(context.Background(), tenant, nil, nil)
	require.Error(t, err)
}
