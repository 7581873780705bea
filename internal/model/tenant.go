package model

import "github.com/rotisserie/eris"

// Tier is a tenant's subscription tier; it bounds how many competitor URLs
// one analysis job may carry.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// CompetitorCap returns the maximum number of competitor URLs accepted into a
// job for this tier. A negative value means unbounded.
func (t Tier) CompetitorCap() int {
	switch t {
	case TierBasic:
		return 3
	case TierPremium:
		return 10
	case TierEnterprise:
		return -1
	default:
		return 0
	}
}

// TenantContext is the business profile and survey context read from the
// tenant store. It is read-only input to the pipeline.
type TenantContext struct {
	TenantID       string   `json:"tenant_id"`
	BusinessName   string   `json:"business_name"`
	Description    string   `json:"description,omitempty"`
	TargetURL      string   `json:"target_url"`
	CompetitorURLs []string `json:"competitor_urls,omitempty"`
	Industry       string   `json:"industry,omitempty"`
	Niche          string   `json:"niche,omitempty"`
	Goals          []string `json:"goals,omitempty"` // at most 3 are used
	BrandTone      string   `json:"brand_tone,omitempty"`
	Guardrails     string   `json:"guardrails,omitempty"`
	Audience       string   `json:"audience,omitempty"`
	Tier           Tier     `json:"tier"`
}

// maxGoals bounds how many tenant goals flow into a plan.
const maxGoals = 3

// PlanGoals returns at most three goals from the tenant context.
func (tc *TenantContext) PlanGoals() []string {
	if len(tc.Goals) <= maxGoals {
		return tc.Goals
	}
	return tc.Goals[:maxGoals]
}

// Validate checks the contract the pipeline depends on. Violations are
// programming/contract errors: the job fails immediately without retries.
func (tc *TenantContext) Validate() error {
	if tc.TenantID == "" {
		return eris.New("tenant context: missing tenant id")
	}
	if tc.TargetURL == "" {
		return eris.New("tenant context: missing target url")
	}
	if cap := tc.Tier.CompetitorCap(); cap >= 0 && len(tc.CompetitorURLs) > cap {
		return eris.Errorf("tenant context: %d competitor urls exceeds %s tier cap of %d",
			len(tc.CompetitorURLs), tc.Tier, cap)
	}
	return nil
}
