// Package budget enforces the daily spend ceiling for search credits.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/serptap/serptap/internal/domain"
)

// Thresholds classify daily usage.
const (
	StatusOK       = "ok"
	StatusWarning  = "warning"
	StatusExceeded = "exceeded"
)

// UsageReader reads credit spend from the store.
type UsageReader interface {
	DailyCreditUsage(ctx context.Context, day time.Time) (int, error)
}

// Status describes the day's budget position.
type Status struct {
	Status        string  `json:"status"`
	SpentUSD      float64 `json:"spent_usd"`
	BudgetUSD     float64 `json:"budget_usd"`
	RemainingUSD  float64 `json:"remaining_usd"`
	UsedPct       float64 `json:"used_pct"`
	CreditsUsed   int     `json:"credits_used"`
	CostPerCredit float64 `json:"cost_per_credit"`
}

// Guard evaluates job cost estimates against the daily budget.
type Guard struct {
	usage         UsageReader
	budgetUSD     float64
	costPerCredit float64
	softPct       float64
	hardPct       float64
}

// New creates a guard. softPct and hardPct are percentages of the daily
// budget (for example 80 and 100).
func New(usage UsageReader, budgetUSD, costPerCredit, softPct, hardPct float64) *Guard {
	return &Guard{
		usage:         usage,
		budgetUSD:     budgetUSD,
		costPerCredit: costPerCredit,
		softPct:       softPct,
		hardPct:       hardPct,
	}
}

// EstimateCredits is the worst-case credit consumption of a job: one credit
// per (zip, page) query. Early exits only make the real spend smaller.
func EstimateCredits(zips, pages int) int {
	return zips * pages
}

// EstimateCost converts a credit estimate to dollars.
func (g *Guard) EstimateCost(credits int) float64 {
	return float64(credits) * g.costPerCredit
}

// Today reports the current day's budget position.
func (g *Guard) Today(ctx context.Context) (*Status, error) {
	credits, err := g.usage.DailyCreditUsage(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("read daily usage: %w", err)
	}
	spent := float64(credits) * g.costPerCredit
	st := &Status{
		Status:        StatusOK,
		SpentUSD:      spent,
		BudgetUSD:     g.budgetUSD,
		RemainingUSD:  g.budgetUSD - spent,
		CreditsUsed:   credits,
		CostPerCredit: g.costPerCredit,
	}
	if g.budgetUSD > 0 {
		st.UsedPct = spent / g.budgetUSD * 100
	}
	switch {
	case st.UsedPct >= g.hardPct:
		st.Status = StatusExceeded
	case st.UsedPct >= g.softPct:
		st.Status = StatusWarning
	}
	return st, nil
}

// Authorize admits a job whose estimated cost fits under the hard ceiling
// for today, logging a warning past the soft threshold. A blocked job
// returns a BudgetExceededError carrying the estimate and what is left.
func (g *Guard) Authorize(ctx context.Context, estimatedCredits int) error {
	st, err := g.Today(ctx)
	if err != nil {
		return err
	}

	cost := g.EstimateCost(estimatedCredits)
	hardCeiling := g.budgetUSD * g.hardPct / 100
	if st.SpentUSD+cost > hardCeiling {
		return &domain.BudgetExceededError{
			EstimatedCost: cost,
			SpentToday:    st.SpentUSD,
			Remaining:     hardCeiling - st.SpentUSD,
			Budget:        g.budgetUSD,
		}
	}

	softCeiling := g.budgetUSD * g.softPct / 100
	if st.SpentUSD+cost > softCeiling {
		slog.WarnContext(ctx, "job pushes daily spend past the soft budget threshold",
			"estimated_cost_usd", cost,
			"spent_today_usd", st.SpentUSD,
			"budget_usd", g.budgetUSD,
			"soft_pct", g.softPct)
	}
	return nil
}
