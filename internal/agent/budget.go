package agent

import (
	"time"
)

// BudgetTracker accumulates wall-clock time and monetary cost for one run
// and answers "may I proceed?" at the loop's checkpoints. The check is
// cooperative: it never interrupts an in-flight call, it only gates the
// next one. Counters are touched by the single goroutine owning the run,
// so no locking is needed.
type BudgetTracker struct {
	start          time.Time
	timeoutSeconds float64
	costCeilingUSD float64

	costUSD float64
	tokens  int

	// tripped latches the first exceeded reason; once set, every later
	// check reports exceeded even if instantaneous values dip back under.
	tripped LimitReason

	now func() time.Time
}

// NewBudgetTracker starts the wall-clock timer for a run.
func NewBudgetTracker(timeoutSeconds, costCeilingUSD float64) *BudgetTracker {
	b := &BudgetTracker{
		timeoutSeconds: timeoutSeconds,
		costCeilingUSD: costCeilingUSD,
		now:            time.Now,
	}
	b.start = b.now()
	return b
}

// AddCost records the cost and token usage of a completed call.
func (b *BudgetTracker) AddCost(costUSD float64, tokens int) {
	if costUSD > 0 {
		b.costUSD += costUSD
	}
	if tokens > 0 {
		b.tokens += tokens
	}
}

// Elapsed returns seconds since the run started.
func (b *BudgetTracker) Elapsed() float64 {
	return b.now().Sub(b.start).Seconds()
}

// CostUSD returns the accumulated spend.
func (b *BudgetTracker) CostUSD() float64 { return b.costUSD }

// Tokens returns the accumulated token count.
func (b *BudgetTracker) Tokens() int { return b.tokens }

// Check reports whether a budget limit has been exceeded. The result is
// latched: once a limit trips it stays tripped for the rest of the run.
func (b *BudgetTracker) Check() (LimitReason, bool) {
	if b.tripped != "" {
		return b.tripped, true
	}
	if b.Elapsed() > b.timeoutSeconds {
		b.tripped = LimitTimeout
		return b.tripped, true
	}
	if b.costUSD > b.costCeilingUSD {
		b.tripped = LimitCost
		return b.tripped, true
	}
	return "", false
}
