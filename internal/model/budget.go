package model

// Budget tracks spending against a limit for one period (e.g. a month).
type Budget struct {
	ID     string
	Name   string
	Limit  float64
	Spent  float64
	Period string // period key, e.g. "2026-08"
}

// PercentSpent returns spent/limit as a percentage. A zero or negative limit
// yields 0 so a misconfigured budget can never alert.
func (b Budget) PercentSpent() float64 {
	if b.Limit <= 0 {
		return 0
	}
	return b.Spent / b.Limit * 100
}

// AlertBucket returns the spending percentage floored to the nearest lower
// multiple of 10 (82% -> 80, 91% -> 90). Buckets below 80 never alert.
func (b Budget) AlertBucket() int {
	pct := b.PercentSpent()
	if pct < 0 {
		return 0
	}
	return int(pct/10) * 10
}
