// Package fraud scores payment requests against supplied customer history.
// The engine is a pure function over its inputs: it never mutates history and
// never performs I/O, so it can be replaced wholesale (e.g. by a learned
// model) without touching the orchestrator.
package fraud

import (
	"math"
	"time"
)

type Decision string

const (
	DecisionAllow  Decision = "ALLOW"
	DecisionReview Decision = "REVIEW"
	DecisionDeny   Decision = "DENY"
)

// Input is the slice of a payment request the engine looks at.
type Input struct {
	Amount            int64
	Region            string
	SourceFingerprint string
}

// Attempt is one prior transaction of the customer.
type Attempt struct {
	Amount            int64
	At                time.Time
	Region            string
	SourceFingerprint string
}

// History is the customer's prior transactions, oldest first.
type History []Attempt

// Score is the engine's verdict. Rules lists the names of the rules that
// contributed a non-zero signal, in evaluation order.
type Score struct {
	Value    float64
	Rules    []string
	Decision Decision
}

type Config struct {
	// VelocityThreshold is the hour-window transaction count treated as
	// certain fraud (contribution 1.0).
	VelocityThreshold int
	VelocityWindow    time.Duration
	// AnomalyZCap maps an amount z-score of this magnitude (or more) to a
	// contribution of 1.0.
	AnomalyZCap     float64
	ReviewThreshold float64
	DenyThreshold   float64
}

func DefaultConfig() Config {
	return Config{
		VelocityThreshold: 10,
		VelocityWindow:    time.Hour,
		AnomalyZCap:       4,
		ReviewThreshold:   0.3,
		DenyThreshold:     0.7,
	}
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.VelocityThreshold <= 0 {
		cfg.VelocityThreshold = DefaultConfig().VelocityThreshold
	}
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = DefaultConfig().VelocityWindow
	}
	if cfg.AnomalyZCap <= 0 {
		cfg.AnomalyZCap = DefaultConfig().AnomalyZCap
	}
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = DefaultConfig().ReviewThreshold
	}
	if cfg.DenyThreshold <= 0 {
		cfg.DenyThreshold = DefaultConfig().DenyThreshold
	}
	return &Engine{cfg: cfg}
}

// rule evaluates one heuristic. ok=false means the rule abstains and is
// excluded from the decision basis entirely.
type rule struct {
	name string
	eval func(in Input, h History, now time.Time) (contribution float64, ok bool)
}

// Assess computes the weighted score for a request at processing time 'now'.
// The final score is the maximum single-rule contribution, not a sum, so one
// strong signal is never diluted by several weak ones.
func (e *Engine) Assess(in Input, h History, now time.Time) Score {
	rules := []rule{
		{"velocity", e.velocity},
		{"amount_anomaly", e.amountAnomaly},
		{"geo_mismatch", e.geoMismatch},
		{"new_payment_method", e.newPaymentMethod},
	}

	score := Score{}
	for _, r := range rules {
		c, ok := r.eval(in, h, now)
		if !ok {
			continue
		}
		if c > 0 {
			score.Rules = append(score.Rules, r.name)
		}
		if c > score.Value {
			score.Value = c
		}
	}

	switch {
	case score.Value >= e.cfg.DenyThreshold:
		score.Decision = DecisionDeny
	case score.Value >= e.cfg.ReviewThreshold:
		score.Decision = DecisionReview
	default:
		score.Decision = DecisionAllow
	}
	return score
}

// velocity: fraction of the hour-window transaction count versus the
// configured threshold, capped at 1. Monotone in the window count.
func (e *Engine) velocity(_ Input, h History, now time.Time) (float64, bool) {
	cutoff := now.Add(-e.cfg.VelocityWindow)
	count := 0
	for _, a := range h {
		if a.At.After(cutoff) && !a.At.After(now) {
			count++
		}
	}
	c := float64(count) / float64(e.cfg.VelocityThreshold)
	if c > 1 {
		c = 1
	}
	return c, true
}

// amountAnomaly: z-score of the requested amount against the customer's
// historical mean/stddev. Abstains with fewer than 3 prior transactions.
func (e *Engine) amountAnomaly(in Input, h History, _ time.Time) (float64, bool) {
	if len(h) < 3 {
		return 0, false
	}
	var sum float64
	for _, a := range h {
		sum += float64(a.Amount)
	}
	mean := sum / float64(len(h))
	var sq float64
	for _, a := range h {
		d := float64(a.Amount) - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(h)))
	if stddev == 0 {
		if float64(in.Amount) == mean {
			return 0, true
		}
		// Any deviation from a perfectly constant history is maximally odd.
		return 1, true
	}
	z := math.Abs(float64(in.Amount)-mean) / stddev
	c := z / e.cfg.AnomalyZCap
	if c > 1 {
		c = 1
	}
	return c, true
}

// geoMismatch flags a declared region that conflicts with the customer's
// historical region set. Abstains when either side is unknown.
func (e *Engine) geoMismatch(in Input, h History, _ time.Time) (float64, bool) {
	if in.Region == "" {
		return 0, false
	}
	seen := false
	for _, a := range h {
		if a.Region == "" {
			continue
		}
		seen = true
		if a.Region == in.Region {
			return 0, true
		}
	}
	if !seen {
		return 0, false
	}
	return 0.8, true
}

// newPaymentMethod flags first-time use of a source for this customer. The
// contribution stays below the review threshold so a fresh customer with an
// otherwise clean request is still allowed.
func (e *Engine) newPaymentMethod(in Input, h History, _ time.Time) (float64, bool) {
	if in.SourceFingerprint == "" {
		return 0, false
	}
	for _, a := range h {
		if a.SourceFingerprint == in.SourceFingerprint {
			return 0, true
		}
	}
	return 0.25, true
}
