package fraud

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func TestAssess_NoHistoryAllows(t *testing.T) {
	e := NewEngine(DefaultConfig())

	score := e.Assess(Input{Amount: 1000, SourceFingerprint: "card:1111:3012"}, nil, testNow)

	if score.Decision != DecisionAllow {
		t.Fatalf("decision = %s want ALLOW (score %.2f, rules %v)", score.Decision, score.Value, score.Rules)
	}
	// The amount-anomaly rule must abstain: only the new-method rule may appear.
	for _, r := range score.Rules {
		if r == "amount_anomaly" {
			t.Fatalf("amount_anomaly must abstain with no history")
		}
	}
}

func TestVelocity_Monotone(t *testing.T) {
	e := NewEngine(DefaultConfig())

	prev := -1.0
	for count := 0; count <= 15; count++ {
		h := make(History, count)
		for i := range h {
			h[i] = Attempt{Amount: 1000, At: testNow.Add(-time.Minute * time.Duration(i+1))}
		}
		score := e.Assess(Input{Amount: 1000}, h, testNow)
		if score.Value < prev {
			t.Fatalf("score decreased from %.3f to %.3f at count %d", prev, score.Value, count)
		}
		prev = score.Value
	}
}

func TestVelocity_DeniesAboveThreshold(t *testing.T) {
	e := NewEngine(Config{VelocityThreshold: 5, VelocityWindow: time.Hour})

	h := make(History, 5)
	for i := range h {
		h[i] = Attempt{Amount: 1000, At: testNow.Add(-time.Minute * time.Duration(i+1))}
	}
	score := e.Assess(Input{Amount: 1000}, h, testNow)
	if score.Decision != DecisionDeny {
		t.Fatalf("decision = %s want DENY (score %.2f)", score.Decision, score.Value)
	}
	if !contains(score.Rules, "velocity") {
		t.Fatalf("velocity must be in the decision basis, got %v", score.Rules)
	}
}

func TestVelocity_IgnoresOldAttempts(t *testing.T) {
	e := NewEngine(Config{VelocityThreshold: 5, VelocityWindow: time.Hour})

	h := make(History, 20)
	for i := range h {
		h[i] = Attempt{Amount: 1000, At: testNow.Add(-2 * time.Hour)}
	}
	score := e.Assess(Input{Amount: 1000}, h, testNow)
	if contains(score.Rules, "velocity") {
		t.Fatalf("attempts outside the window must not count, got rules %v", score.Rules)
	}
}

func TestAmountAnomaly_AbstainsUnderThreePriors(t *testing.T) {
	e := NewEngine(DefaultConfig())

	h := History{
		{Amount: 1000, At: testNow.Add(-24 * time.Hour)},
		{Amount: 1100, At: testNow.Add(-48 * time.Hour)},
	}
	score := e.Assess(Input{Amount: 9_000_000}, h, testNow)
	if contains(score.Rules, "amount_anomaly") {
		t.Fatalf("anomaly rule must abstain with <3 priors, got %v", score.Rules)
	}
}

func TestAmountAnomaly_FlagsOutlier(t *testing.T) {
	e := NewEngine(DefaultConfig())

	h := History{
		{Amount: 1000, At: testNow.Add(-24 * time.Hour)},
		{Amount: 1200, At: testNow.Add(-48 * time.Hour)},
		{Amount: 900, At: testNow.Add(-72 * time.Hour)},
	}
	score := e.Assess(Input{Amount: 500_000}, h, testNow)
	if score.Decision != DecisionDeny {
		t.Fatalf("extreme outlier should deny, got %s (%.2f)", score.Decision, score.Value)
	}
	if !contains(score.Rules, "amount_anomaly") {
		t.Fatalf("amount_anomaly missing from basis: %v", score.Rules)
	}
}

func TestGeoMismatch(t *testing.T) {
	e := NewEngine(DefaultConfig())

	h := History{
		{Amount: 1000, At: testNow.Add(-200 * time.Hour), Region: "US"},
		{Amount: 1000, At: testNow.Add(-300 * time.Hour), Region: "US"},
	}
	score := e.Assess(Input{Amount: 1000, Region: "RU"}, h, testNow)
	if score.Decision != DecisionDeny {
		t.Fatalf("geo mismatch should deny, got %s (%.2f)", score.Decision, score.Value)
	}

	score = e.Assess(Input{Amount: 1000, Region: "US"}, h, testNow)
	if contains(score.Rules, "geo_mismatch") {
		t.Fatalf("matching region must not trigger, got %v", score.Rules)
	}
}

func TestNewPaymentMethod_KnownSourceQuiet(t *testing.T) {
	e := NewEngine(DefaultConfig())

	h := History{{Amount: 1000, At: testNow.Add(-100 * time.Hour), SourceFingerprint: "card:1111:3012"}}
	score := e.Assess(Input{Amount: 1000, SourceFingerprint: "card:1111:3012"}, h, testNow)
	if contains(score.Rules, "new_payment_method") {
		t.Fatalf("known source must not trigger, got %v", score.Rules)
	}

	score = e.Assess(Input{Amount: 1000, SourceFingerprint: "card:2222:3012"}, h, testNow)
	if !contains(score.Rules, "new_payment_method") {
		t.Fatalf("unseen source must trigger, got %v", score.Rules)
	}
	if score.Decision != DecisionAllow {
		t.Fatalf("new method alone must stay below review, got %s (%.2f)", score.Decision, score.Value)
	}
}

func TestDecisionThresholds(t *testing.T) {
	e := NewEngine(Config{VelocityThreshold: 10, VelocityWindow: time.Hour})

	// 4/10 in-window attempts -> score 0.4 -> Review.
	h := make(History, 4)
	for i := range h {
		h[i] = Attempt{Amount: 1000, At: testNow.Add(-time.Minute * time.Duration(i+1))}
	}
	score := e.Assess(Input{Amount: 1000}, h, testNow)
	if score.Decision != DecisionReview {
		t.Fatalf("decision = %s want REVIEW (score %.2f)", score.Decision, score.Value)
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
