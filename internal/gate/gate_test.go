package gate

import (
	"strings"
	"testing"

	"pick-policy/internal/policy"
)

func f(v float64) *float64 { return &v }

func TestConfidenceGate_Boundaries(t *testing.T) {
	g := NewConfidenceGate(policy.ConfidenceConfig{MinThreshold: 0.65})

	cases := []struct {
		name   string
		value  *float64
		passed bool
	}{
		{"equal passes", f(0.65), true},
		{"above passes", f(0.9), true},
		{"below fails", f(0.6499), false},
		{"missing fails closed", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := g.Evaluate(Input{Confidence: tc.value})
			if res.Passed != tc.passed {
				t.Fatalf("expected passed=%v, got %v (%s)", tc.passed, res.Passed, res.Message)
			}
			if res.Severity != SeverityWarning {
				t.Errorf("expected warning severity, got %s", res.Severity)
			}
			if res.Threshold != 0.65 {
				t.Errorf("unexpected threshold %v", res.Threshold)
			}
		})
	}
}

func TestEdgeGate_MissingTreatedAsZero(t *testing.T) {
	g := NewEdgeGate(policy.EdgeConfig{MinThreshold: 0.05})
	if res := g.Evaluate(Input{}); res.Passed || res.Score != 0 {
		t.Fatalf("missing edge should fail with score 0, got %+v", res)
	}
	if res := g.Evaluate(Input{Edge: f(0.05)}); !res.Passed {
		t.Fatalf("edge equal to threshold should pass, got %+v", res)
	}

	zero := NewEdgeGate(policy.EdgeConfig{MinThreshold: 0})
	if res := zero.Evaluate(Input{}); !res.Passed {
		t.Fatalf("missing edge should pass a zero threshold, got %+v", res)
	}
}

func TestDriftGate_InvertedComparison(t *testing.T) {
	g := NewDriftGate(policy.DriftConfig{MaxDriftScore: 0.10})

	if res := g.Evaluate(Input{DriftScore: f(0.10)}); !res.Passed {
		t.Fatalf("drift equal to max should pass, got %+v", res)
	}
	if res := g.Evaluate(Input{DriftScore: f(0.02)}); !res.Passed {
		t.Fatalf("lower drift should pass, got %+v", res)
	}
	if res := g.Evaluate(Input{DriftScore: f(0.11)}); res.Passed {
		t.Fatalf("drift above max should fail, got %+v", res)
	}
	if res := g.Evaluate(Input{}); !res.Passed {
		t.Fatalf("missing drift evaluates as 0 and passes, got %+v", res)
	}
}

func testLimits() policy.HardStopLimits {
	return policy.HardStopLimits{DailyLossLimit: 1000, ConsecutiveLosses: 5, BankrollPercent: 0.10}
}

func TestHardStopGate_EachBoundaryTriggers(t *testing.T) {
	g := NewHardStopGate(testLimits())

	cases := []struct {
		name  string
		input Input
		want  string
	}{
		{"daily loss", Input{DailyLoss: 1000}, "Daily loss"},
		{"consecutive losses", Input{ConsecutiveLosses: 5}, "Consecutive losses"},
		{"bankroll percent", Input{BankrollPercent: 0.10}, "Bankroll loss"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := g.Evaluate(tc.input)
			if res.Passed {
				t.Fatalf("expected hard stop at boundary, got %+v", res)
			}
			if res.Severity != SeverityBlocking {
				t.Errorf("expected blocking severity, got %s", res.Severity)
			}
			if !strings.Contains(res.Message, tc.want) {
				t.Errorf("message %q should mention %q", res.Message, tc.want)
			}
			if res.Score < 1 {
				t.Errorf("score should reach the threshold, got %v", res.Score)
			}
		})
	}
}

func TestHardStopGate_ReportsAllViolations(t *testing.T) {
	g := NewHardStopGate(testLimits())
	in := Input{DailyLoss: 1500, ConsecutiveLosses: 6, BankrollPercent: 0.15}

	res := g.Evaluate(in)
	if res.Passed {
		t.Fatalf("expected failure")
	}
	for _, want := range []string{"Daily loss", "Consecutive losses", "Bankroll loss"} {
		if !strings.Contains(res.Message, want) {
			t.Errorf("message %q missing %q", res.Message, want)
		}
	}
	if got := g.Reason(in); got != res.Message {
		t.Errorf("Reason mismatch: %q vs %q", got, res.Message)
	}

	action := g.RecommendedAction(in)
	if !strings.Contains(action, "administrator must reset") {
		t.Errorf("recommended action should require an admin reset, got %q", action)
	}
	if strings.Contains(strings.ToLower(action), "daily reset") {
		t.Errorf("recommended action must not promise an automatic lift: %q", action)
	}
}

func TestHardStopGate_PassesBelowLimits(t *testing.T) {
	g := NewHardStopGate(testLimits())
	res := g.Evaluate(Input{DailyLoss: 999.99, ConsecutiveLosses: 4, BankrollPercent: 0.0999})
	if !res.Passed {
		t.Fatalf("expected pass, got %+v", res)
	}
	if g.Reason(Input{}) != "" {
		t.Errorf("reason should be empty when nothing is breached")
	}
}

func TestHardStopGate_LatchedFailsWithoutBreach(t *testing.T) {
	g := NewHardStopGate(testLimits())
	in := Input{Latched: true, LatchedReason: "Daily loss $1000.00 reached limit $1000.00"}

	res := g.Evaluate(in)
	if res.Passed {
		t.Fatalf("latched hard stop must fail")
	}
	if res.Score != 1 {
		t.Errorf("score = %v, want 1", res.Score)
	}
	if reason := g.Reason(in); !strings.Contains(reason, "administrator reset") || !strings.Contains(reason, "Daily loss") {
		t.Errorf("unexpected reason %q", reason)
	}
}
