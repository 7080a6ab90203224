package star

import "testing"

func TestNewPredicateEmptyIsNoOp(t *testing.T) {
	p, err := NewPredicate("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	converged, err := p.Evaluate(map[string]any{"delta": 0.0001}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if converged {
		t.Fatal("empty predicate must never force convergence")
	}
}

func TestPredicateEvaluateOnIteration(t *testing.T) {
	p, err := NewPredicate("iteration >= 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, want := range map[int]bool{0: false, 2: false, 3: true, 10: true} {
		got, err := p.Evaluate(nil, i)
		if err != nil {
			t.Fatalf("Evaluate(%d): %v", i, err)
		}
		if got != want {
			t.Errorf("Evaluate(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestPredicateEvaluateOnResultField(t *testing.T) {
	p, err := NewPredicate(`result.delta < 0.01`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	converged, err := p.Evaluate(map[string]any{"delta": 0.001}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !converged {
		t.Fatal("expected convergence when delta is below threshold")
	}

	converged, err = p.Evaluate(map[string]any{"delta": 0.5}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if converged {
		t.Fatal("expected no convergence when delta is above threshold")
	}
}

func TestNewPredicateCompileError(t *testing.T) {
	if _, err := NewPredicate("this is not valid cel ("); err == nil {
		t.Fatal("expected a compile error for malformed expression")
	}
}

func TestPredicateEvaluateNonBoolResult(t *testing.T) {
	p, err := NewPredicate("iteration")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Evaluate(nil, 1); err == nil {
		t.Fatal("expected an error when the predicate does not evaluate to a bool")
	}
}
