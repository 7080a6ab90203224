package star

import "testing"

func TestExtractResultIDPlain(t *testing.T) {
	body := map[string]any{"result_id": "abc-123"}
	id, sender := extractResultID(body, "analyzer-1", "aggregator-0")
	if id != "abc-123" {
		t.Fatalf("got id %q", id)
	}
	if sender != "" {
		t.Fatalf("plain result id should not carry a sender node, got %q", sender)
	}
}

func TestExtractResultIDEncryptedPerRecipient(t *testing.T) {
	body := map[string]any{
		"result_id": map[string]any{
			"aggregator-0": "for-aggregator",
			"analyzer-2":   "for-analyzer-2",
		},
	}
	id, sender := extractResultID(body, "analyzer-1", "aggregator-0")
	if id != "for-aggregator" {
		t.Fatalf("got id %q", id)
	}
	if sender != "analyzer-1" {
		t.Fatalf("got sender %q", sender)
	}
}

func TestExtractResultIDMissingForSelf(t *testing.T) {
	body := map[string]any{
		"result_id": map[string]any{
			"someone-else": "not-for-us",
		},
	}
	id, sender := extractResultID(body, "analyzer-1", "aggregator-0")
	if id != "" || sender != "" {
		t.Fatalf("expected empty result when self id is absent, got id=%q sender=%q", id, sender)
	}
}

func TestExtractResultIDMissingKey(t *testing.T) {
	id, sender := extractResultID(map[string]any{}, "analyzer-1", "aggregator-0")
	if id != "" || sender != "" {
		t.Fatalf("expected empty result for missing key, got id=%q sender=%q", id, sender)
	}
}

func TestSameRound(t *testing.T) {
	data := []any{map[string]any{"n": 1}}
	result := map[string]any{"mean": 1.0}

	if !sameRound(data, data, result, result) {
		t.Fatal("identical data and result should compare equal")
	}

	otherResult := map[string]any{"mean": 2.0}
	if sameRound(data, data, result, otherResult) {
		t.Fatal("differing result should not compare equal")
	}

	otherData := []any{map[string]any{"n": 2}}
	if sameRound(data, otherData, result, result) {
		t.Fatal("differing data should not compare equal")
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.AggregatedResultsTimeout <= 0 {
		t.Fatal("expected a positive default AggregatedResultsTimeout")
	}
	if cfg.ReadinessAnalyzerInterval <= cfg.ReadinessAggregatorInterval {
		t.Fatal("analyzer readiness interval should default larger than the aggregator's sweep cadence")
	}

	custom := Config{AggregatedResultsTimeout: 7, ReadinessAnalyzerInterval: 9, ReadinessAggregatorInterval: 11}.withDefaults()
	if custom.AggregatedResultsTimeout != 7 || custom.ReadinessAnalyzerInterval != 9 || custom.ReadinessAggregatorInterval != 11 {
		t.Fatal("withDefaults must not override explicitly set values")
	}
}
