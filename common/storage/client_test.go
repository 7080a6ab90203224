package storage

import "testing"

func TestValidateTag(t *testing.T) {
	valid := []string{"a", "abc-123", "weights-round-7"}
	for _, tag := range valid {
		if err := validateTag(tag); err != nil {
			t.Errorf("validateTag(%q) = %v, want nil", tag, err)
		}
	}

	invalid := []string{"", "Upper", "has_underscore", "-leading", "trailing-", "a--b"}
	for _, tag := range invalid {
		if err := validateTag(tag); err == nil {
			t.Errorf("validateTag(%q) = nil, want error", tag)
		}
	}
}

func TestValidateTagLengthLimit(t *testing.T) {
	tooLong := ""
	for i := 0; i < maxTagLength+1; i++ {
		tooLong += "a"
	}
	if err := validateTag(tooLong); err == nil {
		t.Fatalf("expected error for tag longer than %d characters", maxTagLength)
	}
}

func TestContainsSubstring(t *testing.T) {
	if !containsSubstring("round-7-weights", "7-weights") {
		t.Fatal("expected match")
	}
	if !containsSubstring("anything", "") {
		t.Fatal("empty substring should always match")
	}
	if containsSubstring("short", "longer-than-short") {
		t.Fatal("unexpected match")
	}
}

func TestLastPathSegmentAfter(t *testing.T) {
	got := lastPathSegmentAfter("https://hub.example/storage/local/abc123", "/local/")
	if got != "abc123" {
		t.Fatalf("got %q", got)
	}
	got = lastPathSegmentAfter("no-marker-here", "/local/")
	if got != "no-marker-here" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestLocationKind(t *testing.T) {
	if LocationLocal.kind() != kindLocal {
		t.Fatalf("local location should map to local kind")
	}
	if LocationGlobal.kind() != kindIntermediate {
		t.Fatalf("global location should map to intermediate kind")
	}
}
