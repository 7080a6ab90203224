package nodeconfig

import "testing"

func TestSetParticipantOnlyOnce(t *testing.T) {
	id := &Identity{}
	if err := id.SetParticipant("node-1", RoleDefault); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := id.SetParticipant("node-2", RoleAggregator); err == nil {
		t.Fatal("expected the second SetParticipant call to be rejected")
	}
	if id.NodeID() != "node-1" || id.Role() != RoleDefault {
		t.Fatalf("got nodeID=%q role=%q", id.NodeID(), id.Role())
	}
}

func TestHasParticipant(t *testing.T) {
	id := &Identity{}
	if id.HasParticipant() {
		t.Fatal("a fresh identity should have no participant yet")
	}
	id.SetParticipant("node-1", RoleDefault)
	if !id.HasParticipant() {
		t.Fatal("expected HasParticipant to report true after SetParticipant")
	}
}

func TestSetProgressClamps(t *testing.T) {
	id := &Identity{}
	id.SetProgress(-5)
	if id.Progress() != 0 {
		t.Fatalf("got %d", id.Progress())
	}
	id.SetProgress(150)
	if id.Progress() != 100 {
		t.Fatalf("got %d", id.Progress())
	}
	id.SetProgress(42)
	if id.Progress() != 42 {
		t.Fatalf("got %d", id.Progress())
	}
}

func TestFinishIsIdempotentAndSetsTerminalState(t *testing.T) {
	id := &Identity{}
	if id.Finished() {
		t.Fatal("a fresh identity should not be finished")
	}
	id.Finish()
	id.Finish()
	if !id.Finished() {
		t.Fatal("expected Finished() to report true")
	}
	if id.RunState() != RunStateFinished {
		t.Fatalf("got run state %v", id.RunState())
	}
	if id.Progress() != 100 {
		t.Fatalf("expected progress to jump to 100 on finish, got %d", id.Progress())
	}
}

func TestRefreshPlatformToken(t *testing.T) {
	id := &Identity{PlatformToken: "old"}
	id.RefreshPlatformToken("new")
	if id.PlatformToken != "new" {
		t.Fatalf("got %q", id.PlatformToken)
	}
}

func TestRunStateTransitions(t *testing.T) {
	id := &Identity{runState: RunStateStarting}
	if id.RunState() != RunStateStarting {
		t.Fatalf("got %v", id.RunState())
	}
	id.SetRunState(RunStateStuck)
	if id.RunState() != RunStateStuck {
		t.Fatalf("got %v", id.RunState())
	}
}
