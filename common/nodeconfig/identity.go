package nodeconfig

import (
	"fmt"
	"os"
	"sync"
)

// Role is the node's participation type within the star topology.
type Role string

const (
	RoleDefault    Role = "default"
	RoleAggregator Role = "aggregator"
)

// RunState is the node's coarse lifecycle state, single-writer (the SDK
// façade) and single-reader (the health endpoint).
type RunState string

const (
	RunStateStarting RunState = "starting"
	RunStateRunning  RunState = "running"
	RunStateFinished RunState = "finished"
	RunStateFailed   RunState = "failed"
	RunStateStuck    RunState = "stuck"
)

// Identity holds the node's immutable configuration plus the few fields the
// broker handshake fills in exactly once. AnalysisID, ProjectID,
// IngressHost and the two tokens are read from the environment at Load time
// and never change; NodeID and Role are set once by SetParticipant during
// bootstrap step 3.
type Identity struct {
	AnalysisID      string
	ProjectID       string
	IngressHost     string
	PlatformToken   string
	DataSourceToken string

	mu          sync.RWMutex
	nodeID      string
	role        Role
	participant bool // true once SetParticipant has run

	runState RunState
	progress int
	finished bool
}

// Load reads the five platform environment variables named in spec.md §6
// and derives the ingress host, exactly as the original NodeConfig.
func Load() (*Identity, error) {
	analysisID := os.Getenv("ANALYSIS_ID")
	projectID := os.Getenv("PROJECT_ID")
	deploymentName := os.Getenv("DEPLOYMENT_NAME")

	if analysisID == "" || projectID == "" || deploymentName == "" {
		return nil, fmt.Errorf("nodeconfig: ANALYSIS_ID, PROJECT_ID and DEPLOYMENT_NAME are required")
	}

	return &Identity{
		AnalysisID:      analysisID,
		ProjectID:       projectID,
		IngressHost:     fmt.Sprintf("nginx-%s", deploymentName),
		PlatformToken:   os.Getenv("KEYCLOAK_TOKEN"),
		DataSourceToken: os.Getenv("DATA_SOURCE_TOKEN"),
		runState:        RunStateStarting,
	}, nil
}

// SetParticipant records the nodeId/role learned from the broker handshake
// (bootstrap step 3). It is only ever called once; subsequent calls are
// rejected so that role/nodeId remain read-only thereafter, per spec.md §3.
func (id *Identity) SetParticipant(nodeID string, role Role) error {
	id.mu.Lock()
	defer id.mu.Unlock()

	if id.participant {
		return fmt.Errorf("nodeconfig: participant identity already set (nodeId=%s)", id.nodeID)
	}

	id.nodeID = nodeID
	id.role = role
	id.participant = true
	return nil
}

// NodeID returns the node id learned from the broker handshake, or "" if
// the handshake has not completed yet.
func (id *Identity) NodeID() string {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.nodeID
}

// Role returns the node's role, or "" if the handshake has not completed.
func (id *Identity) Role() Role {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.role
}

// HasParticipant reports whether the broker handshake has completed.
func (id *Identity) HasParticipant() bool {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.participant
}

// SetRunState transitions the node's run state. RunState is single-writer;
// callers are expected to be the SDK façade only.
func (id *Identity) SetRunState(state RunState) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.runState = state
}

// RunState returns the current run state.
func (id *Identity) RunState() RunState {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.runState
}

// SetProgress updates the progress counter. Values are clamped to [0,100];
// per spec.md §3 the counter should be monotonically non-decreasing except
// the final jump to 100 on analysis_finished, but that invariant is the
// caller's responsibility (star orchestrator / sdk façade), not enforced
// here structurally.
func (id *Identity) SetProgress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	id.mu.Lock()
	defer id.mu.Unlock()
	id.progress = percent
}

// Progress returns the current progress counter.
func (id *Identity) Progress() int {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.progress
}

// Finish sets the finished flag. Per spec.md §4.1, this happens exactly via
// one of three paths (user call, webhook receipt of analysis_finished, or
// successful final-result submission); no other path may flip it, but
// Finish is idempotent so any of the three callers may win the race.
func (id *Identity) Finish() {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.finished = true
	id.runState = RunStateFinished
	id.progress = 100
}

// Finished reports whether analysis_finished has been observed.
func (id *Identity) Finished() bool {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.finished
}

// RefreshPlatformToken swaps the platform token. Per spec.md §5, network
// clients built from this token are immutable and must be reconstructed by
// their owners after this call; Identity itself holds no live connections.
func (id *Identity) RefreshPlatformToken(token string) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.PlatformToken = token
}
