package star

import (
	"context"
	"fmt"
)

// DataType selects how an analyzer fetches its input once, up front.
type DataType string

const (
	DataTypeFHIR DataType = "fhir"
	DataTypeS3   DataType = "s3"
)

// ErrRoleMismatch is returned when the declared role class doesn't match
// the node's participant role learned from the hub handshake. It is fatal
// before either loop starts.
var ErrRoleMismatch = fmt.Errorf("star: declared role does not match participant role")

// AggregatorRole is implemented by the user's aggregator analysis. Run
// calls Aggregate once per round with every analyzer result collected so
// far; simpleAnalysis forces convergence after exactly one round.
type AggregatorRole interface {
	Aggregate(ctx context.Context, nodeResults []any, simpleAnalysis bool) (aggregated any, converged bool, err error)
}

// PatchingRole is an optional second interface an aggregator role may
// implement to disseminate the new global state as an RFC 6902 JSON Patch
// against the previous round's state instead of retransmitting the full
// object. When absent, the orchestrator falls back to AggregatorRole's
// full-object result.
type PatchingRole interface {
	AggregatePatch(ctx context.Context, prevState any, nodeResults []any, simpleAnalysis bool) (patch []byte, converged bool, err error)
}

// AnalyzerRole is implemented by the user's analyzer analysis. Run calls
// Analyze once per round; aggregatorResult is nil on the first round.
// localConverged tracks this node's own stability: true once simpleAnalysis
// is set, or once (data, result) stop changing round over round.
type AnalyzerRole interface {
	Analyze(ctx context.Context, data []any, aggregatorResult any, simpleAnalysis bool) (result any, localConverged bool, err error)
}
