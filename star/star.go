// Package star runs the iterative analyze → commit → aggregate →
// disseminate → converge loop (C11) against a user-supplied role
// implementation, using the sdk façade for every hub interaction.
package star

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flamehq/flame-node-sdk/common/nodeconfig"
	"github.com/flamehq/flame-node-sdk/common/storage"
	"github.com/flamehq/flame-node-sdk/sdk"
)

// Config tunes one orchestrator run. Zero value is the spec default:
// full-object aggregation, no forced predicate.
type Config struct {
	// SimpleAnalysis forces convergence after exactly one round on both
	// sides of the loop.
	SimpleAnalysis bool

	// DataType and Query describe how an analyzer fetches its input once,
	// up front. Query is a single FHIR/S3 query/key, or several.
	DataType DataType
	Query    []string

	// ConvergencePredicate, if non-empty, is a CEL expression over
	// {result, iteration} that can additionally force convergence.
	ConvergencePredicate string

	// AggregatedResultsTimeout bounds how long an analyzer waits for the
	// aggregator's disseminated result each round (spec.md default 300s).
	AggregatedResultsTimeout time.Duration

	// ReadinessAnalyzerInterval/ReadinessAggregatorInterval override the
	// readiness barrier's per-attempt budget (spec.md defaults: 120s for
	// an analyzer waiting on the aggregator, 1s for the aggregator's
	// sweep of the analyzer set).
	ReadinessAnalyzerInterval   time.Duration
	ReadinessAggregatorInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.AggregatedResultsTimeout == 0 {
		c.AggregatedResultsTimeout = 300 * time.Second
	}
	if c.ReadinessAnalyzerInterval == 0 {
		c.ReadinessAnalyzerInterval = 120 * time.Second
	}
	if c.ReadinessAggregatorInterval == 0 {
		c.ReadinessAggregatorInterval = time.Second
	}
	return c
}

// Run instantiates the given role against the node's participant role and
// runs the matching loop until convergence. role must implement
// AggregatorRole (optionally PatchingRole) for an aggregator node, or
// AnalyzerRole for an analyzer node; a mismatch is ErrRoleMismatch.
func Run(ctx context.Context, s *sdk.SDK, role any, cfg Config) error {
	cfg = cfg.withDefaults()

	switch s.GetRole() {
	case nodeconfig.RoleAggregator:
		agg, ok := role.(AggregatorRole)
		if !ok {
			return ErrRoleMismatch
		}
		return runAggregator(ctx, s, agg, cfg)
	default:
		an, ok := role.(AnalyzerRole)
		if !ok {
			return ErrRoleMismatch
		}
		return runAnalyzer(ctx, s, an, cfg)
	}
}

func readinessBarrier(ctx context.Context, s *sdk.SDK, nodes []string, attemptInterval time.Duration) map[string]bool {
	return s.ReadyCheck(ctx, nodes, attemptInterval, 0)
}

func runAggregator(ctx context.Context, s *sdk.SDK, role AggregatorRole, cfg Config) error {
	analyzers := analyzerIDs(s)
	readinessBarrier(ctx, s, analyzers, cfg.ReadinessAggregatorInterval)

	predicate, err := NewPredicate(cfg.ConvergencePredicate)
	if err != nil {
		return err
	}

	var prevState any
	for iteration := 0; ; iteration++ {
		responses := s.AwaitMessages(ctx, analyzers, "intermediate_results", "", 0)

		nodeResults := make([]any, 0, len(analyzers))
		present := 0
		for _, analyzer := range analyzers {
			msgs := responses[analyzer]
			if len(msgs) == 0 {
				continue
			}
			present++

			resultID, senderNode := extractResultID(msgs[len(msgs)-1].Body, analyzer, s.GetID())
			if resultID == "" {
				continue
			}

			data, err := s.Components().Storage.GetIntermediateData(ctx, storage.LocationGlobal, resultID, senderNode)
			if err != nil {
				s.Components().Logger.Warn("star: failed to fetch intermediate data, treating analyzer as absent this round",
					"analyzer", analyzer, "error", err)
				continue
			}
			nodeResults = append(nodeResults, data)
		}

		if present == 0 {
			return fmt.Errorf("star: no analyzer results received in round %d", iteration)
		}

		var (
			aggregated  any
			converged   bool
			disseminate any
		)
		if patching, ok := role.(PatchingRole); ok && prevState != nil {
			patch, patchConverged, err := patching.AggregatePatch(ctx, prevState, nodeResults, cfg.SimpleAnalysis)
			if err != nil {
				return fmt.Errorf("star: aggregate patch: %w", err)
			}
			aggregated, err = applyPatch(prevState, patch)
			if err != nil {
				return fmt.Errorf("star: apply patch: %w", err)
			}
			converged = patchConverged
			disseminate = json.RawMessage(patch)
		} else {
			var err error
			aggregated, converged, err = role.Aggregate(ctx, nodeResults, cfg.SimpleAnalysis)
			if err != nil {
				return fmt.Errorf("star: aggregate: %w", err)
			}
			disseminate = aggregated
		}
		prevState = aggregated

		if forced, err := predicate.Evaluate(aggregated, iteration); err != nil {
			s.Components().Logger.Warn("star: convergence predicate error, ignoring", "error", err)
		} else if forced {
			converged = true
		}
		if cfg.SimpleAnalysis {
			converged = true
		}

		if converged {
			if _, err := s.SubmitFinalResult(ctx, aggregated, storage.OutputString, nil); err != nil {
				return fmt.Errorf("star: submit final result: %w", err)
			}
			s.AnalysisFinished(ctx)
			return nil
		}

		if _, _, err := s.SendIntermediateData(ctx, analyzers, disseminate, "aggregated_results", false); err != nil {
			return fmt.Errorf("star: disseminate aggregated results: %w", err)
		}
	}
}

func runAnalyzer(ctx context.Context, s *sdk.SDK, role AnalyzerRole, cfg Config) error {
	aggregatorID := s.GetAggregatorID()
	readinessBarrier(ctx, s, []string{aggregatorID}, cfg.ReadinessAnalyzerInterval)

	data := fetchData(ctx, s, cfg)

	var (
		aggregatorResult any
		prevData         []any
		prevResult       any
		hasPrev          bool
	)

	for {
		result, localConverged, err := role.Analyze(ctx, data, aggregatorResult, cfg.SimpleAnalysis)
		if err != nil {
			return fmt.Errorf("star: analyze: %w", err)
		}

		if !cfg.SimpleAnalysis && hasPrev {
			localConverged = localConverged || sameRound(prevData, data, prevResult, result)
		}
		prevData, prevResult, hasPrev = data, result, true

		if s.Components().Identity.Finished() {
			return nil
		}

		if !localConverged {
			if _, _, err := s.SendIntermediateData(ctx, []string{aggregatorID}, result, "intermediate_results", false); err != nil {
				return fmt.Errorf("star: send intermediate result: %w", err)
			}
		}

		if s.Components().Identity.Finished() {
			return nil
		}
		if localConverged {
			// Locally stable: nothing to send or await this round. Poll for
			// the global finished signal at the same 1s cadence every other
			// suspension point in the SDK uses (spec.md §5).
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		responses := s.AwaitIntermediateData(ctx, []string{aggregatorID}, "aggregated_results", cfg.AggregatedResultsTimeout)
		received := responses[aggregatorID]
		if received == nil {
			if s.Components().Identity.Finished() {
				return nil
			}
			continue
		}
		aggregatorResult = received
	}
}

func sameRound(prevData, data []any, prevResult, result any) bool {
	return fmt.Sprint(prevData) == fmt.Sprint(data) && fmt.Sprint(prevResult) == fmt.Sprint(result)
}

func analyzerIDs(s *sdk.SDK) []string {
	ids := make([]string, 0, len(s.GetParticipants()))
	for _, p := range s.GetParticipants() {
		if p.NodeType != nodeconfig.RoleAggregator {
			ids = append(ids, p.NodeID)
		}
	}
	return ids
}

func fetchData(ctx context.Context, s *sdk.SDK, cfg Config) []any {
	switch cfg.DataType {
	case DataTypeS3:
		results, err := s.GetS3Data(ctx, cfg.Query)
		if err != nil {
			s.Components().Logger.Warn("star: failed to fetch S3 data", "error", err)
			return nil
		}
		out := make([]any, len(results))
		for i, r := range results {
			out[i] = r
		}
		return out
	default:
		results := s.GetFHIRData(ctx, cfg.Query)
		out := make([]any, len(results))
		for i, r := range results {
			out[i] = r
		}
		return out
	}
}

func extractResultID(body map[string]any, sender, selfID string) (resultID, senderNode string) {
	raw, ok := body["result_id"]
	if !ok {
		return "", ""
	}
	if m, ok := raw.(map[string]any); ok {
		if v, ok := m[selfID].(string); ok {
			return v, sender
		}
		return "", ""
	}
	if v, ok := raw.(string); ok {
		return v, ""
	}
	return "", ""
}
