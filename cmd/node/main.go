// cmd/node is an example participant process: it bootstraps every
// component, wires the sdk façade, and runs the star orchestrator against
// a minimal example role. Real analyses replace exampleAggregator/
// exampleAnalyzer with their own AggregatorRole/AnalyzerRole
// implementation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flamehq/flame-node-sdk/common/nodeconfig"
	"github.com/flamehq/flame-node-sdk/sdk"
	"github.com/flamehq/flame-node-sdk/star"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := sdk.New(ctx, "flame-node")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap node: %v\n", err)
		os.Exit(1)
	}
	defer node.Shutdown(context.Background())

	cfg := star.Config{
		SimpleAnalysis: true,
		DataType:       star.DataTypeFHIR,
	}

	var role any
	if node.GetRole() == nodeconfig.RoleAggregator {
		role = &exampleAggregator{}
	} else {
		role = &exampleAnalyzer{}
	}

	if err := star.Run(ctx, node, role, cfg); err != nil {
		node.Components().Logger.Error("orchestrator run failed", "error", err)
		os.Exit(1)
	}
}

// exampleAggregator counts the analyzer results it receives. Replace with
// a real aggregation method for an actual analysis.
type exampleAggregator struct{}

func (a *exampleAggregator) Aggregate(ctx context.Context, nodeResults []any, simpleAnalysis bool) (any, bool, error) {
	return map[string]any{"participant_count": len(nodeResults)}, true, nil
}

// exampleAnalyzer reports how many records it fetched. Replace with a
// real per-node analysis method for an actual analysis.
type exampleAnalyzer struct{}

func (a *exampleAnalyzer) Analyze(ctx context.Context, data []any, aggregatorResult any, simpleAnalysis bool) (any, bool, error) {
	return map[string]any{"record_count": len(data)}, true, nil
}
