package star

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/flamehq/flame-node-sdk/common/validation"
)

// patchValidator bounds a single round's JSON Patch document before it is
// ever applied to the aggregated state or put on the wire to every
// analyzer. 1000 operations is generous for the per-round diffs a
// PatchingRole is expected to produce; a patch this large likely means the
// role should have returned a full object instead.
var patchValidator = validation.NewPatchValidator(1000)

// applyPatch validates and applies the RFC 6902 JSON Patch document a
// PatchingRole produced against the previous round's aggregated state,
// returning the patched state as this round's aggregated value.
func applyPatch(prevState any, patch []byte) (any, error) {
	var operations []map[string]interface{}
	if err := json.Unmarshal(patch, &operations); err != nil {
		return nil, fmt.Errorf("decode patch operations: %w", err)
	}
	if err := patchValidator.ValidateOperations(operations); err != nil {
		return nil, fmt.Errorf("validate patch: %w", err)
	}

	decoded, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}

	prevJSON, err := json.Marshal(prevState)
	if err != nil {
		return nil, fmt.Errorf("marshal previous state: %w", err)
	}

	patchedJSON, err := decoded.Apply(prevJSON)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}

	var patched any
	if err := json.Unmarshal(patchedJSON, &patched); err != nil {
		return nil, fmt.Errorf("unmarshal patched state: %w", err)
	}
	return patched, nil
}
