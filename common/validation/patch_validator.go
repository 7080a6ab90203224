package validation

import (
	"fmt"
)

// PatchValidator validates JSON Patch operations produced by a
// star.PatchingRole before they are applied to the aggregated global state.
// A malformed patch here would otherwise propagate to every analyzer in the
// star, so operations are checked structurally before the patch is ever
// marshaled onto the wire.
type PatchValidator struct {
	maxOperations int
}

// NewPatchValidator creates a new patch validator. maxOperations bounds how
// large a single round's patch may be; 0 means unbounded.
func NewPatchValidator(maxOperations int) *PatchValidator {
	return &PatchValidator{maxOperations: maxOperations}
}

// ValidateOperations validates all patch operations in a decoded JSON Patch
// document (RFC 6902).
func (v *PatchValidator) ValidateOperations(operations []map[string]interface{}) error {
	if v.maxOperations > 0 && len(operations) > v.maxOperations {
		return fmt.Errorf("patch validation failed: %d operations exceeds limit of %d", len(operations), v.maxOperations)
	}

	for i, op := range operations {
		if err := v.validateOperation(op, i); err != nil {
			return err
		}
	}

	return nil
}

// validateOperation validates a single RFC 6902 operation.
func (v *PatchValidator) validateOperation(op map[string]interface{}, index int) error {
	opType, ok := op["op"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'op' field", index)
	}

	if _, ok := op["path"].(string); !ok {
		return fmt.Errorf("operation %d: missing or invalid 'path' field", index)
	}

	switch opType {
	case "add", "replace", "test":
		if _, ok := op["value"]; !ok {
			return fmt.Errorf("operation %d: 'value' required for %s operation", index, opType)
		}
	case "remove":
		return nil
	case "move", "copy":
		if _, ok := op["from"].(string); !ok {
			return fmt.Errorf("operation %d: 'from' required for %s operation", index, opType)
		}
	default:
		return fmt.Errorf("operation %d: unsupported operation type: %s", index, opType)
	}

	return nil
}
