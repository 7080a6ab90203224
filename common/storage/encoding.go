package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"strconv"
)

func init() {
	// Register the concrete shapes intermediate analysis data actually takes
	// (aggregated stats, weight vectors, raw numbers) so gob can decode a
	// self-describing value back into `any` without the caller naming a type.
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]float64{})
	gob.Register(float64(0))
	gob.Register(int64(0))
	gob.Register("")
	gob.Register([]byte{})
	gob.Register(true)
}

// encode renders result according to outputType. Local differential privacy
// overrides everything else: it requires a finite numeric final result and
// always writes it as a decimal string, regardless of outputType. When a
// requested str/bytes encoding fails, encode falls back to the
// self-describing codec and logs a warning, matching push's original
// behavior of never losing a result to a format mismatch.
func (c *Client) encode(result any, outputType OutputType, localDP *LocalDPParams) ([]byte, OutputType, error) {
	if localDP != nil {
		return c.encodeLocalDP(result, outputType, localDP)
	}

	body, err := encodePrimary(result, outputType)
	if err == nil {
		return body, outputType, nil
	}
	if outputType == OutputSelfDescribing {
		return nil, "", fmt.Errorf("encode as self-describing: %w", err)
	}

	c.log.Warn("storage: primary encoding failed, falling back to self-describing", "requested", outputType, "error", err)
	body, gerr := encodeGob(result)
	if gerr != nil {
		return nil, "", fmt.Errorf("fallback self-describing encode also failed: %w", gerr)
	}
	return body, OutputSelfDescribing, nil
}

func (c *Client) encodeLocalDP(result any, outputType OutputType, params *LocalDPParams) ([]byte, OutputType, error) {
	if params.Epsilon <= 0 || params.Sensitivity <= 0 {
		return nil, "", fmt.Errorf("local differential privacy requires epsilon and sensitivity > 0")
	}
	value, ok := toFinite(result)
	if !ok {
		return nil, "", fmt.Errorf("local differential privacy can only be applied to numeric values")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, "", fmt.Errorf("local differential privacy result is not finite")
	}
	if outputType != OutputString {
		c.log.Warn("storage: local differential privacy forces string output", "requested", outputType)
	}
	return []byte(strconv.FormatFloat(value, 'g', -1, 64)), OutputString, nil
}

func encodePrimary(result any, outputType OutputType) ([]byte, error) {
	switch outputType {
	case OutputString:
		if s, ok := result.(string); ok {
			return []byte(s), nil
		}
		return []byte(fmt.Sprintf("%v", result)), nil
	case OutputBytes:
		b, ok := result.([]byte)
		if !ok {
			return nil, fmt.Errorf("output type bytes requires a []byte result, got %T", result)
		}
		return b, nil
	default:
		return encodeGob(result)
	}
}

func encodeGob(result any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&result); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSelfDescribing(data []byte) (any, error) {
	var result any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&result); err != nil {
		return nil, fmt.Errorf("storage: decode self-describing value: %w", err)
	}
	return result, nil
}
