package webhook

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/flamehq/flame-node-sdk/common/broker"
)

func decodeMessage(body io.Reader) (broker.Message, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return broker.Message{}, fmt.Errorf("read webhook body: %w", err)
	}

	var msg broker.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return broker.Message{}, fmt.Errorf("decode webhook message: %w", err)
	}
	return msg, nil
}
