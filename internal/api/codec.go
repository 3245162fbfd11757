// Package api defines the request and response messages of the splitledger.v1
// services. Messages travel as JSON; amounts are decimal strings.
package api

import (
	"encoding/json"
	"fmt"
)

// Codec marshals messages as JSON. Registered under the name "json", it
// replaces connect's protobuf JSON codec for plain Go structs.
type Codec struct{}

func (Codec) Name() string { return "json" }

func (Codec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return data, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %T: %w", v, err)
	}
	return nil
}
