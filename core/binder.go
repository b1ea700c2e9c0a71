package core

import (
	"encoding/json"
	"fmt"
)

// Binder deserializes raw record bytes into a Go value.
// Implement this interface for custom serialization formats (Protobuf, Avro, etc.).
type Binder interface {
	Bind(data []byte, v any) error
}

// JSONBinder deserializes JSON record bodies.
type JSONBinder struct{}

func (JSONBinder) Bind(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("json: empty record body")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}
