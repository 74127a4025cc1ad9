package sqlite

import (
	"encoding/json"
	"fmt"
)

// encodeJSON marshals v for a TEXT column holding JSON, mapping nil to
// the given empty literal so columns never hold SQL NULL.
func encodeJSON(v any, empty string) ([]byte, error) {
	if v == nil {
		return []byte(empty), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return data, nil
}

// decodeJSON unmarshals a JSON column into out, tolerating empty
// columns.
func decodeJSON(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
