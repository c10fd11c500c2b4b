package razorpay

import (
	"encoding/json"
	"fmt"
)

// Notes is the gateway's free-form key/value map. Entities without notes carry
// an empty JSON array instead of an object, and values are not always strings.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		var list []any
		if json.Unmarshal(data, &list) != nil || len(list) > 0 {
			return fmt.Errorf("notes: %w", err)
		}
		*n = nil
		return nil
	}
	if fields == nil {
		*n = nil
		return nil
	}
	out := make(Notes, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	*n = out
	return nil
}
