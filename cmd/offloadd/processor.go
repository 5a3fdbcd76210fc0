package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
)

// transform is the stock processor offloadd serves. A JSON object gains a
// "processed": true member, any other valid JSON is re-encoded compactly,
// and everything else has each byte incremented, saturating at 0xff.
func transform(_ context.Context, payload []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err == nil && !dec.More() {
		if obj, ok := v.(map[string]any); ok {
			obj["processed"] = true
		}
		if out, err := json.Marshal(v); err == nil {
			return out, nil
		}
		return bytes.Clone(payload), nil
	}

	out := make([]byte, len(payload))
	for i, b := range payload {
		if b < math.MaxUint8 {
			b++
		}
		out[i] = b
	}
	return out, nil
}
