package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeObject marshals doc and verifies it is a JSON object.
// json.RawMessage and []byte are taken as already encoded.
func EncodeObject(doc any) (json.RawMessage, error) {
	var raw []byte
	switch v := doc.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode document: %w", err)
		}
		raw = b
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("encode document: not a JSON object")
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("encode document: invalid JSON")
	}

	out := make(json.RawMessage, len(trimmed))
	copy(out, trimmed)
	return out, nil
}

// MergePatch overlays patch's top-level fields onto current.
func MergePatch(current json.RawMessage, patch any) (json.RawMessage, error) {
	patchRaw, err := EncodeObject(patch)
	if err != nil {
		return nil, err
	}

	base := map[string]json.RawMessage{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &base); err != nil {
			return nil, fmt.Errorf("merge patch: decode current: %w", err)
		}
	}
	overlay := map[string]json.RawMessage{}
	if err := json.Unmarshal(patchRaw, &overlay); err != nil {
		return nil, fmt.Errorf("merge patch: decode patch: %w", err)
	}

	for k, v := range overlay {
		base[k] = v
	}

	// encoding/json sorts map keys, so the merged document is canonical.
	merged, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("merge patch: encode: %w", err)
	}
	return merged, nil
}

// ScalarFields extracts the document's top-level string, number, and
// boolean fields as filterable values. Objects, arrays, and nulls are
// skipped.
func ScalarFields(data json.RawMessage) (map[string]string, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("scalar fields: %w", err)
	}

	out := make(map[string]string, len(fields))
	for k, raw := range fields {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		switch raw[0] {
		case '"':
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("scalar fields: %s: %w", k, err)
			}
			out[k] = s
		case '{', '[', 'n':
			// objects, arrays, and null are not filterable
		default:
			out[k] = string(raw)
		}
	}
	return out, nil
}

// Matches reports whether fields satisfy every entry in filter.
func Matches(fields map[string]string, filter Filter) bool {
	for k, want := range filter {
		got, ok := fields[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
