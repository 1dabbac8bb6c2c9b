package model

import (
	"encoding/json"
	"fmt"
)

// OutputValue is the value an engine bound to one workflow output name.
// Exactly one of Location or Shards is set: a scalar output is a single
// location (optionally accompanied by secondary files such as indexes),
// a sharded output is an ordered sequence of values (e.g. scatter results).
type OutputValue struct {
	Location    string        `json:"location,omitempty"`
	Secondaries []OutputValue `json:"secondaryFiles,omitempty"`
	Shards      []OutputValue `json:"shards,omitempty"`
}

// IsSharded reports whether the value is an ordered shard sequence.
func (v OutputValue) IsSharded() bool { return len(v.Shards) > 0 }

// DecodeOutputValue parses one engine output value. Engines encode a scalar
// as a JSON string, shards as an array, and a file with secondaries as an
// object {"location": ..., "secondaryFiles": [...]}.
func DecodeOutputValue(raw json.RawMessage) (OutputValue, error) {
	var loc string
	if err := json.Unmarshal(raw, &loc); err == nil {
		return OutputValue{Location: loc}, nil
	}

	var shards []json.RawMessage
	if err := json.Unmarshal(raw, &shards); err == nil {
		out := OutputValue{}
		for i, s := range shards {
			v, err := DecodeOutputValue(s)
			if err != nil {
				return OutputValue{}, fmt.Errorf("shard %d: %w", i, err)
			}
			out.Shards = append(out.Shards, v)
		}
		return out, nil
	}

	var obj struct {
		Location    string            `json:"location"`
		Secondaries []json.RawMessage `json:"secondaryFiles"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Location != "" {
		out := OutputValue{Location: obj.Location}
		for i, s := range obj.Secondaries {
			v, err := DecodeOutputValue(s)
			if err != nil {
				return OutputValue{}, fmt.Errorf("secondary %d: %w", i, err)
			}
			out.Secondaries = append(out.Secondaries, v)
		}
		return out, nil
	}

	return OutputValue{}, fmt.Errorf("unrecognised output value: %s", string(raw))
}

// DecodeOutputs parses a full name-to-value output mapping.
func DecodeOutputs(raw map[string]json.RawMessage) (map[string]OutputValue, error) {
	out := make(map[string]OutputValue, len(raw))
	for name, rv := range raw {
		v, err := DecodeOutputValue(rv)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}
