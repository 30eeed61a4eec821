// Package template holds captured analytics requests and persists them
// between a capture run and a later replay run.
package template

import (
	"bytes"
	"encoding/json"

	"github.com/gyaneshwarpardhi/eventsynth/internal/codec"
)

// Template is one captured outbound analytics request. It is created once
// during capture and never mutated afterwards; replay works on copies.
type Template struct {
	PathID        string         `json:"path_id"`
	SequenceOrder int            `json:"sequence_order"`
	BaseURL       string         `json:"base_url"`
	QueryParams   Params         `json:"query_params"`
	DecodedEvents []codec.Record `json:"decoded_events"`
	TimingDelayMs int            `json:"timing_delay_ms"` // delay from the previous template in the same path
}

// EventsCopy returns a deep copy of the decoded events safe for mutation.
func (t Template) EventsCopy() []codec.Record {
	out := make([]codec.Record, len(t.DecodedEvents))
	for i, ev := range t.DecodedEvents {
		out[i] = cloneValue(ev).(codec.Record)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, vv := range x {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// UnmarshalJSON keeps numbers inside events as json.Number, matching what
// codec.Decode produces at capture time.
func (t *Template) UnmarshalJSON(data []byte) error {
	type plain Template
	var p plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	if p.DecodedEvents == nil {
		p.DecodedEvents = []codec.Record{}
	}
	*t = Template(p)
	return nil
}
