package model

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// definitionJSON is the on-disk and on-wire layout of a TraceDefinition.
type definitionJSON struct {
	Name     string       `json:"name"`
	Lasting  uint         `json:"lasting"`
	Interval uint         `json:"interval"`
	Content  *envelopeRaw `json:"content,omitempty"`
}

type envelopeRaw struct {
	Method  string          `json:"method"`
	Content json.RawMessage `json:"content"`
}

// MarshalJSON writes content as {"method": ..., "content": ...}.
func (d TraceDefinition) MarshalJSON() ([]byte, error) {
	content := d.Content
	if content == nil {
		content = DefaultContent()
	}
	payload, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(definitionJSON{
		Name:     d.Name,
		Lasting:  d.Lasting,
		Interval: d.Interval,
		Content:  &envelopeRaw{Method: content.Method(), Content: payload},
	})
}

// UnmarshalJSON reads the tagged layout written by MarshalJSON.
func (d *TraceDefinition) UnmarshalJSON(data []byte) error {
	var wire definitionJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	d.Name = wire.Name
	d.Lasting = wire.Lasting
	d.Interval = wire.Interval
	if wire.Content == nil {
		d.Content = DefaultContent()
		return nil
	}
	content, err := newContent(wire.Content.Method)
	if err != nil {
		return err
	}
	if len(wire.Content.Content) > 0 && string(wire.Content.Content) != "null" {
		if err := json.Unmarshal(wire.Content.Content, content); err != nil {
			return fmt.Errorf("decoding %s content: %w", wire.Content.Method, err)
		}
	}
	d.Content = content
	return nil
}

func newContent(method string) (Content, error) {
	switch method {
	case MethodSystemTap:
		return &SystemTap{}, nil
	case MethodPerfBranch:
		return &PerfBranch{Frequency: FrequencyDefault()}, nil
	default:
		return nil, fmt.Errorf("unknown trace method %q", method)
	}
}

type frequencyJSON struct {
	Mode  FrequencyMode `json:"frequency_mode" yaml:"frequency_mode"`
	Value *uint         `json:"value,omitempty" yaml:"value,omitempty"`
}

func (f Frequency) wire() frequencyJSON {
	f = f.Normalized()
	w := frequencyJSON{Mode: f.Mode}
	if f.Mode == FrequencyModeSpecific {
		v := f.Value
		w.Value = &v
	}
	return w
}

func (f *Frequency) fromWire(w frequencyJSON) error {
	switch w.Mode {
	case FrequencyModeMax, FrequencyModeDefault, "":
		*f = Frequency{Mode: w.Mode}.Normalized()
	case FrequencyModeSpecific:
		if w.Value == nil {
			return fmt.Errorf("frequency mode Specific requires a value")
		}
		*f = FrequencySpecific(*w.Value)
	default:
		return fmt.Errorf("unknown frequency mode %q", w.Mode)
	}
	return nil
}

func (f Frequency) MarshalJSON() ([]byte, error) { return json.Marshal(f.wire()) }

func (f *Frequency) UnmarshalJSON(data []byte) error {
	var w frequencyJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return f.fromWire(w)
}

func (f Frequency) MarshalYAML() (any, error) { return f.wire(), nil }

func (f *Frequency) UnmarshalYAML(node *yaml.Node) error {
	var w frequencyJSON
	if err := node.Decode(&w); err != nil {
		return err
	}
	return f.fromWire(w)
}

// Env pairs encode as two-element arrays: ["KEY", "VALUE"].

func (e Env) MarshalJSON() ([]byte, error) { return json.Marshal([2]string{e.Key, e.Value}) }

func (e *Env) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("env must be a [key, value] pair: %w", err)
	}
	e.Key, e.Value = pair[0], pair[1]
	return nil
}

func (e Env) MarshalYAML() (any, error) { return []string{e.Key, e.Value}, nil }

func (e *Env) UnmarshalYAML(node *yaml.Node) error {
	var pair []string
	if err := node.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("line %d: env must be a [key, value] pair", node.Line)
	}
	e.Key, e.Value = pair[0], pair[1]
	return nil
}

// Encode serializes d for storage.
func Encode(d TraceDefinition) ([]byte, error) {
	return json.Marshal(d)
}

// Decode parses a stored record.
func Decode(data []byte) (TraceDefinition, error) {
	var d TraceDefinition
	err := json.Unmarshal(data, &d)
	return d, err
}
