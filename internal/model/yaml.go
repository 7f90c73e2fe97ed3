package model

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

type definitionYAML struct {
	Name     string        `yaml:"name"`
	Lasting  uint          `yaml:"lasting"`
	Interval uint          `yaml:"interval"`
	Content  *envelopeYAML `yaml:"content,omitempty"`
}

type envelopeYAML struct {
	Method  string    `yaml:"method"`
	Content yaml.Node `yaml:"content"`
}

// MarshalYAML uses the same method/content tagging as the JSON encoding.
func (d TraceDefinition) MarshalYAML() (any, error) {
	content := d.Content
	if content == nil {
		content = DefaultContent()
	}
	var node yaml.Node
	if err := node.Encode(content); err != nil {
		return nil, err
	}
	return definitionYAML{
		Name:     d.Name,
		Lasting:  d.Lasting,
		Interval: d.Interval,
		Content:  &envelopeYAML{Method: content.Method(), Content: node},
	}, nil
}

func (d *TraceDefinition) UnmarshalYAML(node *yaml.Node) error {
	var wire definitionYAML
	if err := node.Decode(&wire); err != nil {
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
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	if wire.Content.Content.Kind != 0 {
		if err := wire.Content.Content.Decode(content); err != nil {
			return fmt.Errorf("decoding %s content: %w", wire.Content.Method, err)
		}
	}
	d.Content = content
	return nil
}

// ParseYAML reads one definition, as written by the editor template.
func ParseYAML(data []byte) (TraceDefinition, error) {
	var d TraceDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return TraceDefinition{}, err
	}
	return d, nil
}

// MarshalYAMLBytes renders d with two-space indentation.
func MarshalYAMLBytes(d TraceDefinition) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const templateHeader = `# New trace definition.
# method: SystemTap  -> content: {function_list, process, args, envs}
# method: PerfBranch -> content: {frequency: {frequency_mode: Max|Default|Specific, value}, absolute_path, additional_args}
# interval is in milliseconds; lasting is the number of iterations.
`

// Template returns an editable YAML skeleton for a new definition.
func Template(name string) []byte {
	d := TraceDefinition{
		Name:     name,
		Lasting:  10,
		Interval: 1000,
		Content: &PerfBranch{
			Frequency:      FrequencyDefault(),
			AbsolutePath:   "/usr/bin/true",
			AdditionalArgs: []string{},
		},
	}
	body, err := MarshalYAMLBytes(d)
	if err != nil {
		panic("model: rendering template: " + err.Error())
	}
	return append([]byte(templateHeader), body...)
}
