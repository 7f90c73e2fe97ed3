// Package model defines trace definitions, the persisted unit of the catalog.
//
// A TraceDefinition names a tracer job: which tracer to attach, to what, and
// for how many iterations. Content is a closed sum type with two variants,
// SystemTap and PerfBranch; both encode as a tagged union so records are
// self-describing on disk and on the wire:
//
//	{"method":"PerfBranch","content":{"frequency":{"frequency_mode":"Max"}, ...}}
package model

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Upper bounds that keep iteration budgets and intervals representable as
// int64 counters and time.Duration values.
const (
	MaxIterations uint64 = math.MaxInt64
	MaxInterval   uint64 = uint64(math.MaxInt64 / int64(time.Millisecond))
)

// TraceDefinition is a named tracing job stored in the catalog.
type TraceDefinition struct {
	// Name is the catalog key. It is immutable once created.
	Name string `validate:"required,max=128,tracename"`
	// Lasting is the iteration budget of one execution.
	Lasting uint `validate:"lte=9223372036854775807"`
	// Interval is the spacing between iterations, in milliseconds.
	Interval uint `validate:"gt=0,lte=9223372036854"`
	// Content selects the tracer and its target.
	Content Content `validate:"-"`
}

// Content is implemented by *SystemTap and *PerfBranch.
type Content interface {
	// Method is the tag written next to the variant payload.
	Method() string
	clone() Content
	isContent()
}

// Variant tags.
const (
	MethodSystemTap  = "SystemTap"
	MethodPerfBranch = "PerfBranch"
)

// SystemTap attaches stap probes to functions of a process.
type SystemTap struct {
	FunctionList []string `json:"function_list" yaml:"function_list" validate:"min=1,dive,required"`
	Process      string   `json:"process" yaml:"process" validate:"required"`
	Args         []string `json:"args" yaml:"args"`
	Envs         []Env    `json:"envs" yaml:"envs" validate:"dive"`
}

// PerfBranch samples taken branches of a program with perf.
type PerfBranch struct {
	Frequency      Frequency `json:"frequency" yaml:"frequency"`
	AbsolutePath   string    `json:"absolute_path" yaml:"absolute_path" validate:"required,startswith=/"`
	AdditionalArgs []string  `json:"additional_args" yaml:"additional_args"`
}

// Env is one KEY=VALUE pair handed to the traced process.
type Env struct {
	Key   string `validate:"required"`
	Value string
}

func (*SystemTap) Method() string  { return MethodSystemTap }
func (*PerfBranch) Method() string { return MethodPerfBranch }

func (*SystemTap) isContent()  {}
func (*PerfBranch) isContent() {}

func (s *SystemTap) clone() Content {
	c := *s
	c.FunctionList = slices.Clone(s.FunctionList)
	c.Args = slices.Clone(s.Args)
	c.Envs = slices.Clone(s.Envs)
	return &c
}

func (p *PerfBranch) clone() Content {
	c := *p
	c.AdditionalArgs = slices.Clone(p.AdditionalArgs)
	return &c
}

// DefaultContent is used when a record carries no content.
func DefaultContent() Content {
	return &PerfBranch{Frequency: FrequencyDefault()}
}

// Clone returns a deep copy. Definitions cross goroutine boundaries by copy,
// so no two owners ever alias the same slices.
func (d TraceDefinition) Clone() TraceDefinition {
	c := d
	if d.Content != nil {
		c.Content = d.Content.clone()
	}
	return c
}

// FrequencyMode selects how perf chooses its sampling rate.
type FrequencyMode string

const (
	FrequencyModeMax      FrequencyMode = "Max"
	FrequencyModeDefault  FrequencyMode = "Default"
	FrequencyModeSpecific FrequencyMode = "Specific"
)

// Frequency is the sampling rate of a PerfBranch trace. The zero value is
// the Default mode.
type Frequency struct {
	Mode FrequencyMode
	// Value is only meaningful for FrequencyModeSpecific.
	Value uint
}

func FrequencyMax() Frequency     { return Frequency{Mode: FrequencyModeMax} }
func FrequencyDefault() Frequency { return Frequency{Mode: FrequencyModeDefault} }

func FrequencySpecific(n uint) Frequency {
	return Frequency{Mode: FrequencyModeSpecific, Value: n}
}

// Normalized maps the empty mode onto Default.
func (f Frequency) Normalized() Frequency {
	if f.Mode == "" {
		return FrequencyDefault()
	}
	if f.Mode != FrequencyModeSpecific {
		f.Value = 0
	}
	return f
}

func (f Frequency) String() string {
	f = f.Normalized()
	if f.Mode == FrequencyModeSpecific {
		return fmt.Sprintf("%s(%d)", f.Mode, f.Value)
	}
	return string(f.Mode)
}
