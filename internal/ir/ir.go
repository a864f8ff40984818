// Package ir defines the intent IR data model (spec.md §3, §6): the
// validated, structured plan the execution core acts on, plus the
// Observation record paired to each executed Step.
package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Guillhermm/zenus-os-sub000/internal/errkind"
)

// Risk enumerates a Step's blast radius, read-only through destructive.
type Risk int

const (
	RiskReadOnly Risk = iota
	RiskModify
	RiskSignificant
	RiskDestructive
)

// Valid reports whether r is one of the four defined risk levels.
func (r Risk) Valid() bool { return r >= RiskReadOnly && r <= RiskDestructive }

// Step is an atomic unit of execution, immutable once validated.
type Step struct {
	Tool   string         `json:"tool"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args"`
	Risk   Risk           `json:"risk"`
}

// IntentIR is a goal plan: an ordered list of Steps plus a confirmation flag.
type IntentIR struct {
	Goal                 string `json:"goal"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	Steps                []Step `json:"steps"`
}

// Outcome enumerates the terminal state of an executed Step.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Observation is the post-execution record paired to a Step.
type Observation struct {
	StepRef         int           `json:"step_ref"`
	Outcome         Outcome       `json:"outcome"`
	TruncatedStdout string        `json:"truncated_stdout"`
	Stderr          string        `json:"stderr"`
	ErrorKind       errkind.Kind  `json:"error_kind,omitempty"`
	ElapsedMs       int64         `json:"elapsed_ms"`
	ArgsDigest      string        `json:"args_digest"`
}

// MaxTruncatedStdout is the maximum retained stdout tail length (spec.md §3).
const MaxTruncatedStdout = 300

// TrimStdout trims s to at most MaxTruncatedStdout characters, keeping the
// tail (the most recently produced output is the most relevant for
// diagnosing a failure).
func TrimStdout(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= MaxTruncatedStdout {
		return s
	}
	return string(r[len(r)-MaxTruncatedStdout:])
}

// ArgsDigest computes a stable, order-independent digest of a Step's
// arguments for correlation in Observations and cache keys.
func ArgsDigest(args map[string]any) string {
	b, err := json.Marshal(sortedMap(args))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

func sortedMap(m map[string]any) map[string]any {
	// json.Marshal on a map[string]any already sorts keys, so this is an
	// identity pass-through kept for documentation: the ordering guarantee
	// is encoding/json's, not ours.
	return m
}

// schemaDoc is the JSON Schema for the IntentIR wire format (spec.md §6).
const schemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["goal", "requires_confirmation", "steps"],
  "properties": {
    "goal": {"type": "string"},
    "requires_confirmation": {"type": "boolean"},
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["tool", "action", "args", "risk"],
        "properties": {
          "tool": {"type": "string", "minLength": 1},
          "action": {"type": "string", "minLength": 1},
          "args": {"type": "object"},
          "risk": {"type": "integer", "minimum": 0, "maximum": 3}
        }
      }
    }
  }
}`

// Validator compiles the IntentIR JSON Schema once and validates wire
// payloads against it before they are decoded into IntentIR values.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the IntentIR JSON Schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaDoc))
	if err != nil {
		return nil, fmt.Errorf("unmarshal intent ir schema: %w", err)
	}
	const resourceURI = "zenus://ir/intent.json"
	if err := c.AddResource(resourceURI, doc); err != nil {
		return nil, fmt.Errorf("add intent ir schema resource: %w", err)
	}
	schema, err := c.Compile(resourceURI)
	if err != nil {
		return nil, fmt.Errorf("compile intent ir schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Decode validates the wire JSON against the compiled schema and, on
// success, unmarshals it into an IntentIR. Invalid documents return a
// *errkind.Classified with Kind schema (spec.md §6: "Invalid → SchemaError").
func (v *Validator) Decode(data []byte) (*IntentIR, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errkind.Wrap(errkind.Schema, "intent ir: invalid json", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, errkind.Wrap(errkind.Schema, "intent ir: schema validation failed", err)
	}
	var out IntentIR
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errkind.Wrap(errkind.Schema, "intent ir: decode failed", err)
	}
	for i, s := range out.Steps {
		if !s.Risk.Valid() {
			return nil, errkind.New(errkind.Schema, fmt.Sprintf("intent ir: step %d: risk %d out of range", i, s.Risk))
		}
	}
	return &out, nil
}

// ReflectionResult is the structured reflection payload produced by the
// Translator in reflection mode (spec.md §6).
type ReflectionResult struct {
	Achieved   bool     `json:"achieved"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	NextSteps  []string `json:"next_steps"`
}
