package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-batchtx/pkg/batchtx"
	"github.com/dd0wney/cluso-batchtx/pkg/constraints"
	"github.com/dd0wney/cluso-batchtx/pkg/storage"
	"github.com/dd0wney/cluso-batchtx/pkg/validation"
)

// Step operations
const (
	opCreateNode     = "create_node"
	opCreateEdge     = "create_edge"
	opSetProperty    = "set_property"
	opRemoveProperty = "remove_property"
	opAddLabel       = "add_label"
	opRemoveLabel    = "remove_label"
	opSetLabels      = "set_labels"
	opCommit         = "commit"
)

// Script is a mutation script
type Script struct {
	Constraints []ConstraintSpec `yaml:"constraints" validate:"dive"`
	Steps       []Step           `yaml:"steps" validate:"required,dive"`
}

// ConstraintSpec declares a property constraint on a label
type ConstraintSpec struct {
	Label    string   `yaml:"label" validate:"required"`
	Property string   `yaml:"property" validate:"required"`
	Types    []string `yaml:"types" validate:"dive,oneof=string int float bool bytes timestamp"`
	Required bool     `yaml:"required"`
	Unique   bool     `yaml:"unique"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Warning  bool     `yaml:"warning"`
}

// Step is one mutation. Nodes and edges created by the script are
// referenced by their ref names.
type Step struct {
	Op         string         `yaml:"op" validate:"required,oneof=create_node create_edge set_property remove_property add_label remove_label set_labels commit"`
	Ref        string         `yaml:"ref"`
	Node       string         `yaml:"node"`
	Edge       string         `yaml:"edge"`
	From       string         `yaml:"from"`
	To         string         `yaml:"to"`
	Type       string         `yaml:"type"`
	Weight     float64        `yaml:"weight"`
	Label      string         `yaml:"label"`
	Labels     []string       `yaml:"labels"`
	Key        string         `yaml:"key"`
	Value      any            `yaml:"value"`
	Properties map[string]any `yaml:"properties"`
}

// ParseScript decodes and validates a YAML script
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if err := validation.NewConfigValidator("script").Struct(s).Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScript reads a YAML script file
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return ParseScript(data)
}

// BuildConstraints converts the declared constraints
func (s *Script) BuildConstraints() ([]constraints.Constraint, error) {
	var out []constraints.Constraint
	for _, cs := range s.Constraints {
		if cs.Unique {
			out = append(out, &constraints.UniquePropertyConstraint{
				NodeLabel:   cs.Label,
				PropertyKey: cs.Property,
			})
		}
		if !cs.Required && len(cs.Types) == 0 && cs.Min == nil && cs.Max == nil {
			continue
		}

		pc := &constraints.PropertyConstraint{
			NodeLabel:    cs.Label,
			PropertyName: cs.Property,
			Required:     cs.Required,
			AsWarning:    cs.Warning,
		}
		for _, name := range cs.Types {
			vt, err := parseValueType(name)
			if err != nil {
				return nil, err
			}
			pc.Types = append(pc.Types, vt)
		}
		if cs.Min != nil {
			v := storage.FloatValue(*cs.Min)
			pc.Min = &v
		}
		if cs.Max != nil {
			v := storage.FloatValue(*cs.Max)
			pc.Max = &v
		}
		out = append(out, pc)
	}
	return out, nil
}

func parseValueType(name string) (storage.ValueType, error) {
	for _, vt := range []storage.ValueType{
		storage.TypeString, storage.TypeInt, storage.TypeFloat,
		storage.TypeBool, storage.TypeBytes, storage.TypeTimestamp,
	} {
		if vt.String() == name {
			return vt, nil
		}
	}
	return 0, fmt.Errorf("unknown value type %q", name)
}

// applier runs script steps against an inserter, resolving refs to IDs
type applier struct {
	ins   *batchtx.BatchInserter
	nodes map[string]uint64
	edges map[string]uint64
}

func newApplier(ins *batchtx.BatchInserter) *applier {
	return &applier{
		ins:   ins,
		nodes: make(map[string]uint64),
		edges: make(map[string]uint64),
	}
}

// Run applies every step in order, stopping at the first failure
func (a *applier) Run(steps []Step) error {
	for i, step := range steps {
		if err := a.apply(step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
	}
	return nil
}

func (a *applier) apply(step Step) error {
	switch step.Op {
	case opCreateNode:
		props, err := toProperties(step.Properties)
		if err != nil {
			return err
		}
		id, err := a.ins.CreateNode(step.Labels, props)
		if err != nil {
			return err
		}
		return a.bind(a.nodes, step.Ref, id)

	case opCreateEdge:
		from, err := a.node(step.From)
		if err != nil {
			return err
		}
		to, err := a.node(step.To)
		if err != nil {
			return err
		}
		props, err := toProperties(step.Properties)
		if err != nil {
			return err
		}
		id, err := a.ins.CreateEdge(from, to, step.Type, props, step.Weight)
		if err != nil {
			return err
		}
		return a.bind(a.edges, step.Ref, id)

	case opSetProperty:
		value, err := storage.ValueOf(step.Value)
		if err != nil {
			return err
		}
		kind, id, err := a.target(step)
		if err != nil {
			return err
		}
		if kind == storage.KindEdge {
			return a.ins.SetEdgeProperty(id, step.Key, value)
		}
		return a.ins.SetNodeProperty(id, step.Key, value)

	case opRemoveProperty:
		kind, id, err := a.target(step)
		if err != nil {
			return err
		}
		if kind == storage.KindEdge {
			return a.ins.RemoveEdgeProperty(id, step.Key)
		}
		return a.ins.RemoveNodeProperty(id, step.Key)

	case opAddLabel, opRemoveLabel, opSetLabels:
		id, err := a.node(step.Node)
		if err != nil {
			return err
		}
		switch step.Op {
		case opAddLabel:
			return a.ins.AddNodeLabel(id, step.Label)
		case opRemoveLabel:
			return a.ins.RemoveNodeLabel(id, step.Label)
		default:
			return a.ins.SetNodeLabels(id, step.Labels)
		}

	case opCommit:
		return a.ins.Flush()
	}
	return fmt.Errorf("unknown op %q", step.Op)
}

func (a *applier) bind(refs map[string]uint64, ref string, id uint64) error {
	if ref == "" {
		return nil
	}
	if _, exists := refs[ref]; exists {
		return fmt.Errorf("ref %q already defined", ref)
	}
	refs[ref] = id
	return nil
}

func (a *applier) node(ref string) (uint64, error) {
	id, ok := a.nodes[ref]
	if !ok {
		return 0, fmt.Errorf("unknown node ref %q", ref)
	}
	return id, nil
}

// target resolves the entity of a property step; exactly one of node and edge is set
func (a *applier) target(step Step) (storage.EntityKind, uint64, error) {
	switch {
	case step.Node != "" && step.Edge != "":
		return 0, 0, fmt.Errorf("both node and edge set")
	case step.Edge != "":
		id, ok := a.edges[step.Edge]
		if !ok {
			return 0, 0, fmt.Errorf("unknown edge ref %q", step.Edge)
		}
		return storage.KindEdge, id, nil
	default:
		id, err := a.node(step.Node)
		return storage.KindNode, id, err
	}
}

func toProperties(raw map[string]any) (map[string]storage.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	props := make(map[string]storage.Value, len(raw))
	for key, x := range raw {
		v, err := storage.ValueOf(x)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", key, err)
		}
		props[key] = v
	}
	return props, nil
}
