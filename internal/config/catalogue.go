package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"mioforge/internal/gene"
	"mioforge/internal/model"
)

var ErrInvalidCatalogue = errors.New("invalid catalogue")

// CatalogueFile is the on-disk form of an action catalogue.
type CatalogueFile struct {
	Actions []ActionSpec `json:"actions" yaml:"actions"`
}

type ActionSpec struct {
	Kind      string      `json:"kind" yaml:"kind"`
	Scope     string      `json:"scope" yaml:"scope"`
	Operation string      `json:"operation" yaml:"operation"`
	Setup     bool        `json:"setup" yaml:"setup"`
	Params    []ParamSpec `json:"params" yaml:"params"`
}

type ParamSpec struct {
	Name     string   `json:"name" yaml:"name"`
	Location string   `json:"location" yaml:"location"`
	Gene     GeneSpec `json:"gene" yaml:"gene"`
}

// GeneSpec declares one gene. Which fields apply depends on Type.
type GeneSpec struct {
	Type      string     `json:"type" yaml:"type"`
	Name      string     `json:"name,omitempty" yaml:"name,omitempty"`
	Min       *float64   `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64   `json:"max,omitempty" yaml:"max,omitempty"`
	MinLength int        `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength int        `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Charset   string     `json:"charset,omitempty" yaml:"charset,omitempty"`
	Values    []string   `json:"values,omitempty" yaml:"values,omitempty"`
	Pattern   string     `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Examples  []string   `json:"examples,omitempty" yaml:"examples,omitempty"`
	Element   *GeneSpec  `json:"element,omitempty" yaml:"element,omitempty"`
	Fields    []GeneSpec `json:"fields,omitempty" yaml:"fields,omitempty"`
	MinSize   int        `json:"min_size,omitempty" yaml:"min_size,omitempty"`
	MaxSize   int        `json:"max_size,omitempty" yaml:"max_size,omitempty"`
}

const (
	defaultCharset   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	defaultMaxLength = 16
	defaultMaxSize   = 4
	defaultIntMax    = 1 << 16
)

var locations = map[model.Location]struct{}{
	model.LocationPath: {}, model.LocationQuery: {}, model.LocationHeader: {},
	model.LocationBody: {}, model.LocationArgument: {}, model.LocationResponse: {},
}

// LoadCatalogue reads a YAML or JSON catalogue and builds unrandomized
// action templates from it.
func LoadCatalogue(path string) ([]*model.Action, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	var file CatalogueFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".json":
		err = json.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalogue %s: %w", path, err)
	}
	return file.Build()
}

func (f CatalogueFile) Build() ([]*model.Action, error) {
	if len(f.Actions) == 0 {
		return nil, fmt.Errorf("%w: no actions", ErrInvalidCatalogue)
	}
	out := make([]*model.Action, 0, len(f.Actions))
	seen := make(map[string]struct{}, len(f.Actions))
	for i, spec := range f.Actions {
		a, err := spec.Build()
		if err != nil {
			return nil, fmt.Errorf("%w: action %d: %v", ErrInvalidCatalogue, i, err)
		}
		if _, dup := seen[a.ID()]; dup {
			return nil, fmt.Errorf("%w: duplicate action %s", ErrInvalidCatalogue, a.ID())
		}
		seen[a.ID()] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}

func (s ActionSpec) Build() (*model.Action, error) {
	kind, err := model.KindByName(s.Kind)
	if err != nil {
		return nil, err
	}
	params := make([]*model.Param, 0, len(s.Params))
	for _, ps := range s.Params {
		if ps.Name == "" {
			return nil, errors.New("param without name")
		}
		spec := ps.Gene
		if spec.Name == "" {
			spec.Name = ps.Name
		}
		g, err := spec.Build()
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", ps.Name, err)
		}
		loc := model.Location(strings.ToLower(ps.Location))
		if _, ok := locations[loc]; !ok {
			return nil, fmt.Errorf("param %s: unknown location %q", ps.Name, ps.Location)
		}
		p, err := model.NewParam(ps.Name, loc, g)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return model.NewAction(kind, model.Identity{Scope: s.Scope, Operation: s.Operation}, s.Setup, params...)
}

// Build constructs the gene. Missing bounds fall back to small defaults.
func (s GeneSpec) Build() (gene.Gene, error) {
	if s.Name == "" {
		return nil, errors.New("gene without name")
	}
	switch strings.ToLower(s.Type) {
	case "boolean", "bool":
		return gene.NewBoolean(s.Name), nil
	case "integer", "int":
		lo, hi := s.bounds(0, defaultIntMax)
		if lo > hi {
			return nil, fmt.Errorf("gene %s: min %v above max %v", s.Name, lo, hi)
		}
		return gene.NewInteger(s.Name, int64(lo), int64(hi)), nil
	case "float", "number":
		lo, hi := s.bounds(0, 1)
		if lo > hi {
			return nil, fmt.Errorf("gene %s: min %v above max %v", s.Name, lo, hi)
		}
		return gene.NewFloat(s.Name, lo, hi), nil
	case "enum":
		if len(s.Values) == 0 {
			return nil, fmt.Errorf("gene %s: enum needs values", s.Name)
		}
		return gene.NewEnum(s.Name, s.Values...), nil
	case "string":
		charset, maxLen := s.Charset, s.MaxLength
		if charset == "" {
			charset = defaultCharset
		}
		if maxLen == 0 {
			maxLen = defaultMaxLength
		}
		if s.MinLength < 0 || s.MinLength > maxLen {
			return nil, fmt.Errorf("gene %s: bad length range [%d,%d]", s.Name, s.MinLength, maxLen)
		}
		return gene.NewString(s.Name, s.MinLength, maxLen, charset).WithExamples(s.Examples...), nil
	case "regex":
		return gene.NewRegex(s.Name, s.Pattern)
	case "optional":
		inner, err := s.child()
		if err != nil {
			return nil, err
		}
		return gene.NewOptional(s.Name, inner), nil
	case "array":
		elem, err := s.child()
		if err != nil {
			return nil, err
		}
		maxSize := s.MaxSize
		if maxSize == 0 {
			maxSize = defaultMaxSize
		}
		if s.MinSize < 0 || s.MinSize > maxSize {
			return nil, fmt.Errorf("gene %s: bad size range [%d,%d]", s.Name, s.MinSize, maxSize)
		}
		return gene.NewArray(s.Name, elem, s.MinSize, maxSize), nil
	case "map":
		elem, err := s.child()
		if err != nil {
			return nil, err
		}
		maxSize := s.MaxSize
		if maxSize == 0 {
			maxSize = defaultMaxSize
		}
		return gene.NewMap(s.Name, elem, maxSize), nil
	case "object":
		fields := make([]gene.Gene, 0, len(s.Fields))
		for _, fs := range s.Fields {
			f, err := fs.Build()
			if err != nil {
				return nil, fmt.Errorf("object %s: %w", s.Name, err)
			}
			fields = append(fields, f)
		}
		return gene.NewObject(s.Name, fields...), nil
	default:
		return nil, fmt.Errorf("gene %s: unknown type %q", s.Name, s.Type)
	}
}

func (s GeneSpec) bounds(lo, hi float64) (float64, float64) {
	if s.Min != nil {
		lo = *s.Min
	}
	if s.Max != nil {
		hi = *s.Max
	}
	return lo, hi
}

// child builds the element of a container gene, naming it after the
// container when the declaration leaves the name out.
func (s GeneSpec) child() (gene.Gene, error) {
	if s.Element == nil {
		return nil, fmt.Errorf("gene %s: %s needs an element", s.Name, s.Type)
	}
	elem := *s.Element
	if elem.Name == "" {
		elem.Name = s.Name
	}
	return elem.Build()
}
