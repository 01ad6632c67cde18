package model

import (
	"errors"
	"fmt"

	"mioforge/internal/gene"
	"mioforge/internal/tree"
)

// Location is the input slot a Param fills.
type Location string

const (
	LocationPath     Location = "path"
	LocationQuery    Location = "query"
	LocationHeader   Location = "header"
	LocationBody     Location = "body"
	LocationArgument Location = "argument"
	// LocationResponse marks values produced by the action rather than sent
	// with it. They are filled from execution results and never mutated.
	LocationResponse Location = "response"
)

var (
	ErrEmptyParam     = errors.New("param has no genes")
	ErrDescriptionSet = errors.New("param description already set")
)

// Param attaches one or more genes to an input slot of an action.
type Param struct {
	tree.Base
	name        string
	location    Location
	genes       []gene.Gene
	description string
}

func NewParam(name string, location Location, genes ...gene.Gene) (*Param, error) {
	if len(genes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyParam, name)
	}
	p := &Param{name: name, location: location, genes: append([]gene.Gene(nil), genes...)}
	for _, g := range p.genes {
		g.SetParent(p)
	}
	return p, nil
}

func (p *Param) Name() string        { return p.name }
func (p *Param) Location() Location  { return p.location }
func (p *Param) Description() string { return p.description }
func (p *Param) Primary() gene.Gene  { return p.genes[0] }
func (p *Param) Genes() []gene.Gene  { return append([]gene.Gene(nil), p.genes...) }
func (p *Param) IsResponse() bool    { return p.location == LocationResponse }
func (p *Param) Children() []tree.Node {
	out := make([]tree.Node, len(p.genes))
	for i, g := range p.genes {
		out[i] = g
	}
	return out
}

// SetDescription records the description once.
func (p *Param) SetDescription(description string) error {
	if p.description != "" {
		return fmt.Errorf("%w: %s", ErrDescriptionSet, p.name)
	}
	p.description = description
	return nil
}

func (p *Param) Copy() *Param {
	out := &Param{name: p.name, location: p.location, description: p.description, genes: make([]gene.Gene, len(p.genes))}
	for i, g := range p.genes {
		out.genes[i] = g.Copy()
		out.genes[i].SetParent(out)
	}
	return out
}

// Value renders the primary gene, or a JSON array when the param holds more
// than one gene.
func (p *Param) Value() string {
	if len(p.genes) == 1 {
		return p.genes[0].RawString()
	}
	values := make([]any, len(p.genes))
	for i, g := range p.genes {
		values[i] = gene.JSONValue(g)
	}
	return renderValues(values)
}

func (p *Param) size() int {
	total := 0
	for _, g := range p.genes {
		total += g.Size()
	}
	return total
}
