package schema

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ElementType is the value type of a leaf element. Containers have no type.
type ElementType string

const (
	TypeString    ElementType = "string"
	TypeAmount    ElementType = "amount"
	TypeInteger   ElementType = "integer"
	TypeYear      ElementType = "year"
	TypeDate      ElementType = "date"
	TypeTimestamp ElementType = "timestamp"
	TypeSSN       ElementType = "ssn"
	TypeEIN       ElementType = "ein"
	TypeBoolean   ElementType = "boolean"
	TypeEnum      ElementType = "enum"
	TypeCurrency  ElementType = "currency"
	TypeRate      ElementType = "rate"
)

// Element describes one element of a form body. Children are an ordered
// sequence; a document must present them in the same order.
type Element struct {
	Name     string      `yaml:"name"`
	Type     ElementType `yaml:"type,omitempty"`
	Required bool        `yaml:"required,omitempty"`
	Repeated bool        `yaml:"repeated,omitempty"`
	// Open containers accept any children; their content is checked elsewhere.
	Open     bool       `yaml:"open,omitempty"`
	Enum     []string   `yaml:"enum,omitempty"`
	Pattern  string     `yaml:"pattern,omitempty"`
	Children []*Element `yaml:"children,omitempty"`

	pattern *regexp.Regexp
}

// IsContainer reports whether the element holds child elements instead of text.
func (e *Element) IsContainer() bool {
	return e.Type == ""
}

// Definition is one registered schema: the element tree of a form type at a
// given schema version.
type Definition struct {
	FormType string   `yaml:"formType"`
	Version  string   `yaml:"version"`
	Root     *Element `yaml:"root"`
}

// ParseDefinition decodes and compiles a YAML schema source.
func ParseDefinition(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if def.Root == nil {
		return nil, fmt.Errorf("schema %s %s: missing root element", def.FormType, def.Version)
	}
	if def.Root.Name != def.FormType && def.FormType != envelopeType {
		return nil, fmt.Errorf("schema %s: root element is %q", def.FormType, def.Root.Name)
	}
	if err := compile(def.Root, def.Root.Name); err != nil {
		return nil, fmt.Errorf("schema %s %s: %w", def.FormType, def.Version, err)
	}
	return &def, nil
}

func compile(e *Element, path string) error {
	if e.Name == "" {
		return fmt.Errorf("%s: element without name", path)
	}
	if e.IsContainer() {
		if len(e.Enum) > 0 || e.Pattern != "" {
			return fmt.Errorf("%s: container cannot carry enum or pattern", path)
		}
		seen := make(map[string]bool, len(e.Children))
		for _, c := range e.Children {
			if seen[c.Name] {
				return fmt.Errorf("%s: duplicate child %q", path, c.Name)
			}
			seen[c.Name] = true
			if err := compile(c, path+"/"+c.Name); err != nil {
				return err
			}
		}
		return nil
	}

	if len(e.Children) > 0 {
		return fmt.Errorf("%s: leaf of type %s cannot have children", path, e.Type)
	}
	if _, ok := typeCheckers[e.Type]; !ok {
		return fmt.Errorf("%s: unknown type %q", path, e.Type)
	}
	if e.Type == TypeEnum && len(e.Enum) == 0 {
		return fmt.Errorf("%s: enum without values", path)
	}
	if e.Pattern != "" {
		re, err := regexp.Compile(e.Pattern)
		if err != nil {
			return fmt.Errorf("%s: pattern: %w", path, err)
		}
		e.pattern = re
	}
	return nil
}

func (e *Element) childIndex(name string, from int) int {
	if from >= len(e.Children) {
		return -1
	}
	i := slices.IndexFunc(e.Children[from:], func(c *Element) bool { return c.Name == name })
	if i < 0 {
		return -1
	}
	return from + i
}
